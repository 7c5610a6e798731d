package peer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/1mmey/SecurityChat/internal/interfaces"
	"github.com/1mmey/SecurityChat/internal/logger"
	"github.com/1mmey/SecurityChat/internal/metrics"
	"github.com/1mmey/SecurityChat/internal/models"
)

var (
	// ErrConnectTimeout is returned when a peer connection attempt exceeds
	// the fixed connect timeout.
	ErrConnectTimeout = errors.New("peer connect timed out")

	// ErrNotStarted is returned when the channel is used before Start.
	ErrNotStarted = errors.New("peer channel is not started")
)

const (
	connectTimeout   = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Channel manages direct peer connections keyed by username. Connections
// are created lazily on first outbound send or inbound accept; frames are
// newline-delimited JSON over TCP, with endpoints found via the resolver
// chain (LAN discovery first, rendezvous service as fallback).
type Channel struct {
	logger     *logger.Logger
	directory  interfaces.Directory
	dispatcher interfaces.Dispatcher

	localUsername string
	localAddress  string
	listenPort    int

	signaling *SignalingClient
	resolvers []interfaces.EndpointResolver

	listener net.Listener
	conns    map[string]*peerConn
	queue    *OutboundQueue
	mutex    sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// peerConn is one per-counterpart connection. ready is closed once the
// connection leaves the connecting state, so concurrent ConnectToUser
// calls join the same attempt instead of opening a second connection.
type peerConn struct {
	username string
	state    models.ConnState
	conn     net.Conn
	ready    chan struct{}
	err      error
	writeMu  sync.Mutex
}

// NewChannel creates a stopped peer channel for the local user. signaling
// may be shared with the resolver chain; resolvers are consulted in order.
func NewChannel(localUsername string, listenPort int, signaling *SignalingClient, resolvers []interfaces.EndpointResolver, dir interfaces.Directory, disp interfaces.Dispatcher, log *logger.Logger) *Channel {
	return &Channel{
		logger:        log.WithComponent("peer-channel"),
		directory:     dir,
		dispatcher:    disp,
		localUsername: localUsername,
		localAddress:  dir.DerivePeerAddress(localUsername),
		listenPort:    listenPort,
		signaling:     signaling,
		resolvers:     resolvers,
		conns:         make(map[string]*peerConn),
		queue:         NewOutboundQueue(),
	}
}

var _ interfaces.PeerChannel = (*Channel)(nil)

// Start brings up the TCP listener for inbound peer connections and
// registers the local address with the rendezvous service. A substrate
// failure is not fatal: the signaling client retries on its own schedule.
func (c *Channel) Start(ctx context.Context) error {
	c.mutex.Lock()
	if c.started {
		c.mutex.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", c.listenPort))
	if err != nil {
		c.mutex.Unlock()
		return fmt.Errorf("failed to start peer listener: %w", err)
	}
	c.listener = listener
	c.started = true
	port := listener.Addr().(*net.TCPAddr).Port
	c.mutex.Unlock()

	c.logger.Info("Peer transport listening", "address", c.localAddress, "port", port)

	if c.signaling != nil {
		c.signaling.SetAdvertised(localIP(), port)
		if err := c.signaling.Connect(); err != nil {
			c.logger.Warn("Rendezvous service unavailable, will retry", "error", err)
		}
	}

	go c.acceptLoop(listener)
	return nil
}

// ConnectToUser establishes a connection to a counterpart. Idempotent: an
// open connection is reused, a pending attempt is joined, a stale entry is
// discarded before a new attempt.
func (c *Channel) ConnectToUser(ctx context.Context, username string) error {
	c.mutex.Lock()
	if !c.started {
		c.mutex.Unlock()
		return ErrNotStarted
	}
	if existing, ok := c.conns[username]; ok {
		switch existing.state {
		case models.StateOpen:
			c.mutex.Unlock()
			return nil
		case models.StateConnecting:
			c.mutex.Unlock()
			select {
			case <-existing.ready:
				return existing.err
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			// Stale non-open entry, discard before reconnecting
			delete(c.conns, username)
		}
	}

	pc := &peerConn{username: username, state: models.StateConnecting, ready: make(chan struct{})}
	c.conns[username] = pc
	c.mutex.Unlock()

	address := c.directory.DerivePeerAddress(username)
	c.logger.Info("Connecting to peer", "counterpart", username, "address", address)

	endpoint, err := c.resolveEndpoint(ctx, address)
	if err != nil {
		return c.failConnect(pc, fmt.Errorf("failed to locate %s: %w", username, err))
	}

	conn, err := net.DialTimeout("tcp", endpoint, connectTimeout)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return c.failConnect(pc, fmt.Errorf("%w: %s", ErrConnectTimeout, username))
		}
		return c.failConnect(pc, fmt.Errorf("failed to dial %s at %s: %w", username, endpoint, err))
	}

	hello := models.NewPeerHello(c.localUsername, c.localAddress)
	if err := writeFrame(conn, hello); err != nil {
		conn.Close()
		return c.failConnect(pc, fmt.Errorf("handshake with %s failed: %w", username, err))
	}

	c.openConn(pc, conn, address)
	go c.readFrames(pc, bufio.NewScanner(conn))
	return nil
}

// Send delivers content to a counterpart over an open connection,
// attempting a connect first when none exists. On connect failure the
// message is queued for replay, recorded in history as failed, and the
// error surfaces to the caller.
func (c *Channel) Send(username, content string) error {
	c.mutex.Lock()
	started := c.started
	pc, open := c.conns[username]
	open = open && pc.state == models.StateOpen
	c.mutex.Unlock()

	if !started {
		return ErrNotStarted
	}

	if !open {
		ctx, cancel := context.WithTimeout(c.ctx, connectTimeout)
		err := c.ConnectToUser(ctx, username)
		cancel()
		if err != nil {
			c.queueFailed(username, content)
			return fmt.Errorf("message queued for %s: %w", username, err)
		}
		c.mutex.Lock()
		pc, open = c.conns[username]
		open = open && pc.state == models.StateOpen
		c.mutex.Unlock()
		if !open {
			c.queueFailed(username, content)
			return fmt.Errorf("message queued for %s: connection closed during send", username)
		}
	}

	envelope := models.NewSentEnvelope(username, content, models.ChannelPeer, models.StatusDelivered)
	frame := models.NewPeerMessage(envelope.ID, c.localUsername, username, content)
	if err := pc.write(frame); err != nil {
		c.closeConn(pc)
		c.queueFailed(username, content)
		return fmt.Errorf("message queued for %s: %w", username, err)
	}

	c.dispatcher.Append(username, envelope)
	metrics.IncMessage("peer", "sent")
	c.logger.Debug("Message sent via peer channel", "counterpart", username, "id", envelope.ID)
	return nil
}

// ConnectionState reports the per-counterpart connection state.
func (c *Channel) ConnectionState(username string) models.ConnState {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if pc, ok := c.conns[username]; ok {
		return pc.state
	}
	return models.StateAbsent
}

// QueuedCount returns the number of messages queued for a counterpart.
func (c *Channel) QueuedCount(username string) int {
	return c.queue.Len(username)
}

// DisconnectAll closes every peer connection, clears all mappings, and
// releases the shared transport. Idempotent.
func (c *Channel) DisconnectAll() {
	c.mutex.Lock()
	if !c.started {
		c.mutex.Unlock()
		return
	}
	c.started = false
	for _, pc := range c.conns {
		if pc.conn != nil {
			pc.write(&models.PeerFrame{ID: models.NewEnvelopeID("bye"), Type: models.PeerFrameBye, Sender: c.localUsername, Timestamp: time.Now()})
			if pc.state == models.StateOpen {
				metrics.DecPeerConnections()
			}
			pc.state = models.StateClosed
			pc.conn.Close()
		}
	}
	c.conns = make(map[string]*peerConn)
	listener := c.listener
	c.listener = nil
	c.mutex.Unlock()

	c.queue.Clear()

	if listener != nil {
		listener.Close()
	}
	if c.signaling != nil {
		c.signaling.Close()
	}
	if c.cancel != nil {
		c.cancel()
	}

	c.logger.Info("All peer connections closed")
}

// acceptLoop accepts inbound peer connections unconditionally.
func (c *Channel) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				c.mutex.Lock()
				running := c.started
				c.mutex.Unlock()
				if running {
					c.logger.Error("Error accepting peer connection", "error", err)
				}
			}
			return
		}
		go c.handleIncoming(conn)
	}
}

// handleIncoming performs the inbound side of the handshake: the first
// frame must be a hello carrying the remote deterministic address, from
// which the counterpart's username is recovered.
func (c *Channel) handleIncoming(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		conn.Close()
		return
	}

	var hello models.PeerFrame
	if err := json.Unmarshal(scanner.Bytes(), &hello); err != nil || hello.Type != models.PeerFrameHello {
		c.logger.Warn("Invalid peer handshake", "remote", conn.RemoteAddr().String())
		conn.Close()
		return
	}

	username := hello.Sender
	if username == "" {
		username = c.directory.UsernameFromPeerAddress(hello.Address)
	}
	address := hello.Address
	if address == "" {
		address = c.directory.DerivePeerAddress(username)
	}

	c.logger.Info("Inbound peer connection", "counterpart", username, "address", address)

	c.mutex.Lock()
	if existing, ok := c.conns[username]; ok && existing.conn != nil {
		// Stale entry replaced by the fresh inbound connection. Its read
		// loop observes the close and cleans up via closeConn.
		existing.conn.Close()
	}
	pc := &peerConn{username: username, state: models.StateConnecting, ready: make(chan struct{})}
	c.conns[username] = pc
	c.mutex.Unlock()

	c.openConn(pc, conn, address)
	c.readFrames(pc, scanner)
}

// openConn transitions a pending connection to open, records the learned
// address mapping, and immediately drains the counterpart's queue.
func (c *Channel) openConn(pc *peerConn, conn net.Conn, address string) {
	c.mutex.Lock()
	pc.conn = conn
	pc.state = models.StateOpen
	c.mutex.Unlock()
	close(pc.ready)

	metrics.IncPeerConnections()
	c.logger.Info("Peer connection open", "counterpart", pc.username, "address", address)
	c.dispatcher.Notice(models.NewNotice(models.NoticeConnection, models.ChannelPeer, "peer-connected:"+pc.username))

	c.drainQueue(pc)
}

// readFrames consumes frames until the connection closes.
func (c *Channel) readFrames(pc *peerConn, scanner *bufio.Scanner) {
	defer c.closeConn(pc)

	for scanner.Scan() {
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var frame models.PeerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("Malformed peer frame", "counterpart", pc.username, "error", err)
			continue
		}

		switch frame.Type {
		case models.PeerFrameMessage:
			c.handleMessage(pc.username, &frame)
		case models.PeerFrameBye:
			c.logger.Info("Peer said goodbye", "counterpart", pc.username)
			return
		case models.PeerFrameHello:
			// Duplicate hello after handshake, nothing to update
		default:
			c.logger.Debug("Unrecognized peer frame", "type", frame.Type, "counterpart", pc.username)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn("Peer connection read error", "counterpart", pc.username, "error", err)
	}
}

// handleMessage wraps a received frame into an envelope. The remote
// timestamp is display-only; history keeps arrival order.
func (c *Channel) handleMessage(username string, frame *models.PeerFrame) {
	envelope := models.NewReceivedEnvelope(username, frame.Content, models.ChannelPeer, frame.Timestamp)
	if frame.ID != "" {
		envelope.ID = frame.ID
	}
	c.dispatcher.Append(username, envelope)
	metrics.IncMessage("peer", "received")
}

// drainQueue replays the counterpart's pending envelopes in enqueue order.
// Each replayed envelope is marked delivered through the dispatcher, which
// owns the stored history entries; a write failure requeues the remainder
// for the next open transition.
func (c *Channel) drainQueue(pc *peerConn) {
	envelopes := c.queue.DrainAll(pc.username)
	if len(envelopes) == 0 {
		return
	}

	c.logger.Info("Draining outbound queue", "counterpart", pc.username, "pending", len(envelopes))
	for i, envelope := range envelopes {
		frame := models.NewPeerMessage(envelope.ID, c.localUsername, pc.username, envelope.Content)
		if err := pc.write(frame); err != nil {
			c.logger.Warn("Queue drain interrupted", "counterpart", pc.username, "error", err)
			c.queue.Requeue(pc.username, envelopes[i:])
			return
		}
		c.dispatcher.MarkDelivered(pc.username, envelope.ID)
		metrics.IncMessage("peer", "sent")
		metrics.AddQueuedMessages(-1)
	}
}

// queueFailed records an undeliverable message: queued for replay and
// appended to history as failed so the conversation shows the attempt.
func (c *Channel) queueFailed(username, content string) {
	envelope := models.NewSentEnvelope(username, content, models.ChannelPeer, models.StatusFailed)
	c.queue.Enqueue(username, envelope)
	c.dispatcher.Append(username, envelope)
	metrics.AddQueuedMessages(1)
	metrics.IncSendFailure("peer")
	c.logger.Info("Message queued for replay", "counterpart", username, "id", envelope.ID)
}

// failConnect resolves a pending attempt as failed and removes the entry,
// returning the counterpart to the absent state.
func (c *Channel) failConnect(pc *peerConn, err error) error {
	c.mutex.Lock()
	pc.err = err
	pc.state = models.StateClosed
	if current, ok := c.conns[pc.username]; ok && current == pc {
		delete(c.conns, pc.username)
	}
	c.mutex.Unlock()
	close(pc.ready)

	c.logger.Warn("Peer connect failed", "counterpart", pc.username, "error", err)
	return err
}

// closeConn removes a connection after its read loop ends.
func (c *Channel) closeConn(pc *peerConn) {
	c.mutex.Lock()
	if pc.conn != nil {
		pc.conn.Close()
	}
	wasOpen := pc.state == models.StateOpen
	pc.state = models.StateClosed
	if current, ok := c.conns[pc.username]; ok && current == pc {
		delete(c.conns, pc.username)
	}
	c.mutex.Unlock()

	if wasOpen {
		metrics.DecPeerConnections()
		c.logger.Info("Peer connection closed", "counterpart", pc.username)
		c.dispatcher.Notice(models.NewNotice(models.NoticeConnection, models.ChannelPeer, "peer-disconnected:"+pc.username))
	}
}

// resolveEndpoint walks the resolver chain in order, returning the first
// endpoint found.
func (c *Channel) resolveEndpoint(ctx context.Context, address string) (string, error) {
	var lastErr error = ErrResolveFailed
	for _, resolver := range c.resolvers {
		endpoint, err := resolver.ResolveEndpoint(ctx, address)
		if err == nil && endpoint != "" {
			return endpoint, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return "", lastErr
}

func (pc *peerConn) write(frame *models.PeerFrame) error {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()

	if pc.conn == nil {
		return errors.New("connection is closed")
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal peer frame: %w", err)
	}
	data = append(data, '\n')
	_, err = pc.conn.Write(data)
	return err
}

// writeFrame writes a newline-delimited frame on a raw connection, used
// during the handshake before a peerConn exists.
func writeFrame(conn net.Conn, frame *models.PeerFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}

// localIP returns the first non-loopback IPv4 address, falling back to
// loopback when the host has none.
func localIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				return ip.String()
			}
		}
	}
	return "127.0.0.1"
}
