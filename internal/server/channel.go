package server

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1mmey/SecurityChat/internal/interfaces"
	"github.com/1mmey/SecurityChat/internal/logger"
	"github.com/1mmey/SecurityChat/internal/metrics"
	"github.com/1mmey/SecurityChat/internal/models"
)

var (
	// ErrNoCredential is returned by Connect when no session credential is
	// available. Local precondition failure, never retried.
	ErrNoCredential = errors.New("no session credential available")

	// ErrNotConnected is returned by Send when the channel is not open.
	ErrNotConnected = errors.New("server channel is not open")
)

const (
	reconnectDelay       = 3 * time.Second
	maxReconnectAttempts = 5
	handshakeTimeout     = 10 * time.Second
)

// Channel is the single persistent connection to the relay endpoint. It
// delivers offline and relayed realtime messages and owns the
// reconnect-with-backoff policy.
type Channel struct {
	logger     *logger.Logger
	directory  interfaces.Directory
	dispatcher interfaces.Dispatcher

	relayURL string
	session  *models.Session
	dialer   *websocket.Dialer

	conn              *websocket.Conn
	state             models.ConnState
	reconnectAttempts int
	reconnectTimer    *time.Timer
	manualClose       bool
	mutex             sync.Mutex
	writeMu           sync.Mutex
}

// NewChannel creates a disconnected server channel. The session credential
// comes from the auth collaborator; this channel reads it but never
// refreshes it.
func NewChannel(relayURL string, session *models.Session, dir interfaces.Directory, disp interfaces.Dispatcher, log *logger.Logger) *Channel {
	return &Channel{
		logger:     log.WithComponent("server-channel"),
		directory:  dir,
		dispatcher: disp,
		relayURL:   relayURL,
		session:    session,
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		state:      models.StateDisconnected,
	}
}

var _ interfaces.ServerChannel = (*Channel)(nil)

// Connect opens the relay connection, authenticating with the session
// token as a connection parameter. Missing credential fails synchronously;
// transport failures schedule a reconnect.
func (c *Channel) Connect() error {
	if !c.session.Valid() {
		c.logger.Error("Cannot connect: no session credential")
		return ErrNoCredential
	}

	c.mutex.Lock()
	if c.state == models.StateOpen || c.state == models.StateConnecting {
		c.mutex.Unlock()
		return nil
	}
	c.state = models.StateConnecting
	c.manualClose = false
	c.mutex.Unlock()

	conn, _, err := c.dialer.Dial(c.dialURL(), nil)
	if err != nil {
		c.logger.Error("Relay dial failed", "error", err)
		c.mutex.Lock()
		c.state = models.StateDisconnected
		c.mutex.Unlock()
		c.scheduleReconnect()
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	c.mutex.Lock()
	c.conn = conn
	c.state = models.StateOpen
	c.reconnectAttempts = 0
	c.mutex.Unlock()

	c.logger.Info("Relay connection open", "url", c.relayURL)
	c.dispatcher.Notice(models.NewNotice(models.NoticeConnection, models.ChannelServerRealtime, "connected"))

	go c.readLoop(conn)
	return nil
}

// Disconnect closes the connection and suppresses any scheduled reconnect.
// Terminal for this session; a new Connect is required afterwards.
func (c *Channel) Disconnect() {
	c.mutex.Lock()
	c.manualClose = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	if conn != nil {
		c.state = models.StateClosing
	} else {
		c.state = models.StateDisconnected
	}
	c.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Info("Relay connection closed manually")
}

// dialURL builds the relay endpoint with the session token as an escaped
// connection parameter.
func (c *Channel) dialURL() string {
	return fmt.Sprintf("%s/ws?token=%s", c.relayURL, url.QueryEscape(c.session.Token))
}

// Send serializes {recipient_username, content} onto the relay and
// optimistically appends a sent envelope. The relay offers no ack, so the
// envelope stays in sending status. The write happens outside the state
// lock so a slow relay never blocks State or Disconnect.
func (c *Channel) Send(recipient models.Recipient, content string) error {
	username := c.directory.ResolveUsername(recipient)

	c.mutex.Lock()
	conn := c.conn
	open := c.state == models.StateOpen && conn != nil
	c.mutex.Unlock()

	if !open {
		metrics.IncSendFailure("server")
		return ErrNotConnected
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(models.ServerSend{RecipientUsername: username, Content: content})
	c.writeMu.Unlock()

	if err != nil {
		metrics.IncSendFailure("server")
		return fmt.Errorf("failed to write to relay: %w", err)
	}

	envelope := models.NewSentEnvelope(username, content, models.ChannelServerRealtime, models.StatusSending)
	c.dispatcher.Append(username, envelope)
	metrics.IncMessage("server", "sent")

	c.logger.Debug("Message sent via relay", "recipient", username, "id", envelope.ID)
	return nil
}

// State returns the current connection state.
func (c *Channel) State() models.ConnState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// readLoop consumes frames until the connection closes. Runs once per
// successful Connect.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(err)
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame classifies one inbound frame. Unparseable frames degrade to
// opaque system notices; message frames become history envelopes; status
// and error frames broadcast without history append.
func (c *Channel) handleFrame(data []byte) {
	frame, err := models.ParseServerFrame(data)
	if err != nil {
		c.logger.Debug("Opaque relay payload", "bytes", len(data))
		c.dispatcher.Notice(models.NewNotice(models.NoticeSystem, models.ChannelServerRealtime, string(data)))
		return
	}

	switch frame.Kind() {
	case models.ServerFrameOffline:
		c.appendReceived(frame, models.ChannelServerOffline)
	case models.ServerFrameRealtime:
		c.appendReceived(frame, models.ChannelServerRealtime)
	case models.ServerFrameStatus:
		c.dispatcher.Notice(models.NewNotice(models.NoticeStatus, models.ChannelServerRealtime, frame.Status))
	case models.ServerFrameError:
		c.logger.Warn("Relay reported error", "error", frame.Error)
		c.dispatcher.Notice(models.NewNotice(models.NoticeError, models.ChannelServerRealtime, frame.Error))
	default:
		c.dispatcher.Notice(models.NewNotice(models.NoticeUnknown, models.ChannelServerRealtime, string(data)))
	}
}

func (c *Channel) appendReceived(frame *models.ServerFrame, channel models.Channel) {
	counterpart := c.directory.ResolveUsername(models.ByUsername(frame.SenderUsername))
	envelope := models.NewReceivedEnvelope(counterpart, frame.Content, channel, frame.SentAt())
	c.dispatcher.Append(counterpart, envelope)
	metrics.IncMessage("server", "received")

	c.logger.Debug("Message received via relay", "counterpart", counterpart, "channel", channel)
}

// handleClose runs when the read loop observes a closed connection. Manual
// closes are terminal; unexpected closes schedule a reconnect.
func (c *Channel) handleClose(err error) {
	c.mutex.Lock()
	c.conn = nil
	manual := c.manualClose || c.state == models.StateClosing
	c.state = models.StateDisconnected
	c.mutex.Unlock()

	if manual {
		c.dispatcher.Notice(models.NewNotice(models.NoticeConnection, models.ChannelServerRealtime, "disconnected"))
		return
	}

	c.logger.Warn("Relay connection lost", "error", err)
	c.dispatcher.Notice(models.NewNotice(models.NoticeConnection, models.ChannelServerRealtime, "disconnected"))
	c.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer with a fixed delay, up to the
// bounded attempt count. Exhaustion surfaces a terminal notice exactly once
// and leaves recovery to an explicit Connect.
func (c *Channel) scheduleReconnect() {
	c.mutex.Lock()
	if c.manualClose {
		c.mutex.Unlock()
		return
	}
	if c.reconnectAttempts >= maxReconnectAttempts {
		c.mutex.Unlock()
		c.logger.Error("Reconnect attempts exhausted", "attempts", maxReconnectAttempts)
		c.dispatcher.Notice(models.NewNotice(models.NoticeConnection, models.ChannelServerRealtime, "reconnect-exhausted"))
		return
	}
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	c.state = models.StateReconnectScheduled
	c.reconnectTimer = time.AfterFunc(reconnectDelay, func() {
		c.mutex.Lock()
		if c.manualClose {
			c.mutex.Unlock()
			return
		}
		c.state = models.StateDisconnected
		c.mutex.Unlock()
		c.Connect()
	})
	c.mutex.Unlock()

	metrics.IncReconnectAttempt("server")
	c.logger.Info("Reconnect scheduled", "attempt", attempt, "max", maxReconnectAttempts, "delay", reconnectDelay)
	c.dispatcher.Notice(models.NewNotice(models.NoticeConnection, models.ChannelServerRealtime, "reconnect-scheduled"))
}
