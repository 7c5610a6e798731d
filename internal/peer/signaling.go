package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1mmey/SecurityChat/internal/interfaces"
	"github.com/1mmey/SecurityChat/internal/logger"
	"github.com/1mmey/SecurityChat/internal/metrics"
	"github.com/1mmey/SecurityChat/internal/models"
)

// ErrResolveFailed is returned when the rendezvous service cannot map a
// peer address to an endpoint.
var ErrResolveFailed = errors.New("peer address could not be resolved")

const (
	signalReconnectDelay       = 3 * time.Second
	maxSignalReconnectAttempts = 3
	resolveTimeout             = 5 * time.Second
)

// SignalingClient talks to the well-known rendezvous service. It registers
// the local deterministic peer address with a dialable endpoint and
// resolves remote addresses. It is the shared substrate of the peer
// channel: its lifecycle is independent of per-counterpart connections.
type SignalingClient struct {
	logger     *logger.Logger
	dispatcher interfaces.Dispatcher

	url     string
	address string
	host    string
	port    int
	dialer  *websocket.Dialer

	conn              *websocket.Conn
	pending           map[string]chan *models.SignalFrame
	reconnectAttempts int
	manualClose       bool
	mutex             sync.Mutex
}

// NewSignalingClient creates a client for the rendezvous service at url,
// registering the given deterministic local address.
func NewSignalingClient(url, address string, disp interfaces.Dispatcher, log *logger.Logger) *SignalingClient {
	return &SignalingClient{
		logger:     log.WithComponent("signaling"),
		dispatcher: disp,
		url:        url,
		address:    address,
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		pending:    make(map[string]chan *models.SignalFrame),
	}
}

var _ interfaces.EndpointResolver = (*SignalingClient)(nil)

// SetAdvertised records the endpoint registered for the local address.
// Must be called before Connect, once the direct transport listener knows
// its port.
func (s *SignalingClient) SetAdvertised(host string, port int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.host = host
	s.port = port
}

// Connect dials the rendezvous service and registers the local address.
func (s *SignalingClient) Connect() error {
	s.mutex.Lock()
	if s.conn != nil {
		s.mutex.Unlock()
		return nil
	}
	s.manualClose = false
	s.mutex.Unlock()

	conn, _, err := s.dialer.Dial(s.url, nil)
	if err != nil {
		s.scheduleReconnect()
		return fmt.Errorf("failed to dial rendezvous service: %w", err)
	}

	s.mutex.Lock()
	s.conn = conn
	s.reconnectAttempts = 0
	register := models.SignalFrame{Type: models.SignalRegister, Address: s.address, Host: s.host, Port: s.port}
	err = conn.WriteJSON(register)
	s.mutex.Unlock()

	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to register peer address: %w", err)
	}

	s.logger.Info("Registered with rendezvous service", "address", s.address, "port", s.port)
	go s.readLoop(conn)
	return nil
}

// Close tears the substrate down and suppresses reconnection. Idempotent.
func (s *SignalingClient) Close() {
	s.mutex.Lock()
	s.manualClose = true
	conn := s.conn
	s.conn = nil
	s.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// ResolveEndpoint asks the rendezvous service for the endpoint registered
// under a deterministic peer address.
func (s *SignalingClient) ResolveEndpoint(ctx context.Context, address string) (string, error) {
	requestID := models.NewEnvelopeID("resolve")
	reply := make(chan *models.SignalFrame, 1)

	s.mutex.Lock()
	conn := s.conn
	if conn == nil {
		s.mutex.Unlock()
		return "", fmt.Errorf("%w: rendezvous service unavailable", ErrResolveFailed)
	}
	s.pending[requestID] = reply
	err := conn.WriteJSON(models.SignalFrame{Type: models.SignalResolve, RequestID: requestID, Address: address})
	s.mutex.Unlock()

	defer func() {
		s.mutex.Lock()
		delete(s.pending, requestID)
		s.mutex.Unlock()
	}()

	if err != nil {
		return "", fmt.Errorf("failed to send resolve request: %w", err)
	}

	select {
	case frame := <-reply:
		if frame.Type == models.SignalError || frame.Host == "" {
			return "", fmt.Errorf("%w: %s", ErrResolveFailed, frame.Error)
		}
		return net.JoinHostPort(frame.Host, fmt.Sprintf("%d", frame.Port)), nil
	case <-time.After(resolveTimeout):
		return "", fmt.Errorf("%w: resolve timed out", ErrResolveFailed)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *SignalingClient) readLoop(conn *websocket.Conn) {
	for {
		var frame models.SignalFrame
		if err := conn.ReadJSON(&frame); err != nil {
			s.handleClose(err)
			return
		}

		if frame.RequestID == "" {
			s.logger.Debug("Unsolicited signaling frame", "type", frame.Type)
			continue
		}

		s.mutex.Lock()
		reply, ok := s.pending[frame.RequestID]
		s.mutex.Unlock()
		if ok {
			f := frame
			// Non-blocking: a duplicate reply for an already-answered
			// request must not wedge the read loop
			select {
			case reply <- &f:
			default:
			}
		}
	}
}

// handleClose runs when the substrate connection drops. A failure here is
// orthogonal to per-counterpart connections: established peer links keep
// working, only new rendezvous lookups are affected until reconnect.
func (s *SignalingClient) handleClose(err error) {
	s.mutex.Lock()
	s.conn = nil
	manual := s.manualClose
	s.mutex.Unlock()

	if manual {
		return
	}

	s.logger.Warn("Rendezvous connection lost", "error", err)
	s.dispatcher.Notice(models.NewNotice(models.NoticeConnection, models.ChannelPeer, "signaling-disconnected"))
	s.scheduleReconnect()
}

func (s *SignalingClient) scheduleReconnect() {
	s.mutex.Lock()
	if s.manualClose {
		s.mutex.Unlock()
		return
	}
	if s.reconnectAttempts >= maxSignalReconnectAttempts {
		s.mutex.Unlock()
		s.logger.Error("Rendezvous reconnect attempts exhausted", "attempts", maxSignalReconnectAttempts)
		s.dispatcher.Notice(models.NewNotice(models.NoticeConnection, models.ChannelPeer, "signaling-exhausted"))
		return
	}
	s.reconnectAttempts++
	attempt := s.reconnectAttempts
	s.mutex.Unlock()

	metrics.IncReconnectAttempt("signaling")
	s.logger.Info("Rendezvous reconnect scheduled", "attempt", attempt, "delay", signalReconnectDelay)
	time.AfterFunc(signalReconnectDelay, func() {
		s.mutex.Lock()
		manual := s.manualClose
		s.mutex.Unlock()
		if !manual {
			s.Connect()
		}
	})
}
