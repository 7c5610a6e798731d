package peer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mmey/SecurityChat/internal/logger"
	"github.com/1mmey/SecurityChat/internal/models"
)

func TestResolveEndpointWithoutConnection(t *testing.T) {
	s := NewSignalingClient("ws://localhost:9000/signal", "chat_alice", newMockDispatcher(), logger.New("ERROR"))

	_, err := s.ResolveEndpoint(context.Background(), "chat_bob")
	assert.ErrorIs(t, err, ErrResolveFailed)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := NewSignalingClient("ws://localhost:9000/signal", "chat_alice", newMockDispatcher(), logger.New("ERROR"))

	s.Close()
	s.Close()
}

func TestCloseSuppressesReconnect(t *testing.T) {
	s := NewSignalingClient("ws://localhost:9000/signal", "chat_alice", newMockDispatcher(), logger.New("ERROR"))

	s.Close()
	s.scheduleReconnect()

	s.mutex.Lock()
	attempts := s.reconnectAttempts
	s.mutex.Unlock()
	assert.Zero(t, attempts)
}

func TestResolveSurvivesDuplicateReplies(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var frame models.SignalFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type != models.SignalResolve {
				continue
			}
			// A misbehaving service answers the same request twice
			reply := models.SignalFrame{Type: models.SignalResolved, RequestID: frame.RequestID, Host: "127.0.0.1", Port: 4242}
			conn.WriteJSON(reply)
			conn.WriteJSON(reply)
		}
	}))
	defer srv.Close()

	s := NewSignalingClient("ws"+strings.TrimPrefix(srv.URL, "http"), "chat_alice", newMockDispatcher(), logger.New("ERROR"))
	s.SetAdvertised("127.0.0.1", 4000)
	require.NoError(t, s.Connect())
	defer s.Close()

	endpoint, err := s.ResolveEndpoint(context.Background(), "chat_bob")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4242", endpoint)

	// The read loop must still be serving after the stray reply
	endpoint, err = s.ResolveEndpoint(context.Background(), "chat_carol")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4242", endpoint)
}
