package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mmey/SecurityChat/internal/interfaces"
	"github.com/1mmey/SecurityChat/internal/logger"
	"github.com/1mmey/SecurityChat/internal/models"
)

// mockDirectory resolves everything to usernames like the real directory,
// without needing a friend list.
type mockDirectory struct {
	idToUsername map[int]string
}

func (m *mockDirectory) Rebuild([]models.Friend) {}

func (m *mockDirectory) ResolveUsername(recipient models.Recipient) string {
	if username, ok := recipient.Username(); ok {
		return username
	}
	if id, ok := recipient.ID(); ok {
		if username, mapped := m.idToUsername[id]; mapped {
			return username
		}
	}
	return recipient.String()
}

func (m *mockDirectory) ResolveID(username string) string           { return username }
func (m *mockDirectory) DerivePeerAddress(username string) string   { return "chat_" + username }
func (m *mockDirectory) UsernameFromPeerAddress(addr string) string { return addr }
func (m *mockDirectory) Friend(string) (models.Friend, bool)        { return models.Friend{}, false }
func (m *mockDirectory) Friends() []models.Friend                   { return nil }

// mockDispatcher records what the channel hands it.
type mockDispatcher struct {
	mu       sync.Mutex
	appended []*models.Envelope
	notices  []models.Notice
}

func (m *mockDispatcher) Append(counterpart string, envelope *models.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, envelope)
}

func (m *mockDispatcher) Publish(string, *models.Envelope) {}

func (m *mockDispatcher) MarkDelivered(string, string) *models.Envelope { return nil }

func (m *mockDispatcher) Notice(notice models.Notice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, notice)
}

func (m *mockDispatcher) History(string) []*models.Envelope               { return nil }
func (m *mockDispatcher) Clear(string)                                    {}
func (m *mockDispatcher) Counterparts() []string                          { return nil }
func (m *mockDispatcher) SubscribeMessages(interfaces.MessageListener)    {}
func (m *mockDispatcher) UnsubscribeMessages(interfaces.MessageListener)  {}
func (m *mockDispatcher) SubscribeStatus(interfaces.StatusListener)       {}
func (m *mockDispatcher) UnsubscribeStatus(interfaces.StatusListener)     {}

func (m *mockDispatcher) noticeContents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	contents := make([]string, 0, len(m.notices))
	for _, n := range m.notices {
		contents = append(contents, n.Content)
	}
	return contents
}

func newTestChannel(session *models.Session, disp *mockDispatcher) *Channel {
	return NewChannel(
		"ws://localhost:8000",
		session,
		&mockDirectory{idToUsername: map[int]string{7: "carol"}},
		disp,
		logger.New("ERROR"),
	)
}

func TestConnectWithoutCredential(t *testing.T) {
	c := newTestChannel(&models.Session{}, &mockDispatcher{})

	err := c.Connect()
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, models.StateDisconnected, c.State())
}

func TestSendNotConnected(t *testing.T) {
	disp := &mockDispatcher{}
	c := newTestChannel(&models.Session{Token: "t", Username: "alice"}, disp)

	err := c.Send(models.ByUsername("bob"), "hello")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, disp.appended, "failed sends never enter history")
}

func TestHandleFrameOfflineMessage(t *testing.T) {
	disp := &mockDispatcher{}
	c := newTestChannel(&models.Session{Token: "t", Username: "alice"}, disp)

	c.handleFrame([]byte(`{"type":"offline_message","sender_username":"carol","content":"missed you","timestamp":"2024-05-01T12:00:00Z"}`))

	require.Len(t, disp.appended, 1)
	envelope := disp.appended[0]
	assert.Equal(t, "carol", envelope.Counterpart)
	assert.Equal(t, "missed you", envelope.Content)
	assert.Equal(t, models.ChannelServerOffline, envelope.Channel)
	assert.Equal(t, models.DirectionReceived, envelope.Direction)
}

func TestHandleFrameRealtimeMessage(t *testing.T) {
	disp := &mockDispatcher{}
	c := newTestChannel(&models.Session{Token: "t", Username: "alice"}, disp)

	c.handleFrame([]byte(`{"type":"p2p_message","sender_username":"carol","content":"hi"}`))

	require.Len(t, disp.appended, 1)
	assert.Equal(t, models.ChannelServerRealtime, disp.appended[0].Channel)
}

func TestHandleFrameStatusAndError(t *testing.T) {
	disp := &mockDispatcher{}
	c := newTestChannel(&models.Session{Token: "t", Username: "alice"}, disp)

	c.handleFrame([]byte(`{"status":"carol is online"}`))
	c.handleFrame([]byte(`{"error":"rate limited"}`))

	assert.Empty(t, disp.appended, "status and error frames never enter history")
	require.Len(t, disp.notices, 2)
	assert.Equal(t, models.NoticeStatus, disp.notices[0].Kind)
	assert.Equal(t, models.NoticeError, disp.notices[1].Kind)
}

func TestHandleFrameOpaquePayload(t *testing.T) {
	disp := &mockDispatcher{}
	c := newTestChannel(&models.Session{Token: "t", Username: "alice"}, disp)

	c.handleFrame([]byte("plain text, not json"))

	assert.Empty(t, disp.appended)
	require.Len(t, disp.notices, 1)
	assert.Equal(t, models.NoticeSystem, disp.notices[0].Kind)
	assert.Equal(t, "plain text, not json", disp.notices[0].Content)
}

func TestScheduleReconnectExhaustion(t *testing.T) {
	disp := &mockDispatcher{}
	c := newTestChannel(&models.Session{Token: "t", Username: "alice"}, disp)

	c.mutex.Lock()
	c.reconnectAttempts = maxReconnectAttempts
	c.mutex.Unlock()

	c.scheduleReconnect()

	assert.Contains(t, disp.noticeContents(), "reconnect-exhausted")
	assert.Equal(t, models.StateDisconnected, c.State(), "exhaustion leaves the channel disconnected, not scheduled")
}

func TestDialURLEscapesToken(t *testing.T) {
	disp := &mockDispatcher{}
	c := newTestChannel(&models.Session{Token: "a&b=c#d", Username: "alice"}, disp)

	assert.Equal(t, "ws://localhost:8000/ws?token=a%26b%3Dc%23d", c.dialURL())
}

func TestSendWritesOutsideStateLock(t *testing.T) {
	received := make(chan models.ServerSend, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var frame models.ServerSend
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		received <- frame
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	disp := &mockDispatcher{}
	c := NewChannel(
		"ws"+strings.TrimPrefix(srv.URL, "http"),
		&models.Session{Token: "t", Username: "alice"},
		&mockDirectory{},
		disp,
		logger.New("ERROR"),
	)
	require.NoError(t, c.Connect())
	defer c.Disconnect()

	// State must stay reachable while a send is in flight
	stateDone := make(chan struct{})
	go func() {
		defer close(stateDone)
		for i := 0; i < 50; i++ {
			_ = c.State()
		}
	}()

	require.NoError(t, c.Send(models.ByUsername("bob"), "hello"))

	select {
	case <-stateDone:
	case <-time.After(3 * time.Second):
		t.Fatal("State blocked during send")
	}

	select {
	case frame := <-received:
		assert.Equal(t, "bob", frame.RecipientUsername)
		assert.Equal(t, "hello", frame.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("relay never received the frame")
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	require.Len(t, disp.appended, 1)
	assert.Equal(t, models.StatusSending, disp.appended[0].Status)
}

func TestScheduleReconnectSuppressedAfterDisconnect(t *testing.T) {
	disp := &mockDispatcher{}
	c := newTestChannel(&models.Session{Token: "t", Username: "alice"}, disp)

	c.Disconnect()
	c.scheduleReconnect()

	assert.NotContains(t, disp.noticeContents(), "reconnect-scheduled")
}
