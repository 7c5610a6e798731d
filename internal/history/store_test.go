package history

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mmey/SecurityChat/internal/logger"
	"github.com/1mmey/SecurityChat/internal/models"
)

type recordingListener struct {
	mu        sync.Mutex
	envelopes []*models.Envelope
	notices   []models.Notice
}

func (l *recordingListener) OnMessage(counterpart string, envelope *models.Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.envelopes = append(l.envelopes, envelope)
}

func (l *recordingListener) OnNotice(notice models.Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, notice)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.envelopes)
}

type panickingListener struct{}

func (panickingListener) OnMessage(string, *models.Envelope) { panic("listener bug") }
func (panickingListener) OnNotice(models.Notice)             { panic("listener bug") }

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(logger.New("ERROR"))
}

func TestAppendPreservesOrder(t *testing.T) {
	d := newTestDispatcher()

	first := models.NewSentEnvelope("bob", "one", models.ChannelServerRealtime, models.StatusSending)
	second := models.NewReceivedEnvelope("bob", "two", models.ChannelPeer, first.Timestamp)
	third := models.NewSentEnvelope("bob", "three", models.ChannelPeer, models.StatusDelivered)

	d.Append("bob", first)
	d.Append("bob", second)
	d.Append("bob", third)

	history := d.History("bob")
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "two", history[1].Content)
	assert.Equal(t, "three", history[2].Content)
}

func TestAppendDropsDuplicateIDs(t *testing.T) {
	d := newTestDispatcher()
	listener := &recordingListener{}
	d.SubscribeMessages(listener)

	envelope := models.NewReceivedEnvelope("bob", "hi", models.ChannelPeer, time.Now())
	envelope.ID = "frame-42"
	duplicate := models.NewReceivedEnvelope("bob", "hi", models.ChannelServerRealtime, time.Now())
	duplicate.ID = "frame-42"

	d.Append("bob", envelope)
	d.Append("bob", duplicate)

	assert.Len(t, d.History("bob"), 1, "a frame delivered over both transports lands in history once")
	assert.Equal(t, 1, listener.count(), "duplicates are not broadcast either")
}

func TestHistoriesAreIndependent(t *testing.T) {
	d := newTestDispatcher()

	d.Append("bob", models.NewSentEnvelope("bob", "for bob", models.ChannelPeer, models.StatusDelivered))
	d.Append("carol", models.NewSentEnvelope("carol", "for carol", models.ChannelPeer, models.StatusDelivered))

	assert.Len(t, d.History("bob"), 1)
	assert.Len(t, d.History("carol"), 1)
	assert.ElementsMatch(t, []string{"bob", "carol"}, d.Counterparts())
}

func TestHistoryCreatesEmptySequence(t *testing.T) {
	d := newTestDispatcher()

	history := d.History("nobody")
	require.NotNil(t, history)
	assert.Empty(t, history)
	assert.Contains(t, d.Counterparts(), "nobody")
}

func TestClearRemovesHistoryAndSeenIDs(t *testing.T) {
	d := newTestDispatcher()

	envelope := models.NewReceivedEnvelope("bob", "hi", models.ChannelPeer, time.Now())
	envelope.ID = "frame-1"
	d.Append("bob", envelope)

	d.Clear("bob")
	assert.NotContains(t, d.Counterparts(), "bob")

	// The same id is appendable again after a clear
	again := models.NewReceivedEnvelope("bob", "hi", models.ChannelPeer, time.Now())
	again.ID = "frame-1"
	d.Append("bob", again)
	assert.Len(t, d.History("bob"), 1)
}

func TestPublishBroadcastsWithoutAppending(t *testing.T) {
	d := newTestDispatcher()
	listener := &recordingListener{}
	d.SubscribeMessages(listener)

	envelope := models.NewSentEnvelope("bob", "queued", models.ChannelPeer, models.StatusFailed)
	d.Append("bob", envelope)

	envelope.Status = models.StatusDelivered
	d.Publish("bob", envelope)

	assert.Len(t, d.History("bob"), 1, "Publish must not grow history")
	assert.Equal(t, 2, listener.count())
}

func TestMarkDeliveredSwapsStoredEntry(t *testing.T) {
	d := newTestDispatcher()
	listener := &recordingListener{}
	d.SubscribeMessages(listener)

	envelope := models.NewSentEnvelope("bob", "queued", models.ChannelPeer, models.StatusFailed)
	d.Append("bob", envelope)
	before := d.History("bob")

	updated := d.MarkDelivered("bob", envelope.ID)
	require.NotNil(t, updated)
	assert.Equal(t, models.StatusDelivered, updated.Status)

	// The stored entry is swapped for a copy; envelopes handed out earlier
	// keep the status they had
	assert.Equal(t, models.StatusFailed, envelope.Status)
	assert.Equal(t, models.StatusFailed, before[0].Status)

	after := d.History("bob")
	require.Len(t, after, 1)
	assert.Equal(t, models.StatusDelivered, after[0].Status)
	assert.Equal(t, 2, listener.count(), "the delivered copy is broadcast without a second append")

	assert.Nil(t, d.MarkDelivered("bob", "unknown-id"))
}

func TestListenerPanicDoesNotStopBroadcast(t *testing.T) {
	d := newTestDispatcher()
	healthy := &recordingListener{}
	d.SubscribeMessages(panickingListener{})
	d.SubscribeMessages(healthy)
	d.SubscribeStatus(panickingListener{})
	d.SubscribeStatus(healthy)

	require.NotPanics(t, func() {
		d.Append("bob", models.NewSentEnvelope("bob", "hi", models.ChannelPeer, models.StatusDelivered))
		d.Notice(models.NewNotice(models.NoticeConnection, models.ChannelPeer, "peer-connected:bob"))
	})

	assert.Equal(t, 1, healthy.count())
	healthy.mu.Lock()
	defer healthy.mu.Unlock()
	assert.Len(t, healthy.notices, 1)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := newTestDispatcher()
	listener := &recordingListener{}
	d.SubscribeMessages(listener)

	d.Append("bob", models.NewSentEnvelope("bob", "one", models.ChannelPeer, models.StatusDelivered))
	d.UnsubscribeMessages(listener)
	d.Append("bob", models.NewSentEnvelope("bob", "two", models.ChannelPeer, models.StatusDelivered))

	assert.Equal(t, 1, listener.count())
}
