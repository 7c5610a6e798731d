package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerFrameKind(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind ServerFrameKind
	}{
		{"offline message", `{"type":"offline_message","sender_username":"carol","content":"hi"}`, ServerFrameOffline},
		{"realtime message", `{"type":"p2p_message","sender_username":"carol","content":"hi"}`, ServerFrameRealtime},
		{"status frame", `{"status":"connected"}`, ServerFrameStatus},
		{"error frame", `{"error":"unauthorized"}`, ServerFrameError},
		{"untyped frame", `{"foo":"bar"}`, ServerFrameUnknown},
		{"unknown type", `{"type":"something_new"}`, ServerFrameUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := ParseServerFrame([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, frame.Kind())
		})
	}
}

func TestParseServerFrameRejectsGarbage(t *testing.T) {
	_, err := ParseServerFrame([]byte("not json at all"))
	assert.Error(t, err)
}

func TestServerFrameSentAt(t *testing.T) {
	frame := &ServerFrame{Timestamp: "2024-05-01T12:30:00Z"}
	sent := frame.SentAt()
	assert.Equal(t, 2024, sent.Year())
	assert.Equal(t, time.May, sent.Month())

	assert.True(t, (&ServerFrame{}).SentAt().IsZero())
	assert.True(t, (&ServerFrame{Timestamp: "yesterday"}).SentAt().IsZero())
}

func TestRecipientTaggedUnion(t *testing.T) {
	byName := ByUsername("alice")
	username, ok := byName.Username()
	require.True(t, ok)
	assert.Equal(t, "alice", username)
	_, ok = byName.ID()
	assert.False(t, ok)
	assert.Equal(t, "alice", byName.String())

	byID := ByID(42)
	id, ok := byID.ID()
	require.True(t, ok)
	assert.Equal(t, 42, id)
	_, ok = byID.Username()
	assert.False(t, ok)
	assert.Equal(t, "42", byID.String())
}

func TestEnvelopeIDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewEnvelopeID("msg")
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestNewReceivedEnvelopeDefaultsTimestamp(t *testing.T) {
	envelope := NewReceivedEnvelope("bob", "hi", ChannelPeer, time.Time{})
	assert.False(t, envelope.Timestamp.IsZero(), "zero remote timestamp falls back to arrival time")

	remote := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	envelope = NewReceivedEnvelope("bob", "hi", ChannelPeer, remote)
	assert.Equal(t, remote, envelope.Timestamp)
}
