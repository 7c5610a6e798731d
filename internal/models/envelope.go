package models

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Direction tells whether an envelope was produced locally or received
// from a counterpart.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Channel identifies the transport an envelope travelled on.
type Channel string

const (
	ChannelServerOffline  Channel = "server-offline"
	ChannelServerRealtime Channel = "server-realtime"
	ChannelPeer           Channel = "peer"
)

// DeliveryStatus tracks what the local client knows about delivery.
// The relay protocol carries no acknowledgment, so server-sent envelopes
// remain StatusSending for the lifetime of the session.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// Envelope is the canonical, transport-agnostic message record stored in
// history. Content is opaque; attachment payloads from the file collaborator
// pass through unmodified.
type Envelope struct {
	ID          string         `json:"id"`
	Direction   Direction      `json:"direction"`
	Content     string         `json:"content"`
	Counterpart string         `json:"counterpart"`
	Timestamp   time.Time      `json:"timestamp"`
	Channel     Channel        `json:"channel"`
	Status      DeliveryStatus `json:"status"`
}

// NewSentEnvelope creates an outbound envelope addressed to counterpart.
func NewSentEnvelope(counterpart, content string, channel Channel, status DeliveryStatus) *Envelope {
	return &Envelope{
		ID:          NewEnvelopeID("sent"),
		Direction:   DirectionSent,
		Content:     content,
		Counterpart: counterpart,
		Timestamp:   time.Now(),
		Channel:     channel,
		Status:      status,
	}
}

// NewReceivedEnvelope creates an inbound envelope from counterpart. The
// remote timestamp is kept for display only; history ordering is local
// arrival order, so a zero remote timestamp falls back to now.
func NewReceivedEnvelope(counterpart, content string, channel Channel, remote time.Time) *Envelope {
	ts := remote
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Envelope{
		ID:          NewEnvelopeID(string(channel)),
		Direction:   DirectionReceived,
		Content:     content,
		Counterpart: counterpart,
		Timestamp:   ts,
		Channel:     channel,
		Status:      StatusDelivered,
	}
}

var envelopeSeq uint64

// NewEnvelopeID generates an envelope id unique for this session.
func NewEnvelopeID(prefix string) string {
	return fmt.Sprintf("%s_%d_%06d", prefix, time.Now().UnixNano(), atomic.AddUint64(&envelopeSeq, 1))
}

// IsAttachment reports whether the content is a wrapped data-URI attachment
// produced by the file-transfer collaborator. The core never unwraps these;
// the predicate exists for presentation layers.
func IsAttachment(content string) bool {
	return len(content) > 6 && content[:6] == "[file]"
}
