package models

import (
	"encoding/json"
	"time"
)

// ServerFrameKind classifies an inbound relay frame. Frames are decoded
// once at the transport boundary and matched exhaustively.
type ServerFrameKind int

const (
	ServerFrameOffline ServerFrameKind = iota
	ServerFrameRealtime
	ServerFrameStatus
	ServerFrameError
	ServerFrameUnknown
)

const (
	serverTypeOffline  = "offline_message"
	serverTypeRealtime = "p2p_message"
)

// ServerFrame is the inbound wire shape of the relay channel.
type ServerFrame struct {
	Type           string `json:"type,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`
	Content        string `json:"content,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	Status         string `json:"status,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Kind classifies the frame by its type discriminator, falling back to the
// status and error fields for untyped frames.
func (f *ServerFrame) Kind() ServerFrameKind {
	switch f.Type {
	case serverTypeOffline:
		return ServerFrameOffline
	case serverTypeRealtime:
		return ServerFrameRealtime
	}
	if f.Status != "" {
		return ServerFrameStatus
	}
	if f.Error != "" {
		return ServerFrameError
	}
	return ServerFrameUnknown
}

// SentAt parses the frame's RFC 3339 timestamp, returning the zero time
// when absent or malformed. Remote clocks are untrusted for ordering.
func (f *ServerFrame) SentAt() time.Time {
	if f.Timestamp == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, f.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// ParseServerFrame decodes one relay frame. A decode failure means the
// frame is an opaque system notice, not an error.
func ParseServerFrame(data []byte) (*ServerFrame, error) {
	var frame ServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// ServerSend is the outbound wire shape of the relay channel.
type ServerSend struct {
	RecipientUsername string `json:"recipient_username"`
	Content           string `json:"content"`
}

// PeerFrameType discriminates frames exchanged over an established peer
// connection.
type PeerFrameType string

const (
	PeerFrameHello   PeerFrameType = "hello"
	PeerFrameMessage PeerFrameType = "text"
	PeerFrameBye     PeerFrameType = "bye"
)

// PeerFrame is the application-level wire shape of the direct channel,
// newline-delimited JSON on the socket. Hello frames carry the handshake
// metadata (sender username and deterministic address).
type PeerFrame struct {
	ID        string        `json:"id"`
	Type      PeerFrameType `json:"type"`
	Content   string        `json:"content,omitempty"`
	Sender    string        `json:"sender"`
	Recipient string        `json:"recipient,omitempty"`
	Address   string        `json:"address,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewPeerHello builds the handshake frame sent immediately after dialing.
func NewPeerHello(sender, address string) *PeerFrame {
	return &PeerFrame{
		ID:        NewEnvelopeID("hello"),
		Type:      PeerFrameHello,
		Sender:    sender,
		Address:   address,
		Timestamp: time.Now(),
	}
}

// NewPeerMessage builds a chat frame for the direct channel.
func NewPeerMessage(id, sender, recipient, content string) *PeerFrame {
	return &PeerFrame{
		ID:        id,
		Type:      PeerFrameMessage,
		Content:   content,
		Sender:    sender,
		Recipient: recipient,
		Timestamp: time.Now(),
	}
}

// Signaling frame types for the rendezvous service.
const (
	SignalRegister = "register"
	SignalResolve  = "resolve"
	SignalResolved = "resolved"
	SignalError    = "error"
)

// SignalFrame is the wire shape of the rendezvous/signaling service, used
// only to map deterministic peer addresses to dialable endpoints.
type SignalFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Address   string `json:"address,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Error     string `json:"error,omitempty"`
}
