package models

import "time"

// NoticeKind classifies connection and protocol notices broadcast to
// subscribers. Notices are never appended to history.
type NoticeKind string

const (
	NoticeStatus     NoticeKind = "status"
	NoticeError      NoticeKind = "error"
	NoticeSystem     NoticeKind = "system"
	NoticeUnknown    NoticeKind = "unknown"
	NoticeConnection NoticeKind = "connection"
)

// ConnState is the lifecycle state of a channel. The server channel uses
// the first five states; per-peer connections use absent/connecting/open/
// closed.
type ConnState string

const (
	StateDisconnected       ConnState = "disconnected"
	StateConnecting         ConnState = "connecting"
	StateOpen               ConnState = "open"
	StateClosing            ConnState = "closing"
	StateReconnectScheduled ConnState = "reconnect-scheduled"
	StateAbsent             ConnState = "absent"
	StateClosed             ConnState = "closed"
)

// Notice is a non-history event: a channel state transition, a relayed
// status/error frame, or an opaque system payload.
type Notice struct {
	Kind      NoticeKind
	Channel   Channel
	Content   string
	Timestamp time.Time
}

// NewNotice builds a notice stamped with the local clock.
func NewNotice(kind NoticeKind, channel Channel, content string) Notice {
	return Notice{Kind: kind, Channel: channel, Content: content, Timestamp: time.Now()}
}
