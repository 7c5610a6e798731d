package interfaces

import (
	"context"

	"github.com/1mmey/SecurityChat/internal/models"
)

// Directory resolves between user ids, usernames, and deterministic peer
// addresses. It is rebuilt wholesale from the friend collaborator's list.
type Directory interface {
	// Rebuild atomically replaces all mappings with the given friend list
	Rebuild(friends []models.Friend)

	// ResolveUsername resolves a tagged recipient to a canonical username,
	// stringifying the input when unmapped. Total; never fails.
	ResolveUsername(recipient models.Recipient) string

	// ResolveID returns the user id for a username, or the username itself
	// as a degraded identifier when unmapped
	ResolveID(username string) string

	// DerivePeerAddress computes the deterministic peer address for a
	// username without any lookup
	DerivePeerAddress(username string) string

	// UsernameFromPeerAddress reverses the deterministic address scheme
	UsernameFromPeerAddress(address string) string

	// Friend returns the full contact record for a username
	Friend(username string) (models.Friend, bool)

	// Friends returns a snapshot of all contacts
	Friends() []models.Friend
}

// Dispatcher is the sole writer of per-counterpart history and the sole
// broadcaster to subscribers.
type Dispatcher interface {
	// Append stores an envelope in the counterpart's history and broadcasts
	// it to message listeners
	Append(counterpart string, envelope *models.Envelope)

	// Publish broadcasts an envelope event without appending
	Publish(counterpart string, envelope *models.Envelope)

	// MarkDelivered replaces the stored envelope with the given id by a
	// delivered copy and broadcasts the update. Returns the updated
	// envelope, or nil when the id is not stored. Stored entries are
	// swapped, never mutated, so history snapshots stay immutable.
	MarkDelivered(counterpart, id string) *models.Envelope

	// Notice broadcasts a connection or protocol notice to status listeners
	Notice(notice models.Notice)

	// History returns a snapshot of the ordered sequence for a counterpart,
	// creating an empty one on first use. Never nil.
	History(counterpart string) []*models.Envelope

	// Clear removes a counterpart's history entirely
	Clear(counterpart string)

	// Counterparts lists every counterpart with a history sequence
	Counterparts() []string

	SubscribeMessages(listener MessageListener)
	UnsubscribeMessages(listener MessageListener)
	SubscribeStatus(listener StatusListener)
	UnsubscribeStatus(listener StatusListener)
}

// ServerChannel manages the single persistent relay connection.
type ServerChannel interface {
	// Connect opens the relay connection. Fails synchronously with
	// ErrNoCredential when no session credential is available.
	Connect() error

	// Disconnect closes the connection and suppresses any scheduled
	// reconnect. Terminal for the session.
	Disconnect()

	// Send serializes a message to the relay. Fails when the channel is
	// not open; on success the sent envelope is appended optimistically.
	Send(recipient models.Recipient, content string) error

	// State returns the current connection state
	State() models.ConnState
}

// PeerChannel manages direct peer connections keyed by username.
type PeerChannel interface {
	// Start brings up the direct transport listener and the signaling
	// substrate
	Start(ctx context.Context) error

	// ConnectToUser establishes (or returns the existing) connection to a
	// counterpart. Idempotent while pending.
	ConnectToUser(ctx context.Context, username string) error

	// Send delivers content to a counterpart, queuing it for replay when no
	// connection can be established
	Send(username, content string) error

	// ConnectionState reports the per-counterpart connection state
	ConnectionState(username string) models.ConnState

	// QueuedCount returns the number of messages queued for a counterpart
	QueuedCount(username string) int

	// DisconnectAll closes every peer connection, clears mappings, and
	// releases the shared transport. Idempotent.
	DisconnectAll()
}

// EndpointResolver maps a deterministic peer address to a dialable
// host:port endpoint.
type EndpointResolver interface {
	ResolveEndpoint(ctx context.Context, address string) (string, error)
}

// MessageListener receives every envelope event broadcast by the
// dispatcher.
type MessageListener interface {
	OnMessage(counterpart string, envelope *models.Envelope)
}

// StatusListener receives connection and protocol notices.
type StatusListener interface {
	OnNotice(notice models.Notice)
}

// Configuration holds application configuration
type Configuration interface {
	GetUsername() string
	GetToken() string
	GetRelayURL() string
	GetSignalURL() string
	GetPort() int
	GetLogLevel() string
	GetQuiet() bool
	GetLogFile() string
	GetFriendsFile() string
	GetMetricsAddr() string
	GetServiceType() string
}
