package directory

import (
	"strconv"
	"strings"
	"sync"

	"github.com/1mmey/SecurityChat/internal/interfaces"
	"github.com/1mmey/SecurityChat/internal/logger"
	"github.com/1mmey/SecurityChat/internal/models"
)

// peerAddressPrefix is the fixed namespace every client prepends to the
// lower-cased username. Two clients derive the same address for a user
// without any registry round-trip.
const peerAddressPrefix = "chat_"

// Directory is the bidirectional mapping between user ids, usernames, and
// deterministic peer addresses. Usernames are the canonical join key across
// both transports.
type Directory struct {
	logger *logger.Logger

	friends      map[string]models.Friend
	idToUsername map[int]string
	usernameToID map[string]int
	mutex        sync.RWMutex
}

// New creates an empty directory.
func New(log *logger.Logger) *Directory {
	return &Directory{
		logger:       log.WithComponent("directory"),
		friends:      make(map[string]models.Friend),
		idToUsername: make(map[int]string),
		usernameToID: make(map[string]int),
	}
}

var _ interfaces.Directory = (*Directory)(nil)

// Rebuild replaces all mappings atomically with the given friend list.
// Records without a username are skipped silently. Never a partial merge:
// old state is discarded before the new list is inserted.
func (d *Directory) Rebuild(friends []models.Friend) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.friends = make(map[string]models.Friend, len(friends))
	d.idToUsername = make(map[int]string, len(friends))
	d.usernameToID = make(map[string]int, len(friends))

	for _, friend := range friends {
		if friend.Username == "" {
			continue
		}
		d.friends[friend.Username] = friend
		d.idToUsername[friend.ID] = friend.Username
		d.usernameToID[friend.Username] = friend.ID
	}

	d.logger.Debug("Directory rebuilt", "friends", len(d.friends))
}

// ResolveUsername resolves a tagged recipient to a canonical username. A
// recipient tagged by username passes through; an id is looked up and falls
// back to its decimal form when unmapped. Total function; never fails.
func (d *Directory) ResolveUsername(recipient models.Recipient) string {
	if username, ok := recipient.Username(); ok {
		return username
	}

	id, _ := recipient.ID()
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if username, ok := d.idToUsername[id]; ok {
		return username
	}
	return recipient.String()
}

// ResolveID returns the decimal user id for a username, or the username
// itself as a degraded-but-usable identifier when unmapped.
func (d *Directory) ResolveID(username string) string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	if id, ok := d.usernameToID[username]; ok {
		return strconv.Itoa(id)
	}
	return username
}

// DerivePeerAddress computes the deterministic peer address for a username.
// Pure and case-insensitive.
func (d *Directory) DerivePeerAddress(username string) string {
	return peerAddressPrefix + strings.ToLower(username)
}

// UsernameFromPeerAddress reverses the deterministic address scheme by
// stripping the namespace prefix. Unprefixed input is returned as-is.
func (d *Directory) UsernameFromPeerAddress(address string) string {
	return strings.TrimPrefix(address, peerAddressPrefix)
}

// Friend returns the full contact record for a username.
func (d *Directory) Friend(username string) (models.Friend, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	friend, ok := d.friends[username]
	return friend, ok
}

// Friends returns a snapshot of all contacts.
func (d *Directory) Friends() []models.Friend {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	friends := make([]models.Friend, 0, len(d.friends))
	for _, friend := range d.friends {
		friends = append(friends, friend)
	}
	return friends
}
