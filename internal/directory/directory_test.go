package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mmey/SecurityChat/internal/logger"
	"github.com/1mmey/SecurityChat/internal/models"
)

func newTestDirectory() *Directory {
	return New(logger.New("ERROR"))
}

func TestRebuildReplacesAllMappings(t *testing.T) {
	dir := newTestDirectory()

	dir.Rebuild([]models.Friend{
		{ID: 1, Username: "alice"},
		{ID: 2, Username: "bob"},
	})
	require.Len(t, dir.Friends(), 2)

	// A rebuild must never leave stale entries behind
	dir.Rebuild([]models.Friend{
		{ID: 3, Username: "carol"},
	})

	assert.Len(t, dir.Friends(), 1)
	_, ok := dir.Friend("alice")
	assert.False(t, ok)
	assert.Equal(t, "alice", dir.ResolveUsername(models.ByID(1)), "stale id mapping should be gone, falling back to decimal form")
	assert.Equal(t, "1", dir.ResolveUsername(models.ByID(1)))
}

func TestRebuildSkipsEmptyUsernames(t *testing.T) {
	dir := newTestDirectory()

	dir.Rebuild([]models.Friend{
		{ID: 1, Username: "alice"},
		{ID: 2, Username: ""},
	})

	assert.Len(t, dir.Friends(), 1)
	assert.Equal(t, "2", dir.ResolveUsername(models.ByID(2)))
}

func TestResolveUsername(t *testing.T) {
	dir := newTestDirectory()
	dir.Rebuild([]models.Friend{{ID: 7, Username: "dave"}})

	assert.Equal(t, "dave", dir.ResolveUsername(models.ByUsername("dave")))
	assert.Equal(t, "dave", dir.ResolveUsername(models.ByID(7)))
	assert.Equal(t, "99", dir.ResolveUsername(models.ByID(99)))
	assert.Equal(t, "stranger", dir.ResolveUsername(models.ByUsername("stranger")), "usernames pass through even when unmapped")
}

func TestResolveID(t *testing.T) {
	dir := newTestDirectory()
	dir.Rebuild([]models.Friend{{ID: 7, Username: "dave"}})

	assert.Equal(t, "7", dir.ResolveID("dave"))
	assert.Equal(t, "stranger", dir.ResolveID("stranger"))
}

func TestDerivePeerAddress(t *testing.T) {
	dir := newTestDirectory()

	assert.Equal(t, "chat_alice", dir.DerivePeerAddress("alice"))
	assert.Equal(t, "chat_alice", dir.DerivePeerAddress("Alice"), "address derivation is case-insensitive")
	assert.Equal(t, "chat_alice", dir.DerivePeerAddress("ALICE"))
}

func TestUsernameFromPeerAddress(t *testing.T) {
	dir := newTestDirectory()

	assert.Equal(t, "alice", dir.UsernameFromPeerAddress("chat_alice"))
	assert.Equal(t, "alice", dir.UsernameFromPeerAddress("alice"), "unprefixed input passes through")
}

func TestAddressRoundTrip(t *testing.T) {
	dir := newTestDirectory()

	for _, username := range []string{"alice", "bob", "user123"} {
		assert.Equal(t, username, dir.UsernameFromPeerAddress(dir.DerivePeerAddress(username)))
	}
}
