package models

import "strconv"

// Friend is one record of the periodically refreshed contact list. The
// friend collaborator supplies these wholesale; the directory never updates
// them partially.
type Friend struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	IsOnline bool   `json:"is_online,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Session is the credential record supplied by the auth collaborator. The
// core reads it but never refreshes it.
type Session struct {
	Token    string `json:"token"`
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
}

// Valid reports whether the session carries a usable credential.
func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && s.Username != ""
}

type recipientKind int

const (
	recipientByUsername recipientKind = iota
	recipientByID
)

// Recipient is a tagged union identifying a message recipient either by
// username or by numeric user id. It replaces duck-typed recipient
// arguments: the caller states which identifier it holds.
type Recipient struct {
	kind     recipientKind
	username string
	id       int
}

// ByUsername identifies a recipient by username.
func ByUsername(username string) Recipient {
	return Recipient{kind: recipientByUsername, username: username}
}

// ByID identifies a recipient by numeric user id.
func ByID(id int) Recipient {
	return Recipient{kind: recipientByID, id: id}
}

// Username returns the username and true when the recipient was tagged by
// username.
func (r Recipient) Username() (string, bool) {
	return r.username, r.kind == recipientByUsername
}

// ID returns the user id and true when the recipient was tagged by id.
func (r Recipient) ID() (int, bool) {
	return r.id, r.kind == recipientByID
}

// String stringifies the identifier the recipient carries. This is the
// degraded fallback used when the directory cannot resolve it.
func (r Recipient) String() string {
	if r.kind == recipientByUsername {
		return r.username
	}
	return strconv.Itoa(r.id)
}
