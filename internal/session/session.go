// Package session holds the authenticated credential pair and its storage contract.
package session

import (
	"errors"
	"time"
)

// ErrNoSession is returned by a Store when nothing has been saved
var ErrNoSession = errors.New("no session stored")

// User is the account the token belongs to
type User struct {
	ID          int64     `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is the token plus the user it was issued for
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Valid reports whether the session carries a token
func (s Session) Valid() bool {
	return s.Token != ""
}

// Store defines the key-value contract for persisting the session
type Store interface {
	// GetSession returns the saved session or ErrNoSession
	GetSession() (Session, error)

	// SetSession persists the token and user
	SetSession(s Session) error

	// ClearSession removes the token and user
	ClearSession() error
}
