// Package auth gates authenticated backend calls on the local session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zombor/dealsafe/internal/failure"
	"github.com/zombor/dealsafe/internal/session"
)

// Listener is told when the backend invalidates the session
type Listener interface {
	SessionExpired()
}

// Guard wraps every authenticated call. On a 401 it clears the stored session,
// marks itself unauthenticated and notifies the listener; later calls fail fast
// with failure.ErrNotAuthenticated without touching the network.
type Guard struct {
	store    session.Store
	listener Listener

	mu      sync.RWMutex
	current session.Session
}

// NewGuard creates a Guard. listener may be nil.
func NewGuard(store session.Store, listener Listener) *Guard {
	return &Guard{
		store:    store,
		listener: listener,
	}
}

// Load restores a previously saved session
func (g *Guard) Load() error {
	s, err := g.store.GetSession()
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	g.mu.Lock()
	g.current = s
	g.mu.Unlock()
	return nil
}

// Begin persists a freshly verified session and makes it current
func (g *Guard) Begin(s session.Session) error {
	if err := g.store.SetSession(s); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	g.mu.Lock()
	g.current = s
	g.mu.Unlock()
	return nil
}

// End clears the session, used for explicit logout
func (g *Guard) End() error {
	g.mu.Lock()
	g.current = session.Session{}
	g.mu.Unlock()
	if err := g.store.ClearSession(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// Authenticated reports whether a token is present
func (g *Guard) Authenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current.Valid()
}

// Current returns the active session
func (g *Guard) Current() (session.Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.current.Valid() {
		return session.Session{}, failure.ErrNotAuthenticated
	}
	return g.current, nil
}

// Do runs fn with the current token
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	s, err := g.Current()
	if err != nil {
		return err
	}

	err = fn(ctx, s.Token)
	if err == nil || !errors.Is(err, failure.ErrUnauthorized) {
		return err
	}

	g.expire(s.Token)
	return fmt.Errorf("%w: %w", failure.ErrSessionExpired, err)
}

// expire drops the session once, even if several in-flight calls see the same 401
func (g *Guard) expire(token string) {
	g.mu.Lock()
	if g.current.Token != token {
		g.mu.Unlock()
		return
	}
	g.current = session.Session{}
	g.mu.Unlock()

	slog.Warn("Session expired, clearing stored credentials")
	if err := g.store.ClearSession(); err != nil {
		slog.Error("Failed to clear session", "error", err)
	}
	if g.listener != nil {
		g.listener.SessionExpired()
	}
}
