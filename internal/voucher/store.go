package voucher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zombor/dealsafe/internal/failure"
)

// Remote defines the authenticated backend operations the store relies on
type Remote interface {
	// ListVouchers returns the full authoritative list
	ListVouchers(ctx context.Context) ([]Voucher, error)

	// MarkUsed archives a voucher
	MarkUsed(ctx context.Context, id int64) error

	// DeleteVoucher removes a voucher server-side
	DeleteVoucher(ctx context.Context, id int64) error
}

// Cache persists the last authoritative list between runs
type Cache interface {
	SaveVouchers(vouchers []Voucher) error
	LoadVouchers() ([]Voucher, error)
}

// Store is the process-wide reconciled voucher list.
// Refresh replaces the list wholesale; it never merges.
type Store struct {
	remote Remote
	cache  Cache

	mu    sync.RWMutex
	items []Voucher
}

// NewStore creates a Store. cache may be nil.
func NewStore(remote Remote, cache Cache) *Store {
	return &Store{
		remote: remote,
		cache:  cache,
	}
}

// All returns a copy of the current list
func (s *Store) All() []Voucher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Voucher, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of vouchers held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Refresh re-fetches the authoritative list and replaces the local one
func (s *Store) Refresh(ctx context.Context) error {
	vouchers, err := s.remote.ListVouchers(ctx)
	if err != nil {
		return fmt.Errorf("fetching vouchers: %w", err)
	}
	s.replace(vouchers)
	return nil
}

// LoadCached fills the list from the persisted snapshot
func (s *Store) LoadCached() error {
	if s.cache == nil {
		return nil
	}
	vouchers, err := s.cache.LoadVouchers()
	if err != nil {
		return fmt.Errorf("loading cached vouchers: %w", err)
	}
	s.mu.Lock()
	s.items = vouchers
	s.mu.Unlock()
	return nil
}

// Prepend puts a freshly analyzed voucher at the head of the list
func (s *Store) Prepend(v Voucher) {
	s.mu.Lock()
	s.items = append([]Voucher{v}, s.items...)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snapshot)
}

// Remove drops a voucher locally and reports whether it was present
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	found := false
	kept := s.items[:0:0]
	for _, v := range s.items {
		if v.ID == id {
			found = true
			continue
		}
		kept = append(kept, v)
	}
	s.items = kept
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if found {
		s.persist(snapshot)
	}
	return found
}

// Clear empties the list, used on logout
func (s *Store) Clear() {
	s.replace(nil)
}

// MarkUsed archives a voucher and refreshes the list
func (s *Store) MarkUsed(ctx context.Context, id int64) error {
	if err := s.remote.MarkUsed(ctx, id); err != nil {
		return fmt.Errorf("marking voucher %d as used: %w", id, err)
	}
	return s.Refresh(ctx)
}

// Delete removes a voucher server-side, then optimistically removes it locally.
// When the delete call fails the list is re-fetched so it reflects the server.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.remote.DeleteVoucher(ctx, id); err != nil {
		if !errors.Is(err, failure.ErrSessionExpired) && !errors.Is(err, failure.ErrNotAuthenticated) {
			if refreshErr := s.Refresh(ctx); refreshErr != nil {
				slog.Warn("Failed to refresh vouchers after delete error", "id", id, "error", refreshErr)
			}
		}
		return fmt.Errorf("deleting voucher %d: %w", id, err)
	}
	s.Remove(id)
	return nil
}

func (s *Store) replace(vouchers []Voucher) {
	s.mu.Lock()
	s.items = vouchers
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snapshot)
}

func (s *Store) snapshotLocked() []Voucher {
	out := make([]Voucher, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) persist(vouchers []Voucher) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SaveVouchers(vouchers); err != nil {
		slog.Warn("Failed to persist voucher snapshot", "count", len(vouchers), "error", err)
	}
}
