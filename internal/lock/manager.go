// Package lock implements the advisory, time-boxed edit lock on documents.
// The lock is plain data (holder plus expiry) persisted on the document row;
// mutual exclusion comes from comparing timestamps under a single manager
// mutex, not from an OS lock primitive, so crashed editors simply expire.
package lock

import (
	"context"
	"sync"
	"time"
)

// State is the lock portion of a document row. A zero Holder means unlocked.
type State struct {
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// HeldBy reports whether holder currently owns a non-expired lock at now.
func (s State) HeldBy(holder string, now time.Time) bool {
	return s.Holder == holder && s.Holder != "" && now.Before(s.ExpiresAt)
}

// Active reports whether anyone holds a non-expired lock at now.
func (s State) Active(now time.Time) bool {
	return s.Holder != "" && now.Before(s.ExpiresAt)
}

// Store is the persistence boundary for lock state. Implementations return
// the datastore's not-found error when the document does not exist.
type Store interface {
	LockState(ctx context.Context, documentID string) (State, error)
	SetLock(ctx context.Context, documentID string, state State) error
	ClearLock(ctx context.Context, documentID string) (bool, error)
}

// Manager serializes every check-and-grant so the expiry comparison and the
// write are one atomic step for all concurrent callers in this process.
type Manager struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

func New(store Store) *Manager {
	return NewWithClock(store, time.Now)
}

// NewWithClock injects the time source; each operation reads it exactly once.
func NewWithClock(store Store, now func() time.Time) *Manager {
	return &Manager{store: store, now: now}
}

// Acquire grants the lock when it is free, expired, or already held by the
// same identity (idempotent re-acquire, which refreshes the TTL). A live lock
// held by someone else returns ok=false with the blocking state; that is a
// recoverable conflict, not an error.
func (m *Manager) Acquire(ctx context.Context, documentID, holder string, ttl time.Duration) (bool, State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	current, err := m.store.LockState(ctx, documentID)
	if err != nil {
		return false, State{}, err
	}
	if current.Active(now) && current.Holder != holder {
		return false, current, nil
	}

	granted := State{Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	if err := m.store.SetLock(ctx, documentID, granted); err != nil {
		return false, State{}, err
	}
	return true, granted, nil
}

// Renew extends the lock only for its current non-expired holder. The new
// expiry counts from now, not from the previous expiry, so late renewals do
// not accumulate drift but also do not guarantee continuous coverage.
func (m *Manager) Renew(ctx context.Context, documentID, holder string, ttl time.Duration) (bool, State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	current, err := m.store.LockState(ctx, documentID)
	if err != nil {
		return false, State{}, err
	}
	if !current.HeldBy(holder, now) {
		return false, current, nil
	}

	renewed := State{Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	if err := m.store.SetLock(ctx, documentID, renewed); err != nil {
		return false, State{}, err
	}
	return true, renewed, nil
}

// Release unconditionally clears the lock. It reports false only when the
// document itself does not exist.
func (m *Manager) Release(ctx context.Context, documentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.ClearLock(ctx, documentID)
}
