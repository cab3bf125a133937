package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store"
)

// RosterBackend keeps the roster in process memory. It is intended for
// tests and dry runs; SetSaveError lets tests simulate a failing medium.
type RosterBackend struct {
	mu      sync.Mutex
	snap    store.RosterSnapshot
	saveErr error
	saves   int
}

func New() *RosterBackend {
	return &RosterBackend{}
}

// NewWith returns a backend pre-loaded with snap.
func NewWith(snap store.RosterSnapshot) *RosterBackend {
	return &RosterBackend{snap: snap.Clone()}
}

func (b *RosterBackend) Load(_ context.Context) (store.RosterSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.Clone(), nil
}

func (b *RosterBackend) Save(_ context.Context, snap store.RosterSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves++
	if b.saveErr != nil {
		return b.saveErr
	}
	b.snap = snap.Clone()
	return nil
}

// SetSaveError makes subsequent saves fail with err (nil restores them).
func (b *RosterBackend) SetSaveError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
}

// Saves returns how many times Save was called. Test-only helper.
func (b *RosterBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}
