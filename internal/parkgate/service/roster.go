package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

// RosterView is a display snapshot of the roster, each list in insertion
// order.
type RosterView struct {
	// Trusted is the built-in table, always permitted and never persisted.
	Trusted   []types.Identity        `json:"trusted,omitempty"`
	Permitted []types.PermissionEntry `json:"permitted"`
	Denied    []types.PermissionEntry `json:"denied"`
	Legacy    []types.LegacyEntry     `json:"legacy,omitempty"`
}

// Roster is the authoritative in-memory permit/deny roster, keyed by
// normalized tag id and persisted through a RosterBackend on every
// mutation. A failed save leaves the in-memory change in place and is
// reported as ErrStorageWriteFailed.
type Roster struct {
	mu      sync.RWMutex
	backend store.RosterBackend
	order   []types.TagID
	entries map[types.TagID]types.PermissionEntry
	legacy  []types.LegacyEntry
	now     func() time.Time
}

func NewRoster(backend store.RosterBackend) *Roster {
	return &Roster{
		backend: backend,
		entries: make(map[types.TagID]types.PermissionEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Load replaces the in-memory roster with the backend's contents.
func (r *Roster) Load(ctx context.Context) error {
	snap, err := r.backend.Load(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = r.order[:0]
	r.entries = make(map[types.TagID]types.PermissionEntry, len(snap.Entries))
	for _, e := range snap.Entries {
		e.TagID = types.NormalizeTagID(string(e.TagID))
		if e.TagID == "" {
			continue
		}
		r.putLocked(e)
	}
	r.legacy = append([]types.LegacyEntry(nil), snap.Legacy...)
	return nil
}

// Upsert inserts or replaces the entry for e.TagID and persists the roster.
func (r *Roster) Upsert(ctx context.Context, e types.PermissionEntry) error {
	e.TagID = types.NormalizeTagID(string(e.TagID))
	e.DisplayName = strings.TrimSpace(e.DisplayName)
	e.Role = strings.TrimSpace(e.Role)
	if e.TagID == "" {
		return ErrInvalidTagID
	}
	if e.DisplayName == "" {
		return ErrInvalidName
	}
	d, err := types.ParseDecision(string(e.Decision))
	if err != nil {
		return err
	}
	e.Decision = d
	if e.AddedAt.IsZero() {
		e.AddedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.putLocked(e)
	return r.persistLocked(ctx)
}

func (r *Roster) putLocked(e types.PermissionEntry) {
	if _, exists := r.entries[e.TagID]; !exists {
		r.order = append(r.order, e.TagID)
	}
	r.entries[e.TagID] = e
}

// Clear drops every entry and legacy line with the given decision and
// persists. It returns how many keyed entries were removed.
func (r *Roster) Clear(ctx context.Context, d types.Decision) (int, error) {
	d, err := types.ParseDecision(string(d))
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	kept := r.order[:0]
	for _, tag := range r.order {
		if r.entries[tag].Decision == d {
			delete(r.entries, tag)
			removed++
			continue
		}
		kept = append(kept, tag)
	}
	r.order = kept

	legacy := r.legacy[:0]
	for _, l := range r.legacy {
		if l.Decision != d {
			legacy = append(legacy, l)
		}
	}
	r.legacy = legacy

	return removed, r.persistLocked(ctx)
}

func (r *Roster) Find(tag types.TagID) (types.PermissionEntry, bool) {
	tag = types.NormalizeTagID(string(tag))

	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[tag]
	return e, ok
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Roster) Snapshot() RosterView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v := RosterView{
		Permitted: []types.PermissionEntry{},
		Denied:    []types.PermissionEntry{},
	}
	for _, tag := range r.order {
		e := r.entries[tag]
		if e.Decision == types.Permitted {
			v.Permitted = append(v.Permitted, e)
		} else {
			v.Denied = append(v.Denied, e)
		}
	}
	if len(r.legacy) > 0 {
		v.Legacy = append([]types.LegacyEntry(nil), r.legacy...)
	}
	return v
}

func (r *Roster) snapshotLocked() store.RosterSnapshot {
	snap := store.RosterSnapshot{
		Entries: make([]types.PermissionEntry, 0, len(r.order)),
	}
	for _, tag := range r.order {
		snap.Entries = append(snap.Entries, r.entries[tag])
	}
	if len(r.legacy) > 0 {
		snap.Legacy = append([]types.LegacyEntry(nil), r.legacy...)
	}
	return snap
}

// persistLocked saves while the lock is held so saves land in mutation
// order.
func (r *Roster) persistLocked(ctx context.Context) error {
	if err := r.backend.Save(ctx, r.snapshotLocked()); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageWriteFailed, err)
	}
	return nil
}
