package store

import (
	"context"
	"errors"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

// ErrStorageUnavailable is returned by Load when the backing medium exists
// but cannot be read or decoded. A missing medium is an empty roster.
var ErrStorageUnavailable = errors.New("roster storage unavailable")

// RosterSnapshot is the full persisted roster. Entries are in insertion
// order; Legacy holds display-only lines that carry no tag id.
type RosterSnapshot struct {
	Entries []types.PermissionEntry
	Legacy  []types.LegacyEntry
}

// RosterBackend persists the roster as a whole. Save replaces whatever was
// stored before.
type RosterBackend interface {
	Load(ctx context.Context) (RosterSnapshot, error)
	Save(ctx context.Context, snap RosterSnapshot) error
}

// Clone returns a deep copy so callers can't alias a backend's state.
func (s RosterSnapshot) Clone() RosterSnapshot {
	out := RosterSnapshot{}
	if s.Entries != nil {
		out.Entries = append([]types.PermissionEntry(nil), s.Entries...)
	}
	if s.Legacy != nil {
		out.Legacy = append([]types.LegacyEntry(nil), s.Legacy...)
	}
	return out
}
