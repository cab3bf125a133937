package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/parkgate/internal/db"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

// RosterStore keeps the roster in the SQLite file. Reads go straight to the
// pool; writes are serialized through the Worker.
type RosterStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewRosterStore(db *sql.DB, writer *dbpkg.Worker) *RosterStore {
	return &RosterStore{db: db, writer: writer}
}

func (s *RosterStore) Load(ctx context.Context) (store.RosterSnapshot, error) {
	var snap store.RosterSnapshot

	rows, err := s.db.QueryContext(ctx, `
SELECT tag_id, display_name, role, decision, added_at_ms
FROM roster_entries
ORDER BY seq;
`)
	if err != nil {
		return snap, fmt.Errorf("%w: query roster_entries: %w", store.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tag, name, role, decision string
			addedMs                   sql.NullInt64
		)
		if err := rows.Scan(&tag, &name, &role, &decision, &addedMs); err != nil {
			return store.RosterSnapshot{}, fmt.Errorf("%w: scan roster entry: %w", store.ErrStorageUnavailable, err)
		}
		d, err := types.ParseDecision(decision)
		if err != nil {
			return store.RosterSnapshot{}, fmt.Errorf("%w: roster entry %s: %w", store.ErrStorageUnavailable, tag, err)
		}
		e := types.PermissionEntry{
			TagID:       types.TagID(tag),
			DisplayName: name,
			Role:        role,
			Decision:    d,
		}
		if addedMs.Valid {
			e.AddedAt = time.UnixMilli(addedMs.Int64).UTC()
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return store.RosterSnapshot{}, fmt.Errorf("%w: iterate roster_entries: %w", store.ErrStorageUnavailable, err)
	}
	// Release the single pooled connection before the next query.
	_ = rows.Close()

	legacyRows, err := s.db.QueryContext(ctx, `SELECT decision, text FROM roster_legacy ORDER BY id;`)
	if err != nil {
		return store.RosterSnapshot{}, fmt.Errorf("%w: query roster_legacy: %w", store.ErrStorageUnavailable, err)
	}
	defer legacyRows.Close()

	for legacyRows.Next() {
		var decision, text string
		if err := legacyRows.Scan(&decision, &text); err != nil {
			return store.RosterSnapshot{}, fmt.Errorf("%w: scan roster_legacy: %w", store.ErrStorageUnavailable, err)
		}
		snap.Legacy = append(snap.Legacy, types.LegacyEntry{Decision: types.Decision(decision), Text: text})
	}
	if err := legacyRows.Err(); err != nil {
		return store.RosterSnapshot{}, fmt.Errorf("%w: iterate roster_legacy: %w", store.ErrStorageUnavailable, err)
	}

	return snap, nil
}

// Save replaces the stored roster in one transaction. seq records the
// display order.
func (s *RosterStore) Save(ctx context.Context, snap store.RosterSnapshot) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM roster_entries;`); err != nil {
			return fmt.Errorf("Save clear roster_entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM roster_legacy;`); err != nil {
			return fmt.Errorf("Save clear roster_legacy: %w", err)
		}

		for i, e := range snap.Entries {
			var addedMs any
			if !e.AddedAt.IsZero() {
				addedMs = e.AddedAt.UTC().UnixMilli()
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO roster_entries(tag_id, display_name, role, decision, seq, added_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(tag_id) DO UPDATE SET
  display_name = excluded.display_name,
  role         = excluded.role,
  decision     = excluded.decision,
  added_at_ms  = excluded.added_at_ms;
`, string(e.TagID), e.DisplayName, e.Role, string(e.Decision), i, addedMs); err != nil {
				return fmt.Errorf("Save insert %s: %w", e.TagID, err)
			}
		}

		for _, l := range snap.Legacy {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO roster_legacy(decision, text) VALUES (?, ?);
`, string(l.Decision), l.Text); err != nil {
				return fmt.Errorf("Save insert legacy: %w", err)
			}
		}
		return nil
	})
}
