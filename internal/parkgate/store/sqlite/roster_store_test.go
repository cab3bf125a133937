package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store"
	sqlitestore "github.com/BrandonDHaskell/parkgate/internal/parkgate/store/sqlite"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

func TestRosterStore_EmptyDatabaseLoadsEmptyRoster(t *testing.T) {
	conn := openTestDB(t)
	rs := sqlitestore.NewRosterStore(conn, newTestWriter(t, conn))

	snap, err := rs.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Entries) != 0 || len(snap.Legacy) != 0 {
		t.Errorf("expected empty roster, got %+v", snap)
	}
}

func TestRosterStore_SaveLoad_PreservesOrderAndFields(t *testing.T) {
	conn := openTestDB(t)
	rs := sqlitestore.NewRosterStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	added := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	in := store.RosterSnapshot{
		Entries: []types.PermissionEntry{
			{TagID: "11 22 33 44", DisplayName: "Priya", Role: "User", Decision: types.Permitted, AddedAt: added},
			{TagID: "AA BB CC DD", DisplayName: "Guest", Role: "Visitor", Decision: types.Denied},
			{TagID: "01 02 03 04", DisplayName: "Lee", Role: "Staff", Decision: types.Permitted, AddedAt: added.Add(time.Hour)},
		},
		Legacy: []types.LegacyEntry{
			{Decision: types.Permitted, Text: "Swaroop (Admin)"},
		},
	}
	if err := rs.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := rs.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out.Entries) != len(in.Entries) {
		t.Fatalf("expected %d entries, got %d", len(in.Entries), len(out.Entries))
	}
	for i := range in.Entries {
		want, got := in.Entries[i], out.Entries[i]
		if got.TagID != want.TagID || got.DisplayName != want.DisplayName ||
			got.Role != want.Role || got.Decision != want.Decision || !got.AddedAt.Equal(want.AddedAt) {
			t.Errorf("entry %d: got %+v, want %+v", i, got, want)
		}
	}
	if len(out.Legacy) != 1 || out.Legacy[0] != in.Legacy[0] {
		t.Errorf("legacy not preserved: %+v", out.Legacy)
	}
}

func TestRosterStore_SaveReplacesPreviousContents(t *testing.T) {
	conn := openTestDB(t)
	rs := sqlitestore.NewRosterStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	first := store.RosterSnapshot{Entries: []types.PermissionEntry{
		{TagID: "11 22 33 44", DisplayName: "Priya", Decision: types.Permitted},
		{TagID: "AA BB CC DD", DisplayName: "Guest", Decision: types.Denied},
	}}
	if err := rs.Save(ctx, first); err != nil {
		t.Fatalf("Save first: %v", err)
	}

	second := store.RosterSnapshot{Entries: []types.PermissionEntry{
		{TagID: "AA BB CC DD", DisplayName: "Guest", Role: "Visitor", Decision: types.Permitted},
	}}
	if err := rs.Save(ctx, second); err != nil {
		t.Fatalf("Save second: %v", err)
	}

	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM roster_entries`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row after replace, got %d", count)
	}

	var decision string
	if err := conn.QueryRowContext(ctx,
		`SELECT decision FROM roster_entries WHERE tag_id = ?`, "AA BB CC DD",
	).Scan(&decision); err != nil {
		t.Fatalf("query: %v", err)
	}
	if decision != "permitted" {
		t.Errorf("expected decision=permitted, got %q", decision)
	}
}

func TestRosterStore_RejectsUnknownDecisionAtSchemaLevel(t *testing.T) {
	conn := openTestDB(t)
	rs := sqlitestore.NewRosterStore(conn, newTestWriter(t, conn))

	err := rs.Save(context.Background(), store.RosterSnapshot{Entries: []types.PermissionEntry{
		{TagID: "11 22 33 44", DisplayName: "Priya", Decision: types.Decision("maybe")},
	}})
	if err == nil {
		t.Fatal("expected CHECK constraint failure")
	}

	snap, err := rs.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Entries) != 0 {
		t.Errorf("failed save must not leave rows, got %+v", snap.Entries)
	}
}
