package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/service"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store/jsonfile"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store/memory"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

func entry(tag types.TagID, name string, d types.Decision) types.PermissionEntry {
	return types.PermissionEntry{TagID: tag, DisplayName: name, Role: "User", Decision: d, AddedAt: t0}
}

func TestRoster_UpsertThenFind(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	r := service.NewRoster(backend)

	require.NoError(t, r.Upsert(ctx, entry("aa bb cc dd", "Guest", types.Denied)))

	got, ok := r.Find("AA BB CC DD")
	require.True(t, ok)
	require.Equal(t, types.TagID("AA BB CC DD"), got.TagID)
	require.Equal(t, types.Denied, got.Decision)
	require.Equal(t, 1, backend.Saves())
}

func TestRoster_LastWriteWinsAndKeepsPosition(t *testing.T) {
	ctx := context.Background()
	r := service.NewRoster(memory.New())

	require.NoError(t, r.Upsert(ctx, entry("01 01 01 01", "First", types.Permitted)))
	require.NoError(t, r.Upsert(ctx, entry("02 02 02 02", "Second", types.Permitted)))
	require.NoError(t, r.Upsert(ctx, entry("01 01 01 01", "First Renamed", types.Permitted)))

	require.Equal(t, 2, r.Len())
	view := r.Snapshot()
	require.Len(t, view.Permitted, 2)
	require.Equal(t, "First Renamed", view.Permitted[0].DisplayName)
	require.Equal(t, "Second", view.Permitted[1].DisplayName)
}

func TestRoster_UpsertMovesBetweenLists(t *testing.T) {
	ctx := context.Background()
	r := service.NewRoster(memory.New())

	require.NoError(t, r.Upsert(ctx, entry("01 01 01 01", "Sam", types.Permitted)))
	require.NoError(t, r.Upsert(ctx, entry("01 01 01 01", "Sam", types.Denied)))

	view := r.Snapshot()
	require.Empty(t, view.Permitted)
	require.Len(t, view.Denied, 1)
}

func TestRoster_UpsertValidation(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	r := service.NewRoster(backend)

	require.ErrorIs(t, r.Upsert(ctx, entry("  ", "Guest", types.Denied)), service.ErrInvalidTagID)
	require.ErrorIs(t, r.Upsert(ctx, entry("01 02", " ", types.Denied)), service.ErrInvalidName)
	require.ErrorIs(t, r.Upsert(ctx, entry("01 02", "Guest", "maybe")), types.ErrInvalidDecision)
	require.Equal(t, 0, r.Len())
	require.Equal(t, 0, backend.Saves())
}

func TestRoster_SaveFailureKeepsInMemoryChange(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	backend.SetSaveError(errors.New("disk full"))
	r := service.NewRoster(backend)

	err := r.Upsert(ctx, entry("11 22 33 44", "Priya", types.Permitted))
	require.ErrorIs(t, err, service.ErrStorageWriteFailed)
	require.Contains(t, err.Error(), "disk full")

	got, ok := r.Find("11 22 33 44")
	require.True(t, ok)
	require.Equal(t, "Priya", got.DisplayName)
}

func TestRoster_ClearByDecision(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewWith(store.RosterSnapshot{
		Entries: []types.PermissionEntry{
			entry("01 01 01 01", "A", types.Permitted),
			entry("02 02 02 02", "B", types.Denied),
			entry("03 03 03 03", "C", types.Permitted),
		},
		Legacy: []types.LegacyEntry{
			{Decision: types.Permitted, Text: "Old (User)"},
			{Decision: types.Denied, Text: "Intruder"},
		},
	})
	r := service.NewRoster(backend)
	require.NoError(t, r.Load(ctx))

	n, err := r.Clear(ctx, types.Permitted)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	view := r.Snapshot()
	require.Empty(t, view.Permitted)
	require.Len(t, view.Denied, 1)
	require.Equal(t, []types.LegacyEntry{{Decision: types.Denied, Text: "Intruder"}}, view.Legacy)

	persisted, err := backend.Load(ctx)
	require.NoError(t, err)
	require.Len(t, persisted.Entries, 1)
	require.Equal(t, types.TagID("02 02 02 02"), persisted.Entries[0].TagID)

	_, err = r.Clear(ctx, "everyone")
	require.ErrorIs(t, err, types.ErrInvalidDecision)
}

func TestRoster_LoadDeduplicatesAndNormalizes(t *testing.T) {
	ctx := context.Background()
	r := service.NewRoster(memory.NewWith(store.RosterSnapshot{Entries: []types.PermissionEntry{
		entry("01 01 01 01", "Old", types.Permitted),
		entry("02 02 02 02", "Other", types.Permitted),
		entry("01010101", "New", types.Denied),
		entry("", "Broken", types.Denied),
	}}))
	require.NoError(t, r.Load(ctx))

	require.Equal(t, 2, r.Len())
	got, ok := r.Find("01 01 01 01")
	require.True(t, ok)
	require.Equal(t, "New", got.DisplayName)
	require.Equal(t, types.Denied, got.Decision)
}

func TestRoster_LoadPropagatesStorageUnavailable(t *testing.T) {
	// A directory in place of the file can't be read as a roster.
	r := service.NewRoster(jsonfile.NewRosterStore(t.TempDir()))

	err := r.Load(context.Background())
	require.ErrorIs(t, err, service.ErrStorageUnavailable)
	require.Equal(t, 0, r.Len())
}

func TestRoster_RoundTripThroughFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.json")

	r := service.NewRoster(jsonfile.NewRosterStore(path))
	require.NoError(t, r.Load(ctx))
	require.NoError(t, r.Upsert(ctx, entry("11 22 33 44", "Priya", types.Permitted)))
	require.NoError(t, r.Upsert(ctx, entry("AA BB CC DD", "Guest", types.Denied)))
	require.NoError(t, r.Upsert(ctx, entry("55 66 77 88", "Lee", types.Permitted)))

	reloaded := service.NewRoster(jsonfile.NewRosterStore(path))
	require.NoError(t, reloaded.Load(ctx))

	require.Equal(t, r.Len(), reloaded.Len())
	for _, e := range append(r.Snapshot().Permitted, r.Snapshot().Denied...) {
		got, ok := reloaded.Find(e.TagID)
		require.True(t, ok, "tag %s", e.TagID)
		require.Equal(t, e.DisplayName, got.DisplayName)
		require.Equal(t, e.Role, got.Role)
		require.Equal(t, e.Decision, got.Decision)
		require.True(t, e.AddedAt.Equal(got.AddedAt))
	}
}

func TestRoster_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	r := service.NewRoster(memory.New())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tag := types.TagID(fmt.Sprintf("%02X %02X", i, i))
			_ = r.Upsert(ctx, entry(tag, "car", types.Permitted))
			_, _ = r.Find(tag)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 50, r.Len())
}
