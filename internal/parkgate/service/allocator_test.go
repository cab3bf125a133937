package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/service"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

var t0 = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

func ident(tag types.TagID, name string) types.Identity {
	return types.Identity{TagID: tag, DisplayName: name, Role: "User"}
}

func TestAllocator_StartsAllAvailable(t *testing.T) {
	a := service.NewAllocator(types.DefaultSlotCount)

	require.Equal(t, 4, a.Len())
	require.Equal(t, []int{0, 1, 2, 3}, a.ListAssignable())
	for i, s := range a.Snapshot() {
		require.Equal(t, i, s.Index)
		require.Equal(t, types.SlotAvailable, s.State)
		require.Nil(t, s.Occupant)
	}
}

func TestAllocator_NonPositiveSizeFallsBackToDefault(t *testing.T) {
	require.Equal(t, types.DefaultSlotCount, service.NewAllocator(0).Len())
}

func TestAllocator_AssignAndRelease(t *testing.T) {
	a := service.NewAllocator(4)
	id := ident("11 22 33 44", "Priya")

	require.NoError(t, a.Assign(2, id, t0))

	idx, ok := a.FindOccupantSlot("11 22 33 44")
	require.True(t, ok)
	require.Equal(t, 2, idx)
	require.Equal(t, []int{0, 1, 3}, a.ListAssignable())

	snap := a.Snapshot()
	require.Equal(t, types.SlotOccupied, snap[2].State)
	require.Equal(t, id, *snap[2].Occupant)
	require.True(t, snap[2].Since.Equal(t0))

	prev, err := a.Release(2, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "Priya", prev.Occupant.DisplayName)

	_, ok = a.FindOccupantSlot("11 22 33 44")
	require.False(t, ok)
	require.Equal(t, types.SlotAvailable, a.Snapshot()[2].State)
	require.Nil(t, a.Snapshot()[2].Occupant)
}

func TestAllocator_AssignOccupiedSlot(t *testing.T) {
	a := service.NewAllocator(4)
	require.NoError(t, a.Assign(0, ident("11 22 33 44", "Priya"), t0))

	err := a.Assign(0, ident("55 66 77 88", "Lee"), t0)
	require.True(t, errors.Is(err, service.ErrSlotNotAssignable), "got %v", err)
	require.Equal(t, "Priya", a.Snapshot()[0].Occupant.DisplayName)
}

func TestAllocator_OneSlotPerTag(t *testing.T) {
	a := service.NewAllocator(4)
	id := ident("11 22 33 44", "Priya")
	require.NoError(t, a.Assign(0, id, t0))

	err := a.Assign(1, id, t0)
	require.True(t, errors.Is(err, service.ErrSlotNotAssignable), "got %v", err)
	require.Equal(t, types.SlotAvailable, a.Snapshot()[1].State)
}

func TestAllocator_OutOfRange(t *testing.T) {
	a := service.NewAllocator(4)

	require.ErrorIs(t, a.Assign(4, ident("11", "x"), t0), service.ErrSlotOutOfRange)
	require.ErrorIs(t, a.Assign(-1, ident("11", "x"), t0), service.ErrSlotOutOfRange)
	_, err := a.Release(9, t0)
	require.ErrorIs(t, err, service.ErrSlotOutOfRange)
}

func TestAllocator_ReleaseNotOccupied(t *testing.T) {
	a := service.NewAllocator(4)

	_, err := a.Release(1, t0)
	require.ErrorIs(t, err, service.ErrSlotNotOccupied)

	_, err = a.MarkDenied(t0)
	require.NoError(t, err)
	_, err = a.Release(0, t0)
	require.ErrorIs(t, err, service.ErrSlotNotOccupied)
}

func TestAllocator_MarkDeniedPicksLowestFreeSlot(t *testing.T) {
	a := service.NewAllocator(4)
	require.NoError(t, a.Assign(0, ident("11 22 33 44", "Priya"), t0))

	idx, err := a.MarkDenied(t0)
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	s := a.Snapshot()[1]
	require.Equal(t, types.SlotDenied, s.State)
	require.Nil(t, s.Occupant)
	require.NotNil(t, s.Since)

	// Denied slots stay assignable and are reused first.
	require.Equal(t, []int{1, 2, 3}, a.ListAssignable())
	idx, err = a.MarkDenied(t0)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
}

func TestAllocator_DeniedSlotCanBeOccupied(t *testing.T) {
	a := service.NewAllocator(4)
	_, err := a.MarkDenied(t0)
	require.NoError(t, err)

	require.NoError(t, a.Assign(0, ident("11 22 33 44", "Priya"), t0))
	require.Equal(t, types.SlotOccupied, a.Snapshot()[0].State)
}

func TestAllocator_MarkDeniedNeverTakesOccupiedSlot(t *testing.T) {
	a := service.NewAllocator(4)
	tags := []types.TagID{"01 01 01 01", "02 02 02 02", "03 03 03 03", "04 04 04 04"}
	for i, tag := range tags {
		require.NoError(t, a.Assign(i, ident(tag, "car"), t0))
	}
	before := a.Snapshot()

	idx, err := a.MarkDenied(t0.Add(time.Minute))
	require.ErrorIs(t, err, service.ErrNoSlotSelectable)
	require.Equal(t, -1, idx)
	require.Equal(t, before, a.Snapshot())
	require.Empty(t, a.ListAssignable())
}

func TestAllocator_SnapshotIsACopy(t *testing.T) {
	a := service.NewAllocator(4)
	require.NoError(t, a.Assign(0, ident("11 22 33 44", "Priya"), t0))

	snap := a.Snapshot()
	snap[0].Occupant.DisplayName = "Mallory"
	snap[0].State = types.SlotAvailable

	fresh := a.Snapshot()[0]
	require.Equal(t, types.SlotOccupied, fresh.State)
	require.Equal(t, "Priya", fresh.Occupant.DisplayName)
}
