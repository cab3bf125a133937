package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

// Allocator owns the fixed array of parking slots.
//
// Transitions: Available -> Occupied (Assign), Occupied -> Available
// (Release), Available|Denied -> Denied (MarkDenied), Denied -> Occupied
// (Assign). A tag occupies at most one slot.
type Allocator struct {
	mu    sync.Mutex
	slots []types.Slot
}

func NewAllocator(n int) *Allocator {
	if n <= 0 {
		n = types.DefaultSlotCount
	}
	slots := make([]types.Slot, n)
	for i := range slots {
		slots[i] = types.Slot{Index: i, State: types.SlotAvailable}
	}
	return &Allocator{slots: slots}
}

func (a *Allocator) Len() int { return len(a.slots) }

func (a *Allocator) FindOccupantSlot(tag types.TagID) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.findOccupantLocked(tag)
}

func (a *Allocator) findOccupantLocked(tag types.TagID) (int, bool) {
	for i, s := range a.slots {
		if s.State == types.SlotOccupied && s.Occupant != nil && s.Occupant.TagID == tag {
			return i, true
		}
	}
	return -1, false
}

// ListAssignable returns the indexes an operator may choose from, in order.
func (a *Allocator) ListAssignable() []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]int, 0, len(a.slots))
	for i, s := range a.slots {
		if s.State.Assignable() {
			out = append(out, i)
		}
	}
	return out
}

func (a *Allocator) Assign(index int, id types.Identity, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index < 0 || index >= len(a.slots) {
		return fmt.Errorf("%w: %d", ErrSlotOutOfRange, index)
	}
	if !a.slots[index].State.Assignable() {
		return fmt.Errorf("%w: slot %d is %s", ErrSlotNotAssignable, index, a.slots[index].State)
	}
	if other, ok := a.findOccupantLocked(id.TagID); ok {
		return fmt.Errorf("%w: tag %s already occupies slot %d", ErrSlotNotAssignable, id.TagID, other)
	}

	occupant := id
	since := at.UTC()
	a.slots[index] = types.Slot{
		Index:    index,
		State:    types.SlotOccupied,
		Occupant: &occupant,
		Since:    &since,
	}
	return nil
}

// Release frees an occupied slot and returns what it held. The slot
// records when it became available again.
func (a *Allocator) Release(index int, at time.Time) (types.Slot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index < 0 || index >= len(a.slots) {
		return types.Slot{}, fmt.Errorf("%w: %d", ErrSlotOutOfRange, index)
	}
	prev := a.slots[index]
	if prev.State != types.SlotOccupied {
		return types.Slot{}, fmt.Errorf("%w: slot %d is %s", ErrSlotNotOccupied, index, prev.State)
	}

	since := at.UTC()
	a.slots[index] = types.Slot{Index: index, State: types.SlotAvailable, Since: &since}
	return prev, nil
}

// MarkDenied flags the lowest free slot as Denied to make a refusal
// visible on the board. No car is seated. When every slot is Occupied it
// returns ErrNoSlotSelectable and changes nothing.
func (a *Allocator) MarkDenied(at time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, s := range a.slots {
		if !s.State.Assignable() {
			continue
		}
		since := at.UTC()
		a.slots[i] = types.Slot{Index: i, State: types.SlotDenied, Since: &since}
		return i, nil
	}
	return -1, ErrNoSlotSelectable
}

// Snapshot returns deep copies of every slot.
func (a *Allocator) Snapshot() []types.Slot {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]types.Slot, len(a.slots))
	for i, s := range a.slots {
		c := types.Slot{Index: s.Index, State: s.State}
		if s.Occupant != nil {
			occ := *s.Occupant
			c.Occupant = &occ
		}
		if s.Since != nil {
			since := *s.Since
			c.Since = &since
		}
		out[i] = c
	}
	return out
}
