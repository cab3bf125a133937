package types

import "time"

// DefaultSlotCount is the number of bays in the facility.
const DefaultSlotCount = 4

type SlotState string

const (
	SlotAvailable SlotState = "available"
	SlotOccupied  SlotState = "occupied"
	SlotDenied    SlotState = "denied"
)

// Assignable reports whether a car may be put into a slot in this state.
func (s SlotState) Assignable() bool {
	return s == SlotAvailable || s == SlotDenied
}

type Slot struct {
	Index    int        `json:"index"`
	State    SlotState  `json:"state"`
	Occupant *Identity  `json:"occupant,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
}
