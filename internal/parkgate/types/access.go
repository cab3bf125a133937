package types

import "time"

type Outcome string

const (
	OutcomeGrantedNewSlot Outcome = "granted_new_slot"
	OutcomeReleased       Outcome = "released"
	OutcomeDeniedNoSlot   Outcome = "denied_no_slot"
	OutcomeDeniedIdentity Outcome = "denied_identity"
	OutcomeUnknownTag     Outcome = "unknown_tag"
)

// AccessEvent is the audit record of one decision.
type AccessEvent struct {
	TagID     TagID     `json:"tag_id"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   Outcome   `json:"outcome"`
	SlotIndex *int      `json:"slot_index,omitempty"`
	Identity  *Identity `json:"identity,omitempty"`
}

type PromptKind string

const (
	PromptSlotChoice PromptKind = "slot_choice"
	PromptOnboarding PromptKind = "onboarding"
)

// Prompt is an operator request the engine is suspended on. For slot choice
// Identity and Assignable are set; for onboarding only TagID is.
type Prompt struct {
	ID         string     `json:"id"`
	Kind       PromptKind `json:"kind"`
	TagID      TagID      `json:"tag_id"`
	Identity   *Identity  `json:"identity,omitempty"`
	Assignable []int      `json:"assignable,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
