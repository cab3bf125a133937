package service

import (
	"errors"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store"
)

var (
	ErrInvalidTagID = errors.New("tag_id is required")
	ErrInvalidName  = errors.New("name is required")

	// Roster persistence. ErrStorageUnavailable is shared with the backends.
	ErrStorageUnavailable = store.ErrStorageUnavailable
	ErrStorageWriteFailed = errors.New("roster write failed")

	// Device egress.
	ErrTransportWriteFailed = errors.New("transport write failed")
	ErrNoEgress             = errors.New("no egress available")

	// Allocator misuse or exhaustion.
	ErrSlotNotAssignable = errors.New("slot not assignable")
	ErrSlotNotOccupied   = errors.New("slot not occupied")
	ErrNoSlotSelectable  = errors.New("no slot selectable")
	ErrSlotOutOfRange    = errors.New("slot index out of range")

	// A line carried the tag marker but no usable id. Never fatal.
	ErrMalformedEvent = errors.New("malformed tag event")

	// Operator prompts.
	ErrNoPendingPrompt = errors.New("no pending prompt")
	ErrPromptMismatch  = errors.New("prompt id does not match the pending prompt")
)

// IsWarning reports whether err only carries the non-fatal storage or
// transport failures that leave the in-memory decision in place.
func IsWarning(err error) bool {
	return err != nil && (errors.Is(err, ErrStorageWriteFailed) || errors.Is(err, ErrTransportWriteFailed))
}
