package httpapi

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/service"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

// ── Slots ────────────────────────────────────────────────────────────────────

type slotView struct {
	Index      int             `json:"index"`
	State      types.SlotState `json:"state"`
	Occupant   *types.Identity `json:"occupant,omitempty"`
	Since      *time.Time      `json:"since,omitempty"`
	SinceHuman string          `json:"since_human,omitempty"`
}

func slotsToView(slots []types.Slot, now time.Time) []slotView {
	out := make([]slotView, len(slots))
	for i, s := range slots {
		v := slotView{Index: s.Index, State: s.State, Occupant: s.Occupant, Since: s.Since}
		if s.Since != nil {
			v.SinceHuman = humanize.RelTime(*s.Since, now, "ago", "from now")
		}
		out[i] = v
	}
	return out
}

// ── Engine results ───────────────────────────────────────────────────────────

type resultView struct {
	Event    *types.AccessEvent `json:"event,omitempty"`
	Message  string             `json:"message,omitempty"`
	Prompt   *types.Prompt      `json:"prompt,omitempty"`
	Queued   bool               `json:"queued,omitempty"`
	Ignored  bool               `json:"ignored,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

func resultToView(res service.Result, warn error) resultView {
	v := resultView{
		Event:    res.Event,
		Prompt:   res.Prompt,
		Queued:   res.Queued,
		Ignored:  res.Ignored,
		Warnings: warningList(warn),
	}
	if res.Event != nil {
		v.Message = describeEvent(*res.Event)
	}
	return v
}

// describeEvent renders an event the way the operator log shows it. Slot
// numbers are 1-based for people.
func describeEvent(ev types.AccessEvent) string {
	who := string(ev.TagID)
	if ev.Identity != nil {
		who = ev.Identity.Label()
	}
	switch ev.Outcome {
	case types.OutcomeGrantedNewSlot:
		return fmt.Sprintf("Slot %d assigned to %s", *ev.SlotIndex+1, who)
	case types.OutcomeReleased:
		return fmt.Sprintf("Slot %d is now available (%s left)", *ev.SlotIndex+1, who)
	case types.OutcomeDeniedIdentity:
		if ev.SlotIndex != nil {
			return fmt.Sprintf("Access denied for %s; slot %d marked", who, *ev.SlotIndex+1)
		}
		return fmt.Sprintf("Access denied for %s", who)
	case types.OutcomeDeniedNoSlot:
		return fmt.Sprintf("No slot available for %s", who)
	case types.OutcomeUnknownTag:
		return fmt.Sprintf("Unknown user %s", ev.TagID)
	}
	return string(ev.Outcome)
}

// ── Requests ─────────────────────────────────────────────────────────────────

type addEntryRequest struct {
	TagID    string `json:"tag_id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Decision string `json:"decision"`
}

func (r addEntryRequest) toEntry() types.PermissionEntry {
	return types.PermissionEntry{
		TagID:       types.NormalizeTagID(r.TagID),
		DisplayName: r.Name,
		Role:        r.Role,
		Decision:    types.Decision(r.Decision),
	}
}

type chooseSlotRequest struct {
	Slot *int `json:"slot"`
}

type onboardRequest struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Decision string `json:"decision"`
}

type lineRequest struct {
	Line string `json:"line"`
}

type connectRequest struct {
	Port string `json:"port"`
}
