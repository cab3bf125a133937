package types

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidDecision = errors.New("decision must be permitted or denied")

type Decision string

const (
	Permitted Decision = "permitted"
	Denied    Decision = "denied"
)

func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Permitted):
		return Permitted, nil
	case string(Denied):
		return Denied, nil
	}
	return "", ErrInvalidDecision
}

// PermissionEntry is one roster row. The roster holds at most one entry per
// TagID.
type PermissionEntry struct {
	TagID       TagID     `json:"tag_id"`
	DisplayName string    `json:"name"`
	Role        string    `json:"role"`
	Decision    Decision  `json:"decision"`
	AddedAt     time.Time `json:"added_at"`
}

func (e PermissionEntry) Identity() Identity {
	return Identity{TagID: e.TagID, DisplayName: e.DisplayName, Role: e.Role}
}

// LegacyEntry is a roster line imported from the old display-string format
// that carried no tag id. It is shown to operators but never matched.
type LegacyEntry struct {
	Decision Decision `json:"decision"`
	Text     string   `json:"text"`
}
