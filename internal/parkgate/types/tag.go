package types

import (
	"strings"
)

// TagID is a normalized RFID credential identifier, e.g. "89 D3 9D 94".
type TagID string

func (t TagID) String() string { return string(t) }

// NormalizeTagID canonicalizes a vendor-formatted tag id so that case and
// spacing differences compare equal. Even-length hex ids are regrouped into
// space-separated byte pairs; anything else keeps its upper-cased text with
// whitespace runs collapsed.
func NormalizeTagID(raw string) TagID {
	fields := strings.Fields(strings.ToUpper(raw))
	if len(fields) == 0 {
		return ""
	}

	compact := strings.Join(fields, "")
	if len(compact)%2 != 0 || !isHex(compact) {
		return TagID(strings.Join(fields, " "))
	}

	var b strings.Builder
	b.Grow(len(compact) + len(compact)/2)
	for i := 0; i < len(compact); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(compact[i : i+2])
	}
	return TagID(b.String())
}

// IsHexTagID reports whether raw looks like a vendor tag id: an even
// number of hex digits, optionally grouped by whitespace.
func IsHexTagID(raw string) bool {
	compact := strings.Join(strings.Fields(strings.ToUpper(raw)), "")
	return compact != "" && len(compact)%2 == 0 && isHex(compact)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Identity is the bearer of a tag. Values are never mutated once stored;
// re-adding the same TagID supersedes the previous identity.
type Identity struct {
	TagID       TagID  `json:"tag_id"`
	DisplayName string `json:"name"`
	Role        string `json:"role"`
}

// Label renders the identity the way operators are used to seeing it.
func (i Identity) Label() string {
	if i.Role == "" {
		return i.DisplayName
	}
	return i.DisplayName + " (" + i.Role + ")"
}
