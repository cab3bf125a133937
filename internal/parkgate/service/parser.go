package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

// TagMarker prefixes the tag id in reader output, e.g. "Card UID: 89 D3 9D 94".
const TagMarker = "Card UID:"

// TagRead is one parsed card presentation.
type TagRead struct {
	TagID types.TagID
	Raw   string
}

// ParseLine extracts a tag read from a serial line. ok is false for any
// line that is not a usable tag event.
func ParseLine(line string) (TagRead, bool) {
	read, err := ParseLineStrict(line)
	return read, err == nil
}

// ParseLineStrict is ParseLine with a reason: ErrMalformedEvent when the
// marker is present but carries no id, a plain not-a-tag error otherwise.
func ParseLineStrict(line string) (TagRead, error) {
	idx := strings.Index(line, TagMarker)
	if idx < 0 {
		return TagRead{}, errNotTagEvent
	}

	tag := types.NormalizeTagID(line[idx+len(TagMarker):])
	if tag == "" {
		return TagRead{}, fmt.Errorf("%w: %q", ErrMalformedEvent, line)
	}
	return TagRead{TagID: tag, Raw: line}, nil
}

var errNotTagEvent = errors.New("not a tag event")
