package service

import (
	"cmp"
	"slices"
	"strings"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

type Class string

const (
	ClassPermitted Class = "permitted"
	ClassDenied    Class = "denied"
	ClassUnknown   Class = "unknown"
)

type Source string

const (
	SourceTrusted Source = "trusted"
	SourceRoster  Source = "roster"
	SourceNone    Source = "none"
)

// Resolution is the outcome of an identity lookup. Identity is zero when
// Class is ClassUnknown.
type Resolution struct {
	Identity types.Identity
	Class    Class
	Source   Source
}

// DefaultTrusted are the identities the facility was provisioned with.
func DefaultTrusted() []types.Identity {
	return []types.Identity{
		{TagID: "89 D3 9D 94", DisplayName: "Swaroop", Role: "Admin"},
		{TagID: "13 D3 09 27", DisplayName: "Tester", Role: "User"},
	}
}

// RosterLookup is the part of the roster the resolver needs.
type RosterLookup interface {
	Find(tag types.TagID) (types.PermissionEntry, bool)
}

// Resolver classifies tags: trusted table first, then the roster.
type Resolver struct {
	trusted map[types.TagID]types.Identity
	roster  RosterLookup
}

func NewResolver(trusted []types.Identity, roster RosterLookup) *Resolver {
	t := make(map[types.TagID]types.Identity, len(trusted))
	for _, id := range trusted {
		tag := types.NormalizeTagID(string(id.TagID))
		if tag == "" || strings.TrimSpace(id.DisplayName) == "" {
			continue
		}
		id.TagID = tag
		t[tag] = id
	}
	return &Resolver{trusted: t, roster: roster}
}

func (r *Resolver) Resolve(tag types.TagID) Resolution {
	tag = types.NormalizeTagID(string(tag))
	if tag == "" {
		return Resolution{Class: ClassUnknown, Source: SourceNone}
	}

	if id, ok := r.trusted[tag]; ok {
		return Resolution{Identity: id, Class: ClassPermitted, Source: SourceTrusted}
	}

	// A tag has at most one roster entry, so the permitted-before-denied
	// order collapses to a single lookup.
	if e, ok := r.roster.Find(tag); ok {
		class := ClassDenied
		if e.Decision == types.Permitted {
			class = ClassPermitted
		}
		return Resolution{Identity: e.Identity(), Class: class, Source: SourceRoster}
	}

	return Resolution{Class: ClassUnknown, Source: SourceNone}
}

// Trusted returns the built-in table ordered by tag id.
func (r *Resolver) Trusted() []types.Identity {
	out := make([]types.Identity, 0, len(r.trusted))
	for _, id := range r.trusted {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b types.Identity) int { return cmp.Compare(a.TagID, b.TagID) })
	return out
}
