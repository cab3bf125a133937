package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

const formatVersion = 2

type fileEntry struct {
	TagID   string     `json:"tag_id"`
	Name    string     `json:"name"`
	Role    string     `json:"role,omitempty"`
	AddedAt *time.Time `json:"added_at,omitempty"`
}

type fileFormat struct {
	Version   int                 `json:"version"`
	Permitted []fileEntry         `json:"permitted"`
	Denied    []fileEntry         `json:"denied"`
	Legacy    []types.LegacyEntry `json:"legacy,omitempty"`
}

// rawFormat accepts both the canonical layout and the old one, where
// permitted/denied were arrays of display strings.
type rawFormat struct {
	Version   int                 `json:"version"`
	Permitted []json.RawMessage   `json:"permitted"`
	Denied    []json.RawMessage   `json:"denied"`
	Legacy    []types.LegacyEntry `json:"legacy"`
}

// RosterStore persists the roster in a single JSON file.
type RosterStore struct {
	path string
}

func NewRosterStore(path string) *RosterStore {
	if path == "" {
		path = "./data/users.json"
	}
	return &RosterStore{path: path}
}

func (s *RosterStore) Path() string { return s.path }

func (s *RosterStore) Load(_ context.Context) (store.RosterSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return store.RosterSnapshot{}, nil
	}
	if err != nil {
		return store.RosterSnapshot{}, fmt.Errorf("%w: read %s: %w", store.ErrStorageUnavailable, s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return store.RosterSnapshot{}, nil
	}

	var raw rawFormat
	if err := json.Unmarshal(data, &raw); err != nil {
		return store.RosterSnapshot{}, fmt.Errorf("%w: decode %s: %w", store.ErrStorageUnavailable, s.path, err)
	}

	var snap store.RosterSnapshot
	for _, group := range []struct {
		decision types.Decision
		items    []json.RawMessage
	}{
		{types.Permitted, raw.Permitted},
		{types.Denied, raw.Denied},
	} {
		for i, item := range group.items {
			entry, legacy, err := decodeItem(item, group.decision)
			if err != nil {
				return store.RosterSnapshot{}, fmt.Errorf("%w: %s %s[%d]: %w",
					store.ErrStorageUnavailable, s.path, group.decision, i, err)
			}
			if legacy != nil {
				snap.Legacy = append(snap.Legacy, *legacy)
				continue
			}
			snap.Entries = append(snap.Entries, entry)
		}
	}
	for _, l := range raw.Legacy {
		if _, err := types.ParseDecision(string(l.Decision)); err != nil {
			continue
		}
		snap.Legacy = append(snap.Legacy, l)
	}
	return snap, nil
}

func decodeItem(item json.RawMessage, decision types.Decision) (types.PermissionEntry, *types.LegacyEntry, error) {
	trimmed := bytes.TrimSpace(item)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return types.PermissionEntry{}, nil, err
		}
		if entry, ok := ParseLegacyLine(text, decision); ok {
			return entry, nil, nil
		}
		return types.PermissionEntry{}, &types.LegacyEntry{Decision: decision, Text: strings.TrimSpace(text)}, nil
	}

	var fe fileEntry
	if err := json.Unmarshal(trimmed, &fe); err != nil {
		return types.PermissionEntry{}, nil, err
	}
	tag := types.NormalizeTagID(fe.TagID)
	if tag == "" {
		return types.PermissionEntry{}, nil, errors.New("entry without tag_id")
	}
	entry := types.PermissionEntry{
		TagID:       tag,
		DisplayName: fe.Name,
		Role:        fe.Role,
		Decision:    decision,
	}
	if fe.AddedAt != nil {
		entry.AddedAt = fe.AddedAt.UTC()
	}
	return entry, nil, nil
}

// ParseLegacyLine converts an old display string "<tagId> - <name> (<role>)"
// into an entry. Strings without an embedded hex tag id ("<name> (<role>)",
// a bare name, or a name that itself contains " - ") cannot be keyed and
// report ok=false.
func ParseLegacyLine(text string, decision types.Decision) (types.PermissionEntry, bool) {
	text = strings.TrimSpace(text)
	idx := strings.Index(text, " - ")
	if idx <= 0 {
		return types.PermissionEntry{}, false
	}
	// Only a hex prefix is a tag id; "Mary - Jane (User)" is a name.
	if !types.IsHexTagID(text[:idx]) {
		return types.PermissionEntry{}, false
	}
	tag := types.NormalizeTagID(text[:idx])

	name, role := splitNameRole(text[idx+3:])
	if name == "" {
		return types.PermissionEntry{}, false
	}
	return types.PermissionEntry{
		TagID:       tag,
		DisplayName: name,
		Role:        role,
		Decision:    decision,
	}, true
}

func splitNameRole(s string) (string, string) {
	s = strings.TrimSpace(s)
	open := strings.LastIndex(s, "(")
	closing := strings.LastIndex(s, ")")
	if open < 0 || closing < open {
		return s, ""
	}
	return strings.TrimSpace(s[:open]), strings.TrimSpace(s[open+1 : closing])
}

func (s *RosterStore) Save(_ context.Context, snap store.RosterSnapshot) error {
	out := fileFormat{
		Version:   formatVersion,
		Permitted: []fileEntry{},
		Denied:    []fileEntry{},
		Legacy:    snap.Legacy,
	}
	for _, e := range snap.Entries {
		fe := fileEntry{TagID: string(e.TagID), Name: e.DisplayName, Role: e.Role}
		if !e.AddedAt.IsZero() {
			at := e.AddedAt.UTC()
			fe.AddedAt = &at
		}
		switch e.Decision {
		case types.Permitted:
			out.Permitted = append(out.Permitted, fe)
		case types.Denied:
			out.Denied = append(out.Denied, fe)
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	data = append(data, '\n')

	return writeFileAtomic(s.path, data)
}

// writeFileAtomic replaces path with data via a temp file in the same
// directory so a crash never leaves a half-written roster behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir roster dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".roster-*.json")
	if err != nil {
		return fmt.Errorf("create temp roster: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp roster: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp roster: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp roster: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace roster: %w", err)
	}
	return nil
}
