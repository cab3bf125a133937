package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

type EntryKind string

const (
	EntryAccess EntryKind = "access" // an AccessEvent
	EntryRaw    EntryKind = "raw"    // a serial line that was not a tag read
	EntryNotice EntryKind = "notice" // operator actions and diagnostics
)

// Entry is one line of the audit log.
type Entry struct {
	ID    string             `json:"id"`
	Seq   uint64             `json:"seq"`
	At    time.Time          `json:"at"`
	Kind  EntryKind          `json:"kind"`
	Event *types.AccessEvent `json:"event,omitempty"`
	Text  string             `json:"text,omitempty"`
}

// AuditLog is the append-only, in-memory record of everything the pipeline
// saw and decided. Entries are never modified or removed.
type AuditLog struct {
	mu      sync.RWMutex
	entries []Entry
	seq     uint64
	now     func() time.Time
}

func NewAuditLog() *AuditLog {
	return &AuditLog{now: func() time.Time { return time.Now().UTC() }}
}

func (l *AuditLog) Append(ev types.AccessEvent) Entry {
	at := ev.Timestamp
	if at.IsZero() {
		at = l.now()
		ev.Timestamp = at
	}
	return l.add(Entry{At: at, Kind: EntryAccess, Event: cloneEvent(&ev)})
}

// AppendRaw records a serial line verbatim.
func (l *AuditLog) AppendRaw(text string) Entry {
	return l.add(Entry{At: l.now(), Kind: EntryRaw, Text: text})
}

func (l *AuditLog) AppendNotice(text string) Entry {
	return l.add(Entry{At: l.now(), Kind: EntryNotice, Text: text})
}

func (l *AuditLog) add(e Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e.ID = uuid.NewString()
	e.Seq = l.seq
	l.entries = append(l.entries, e)
	return e.clone()
}

// All returns every AccessEvent in append order.
func (l *AuditLog) All() []types.AccessEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.AccessEvent, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Kind == EntryAccess {
			out = append(out, *cloneEvent(e.Event))
		}
	}
	return out
}

// Entries returns a copy of the whole log.
func (l *AuditLog) Entries() []Entry {
	return l.Tail(0)
}

// Tail returns the last n entries, oldest first. n <= 0 means all.
func (l *AuditLog) Tail(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if n > 0 && n < len(l.entries) {
		start = len(l.entries) - n
	}
	out := make([]Entry, 0, len(l.entries)-start)
	for _, e := range l.entries[start:] {
		out = append(out, e.clone())
	}
	return out
}

func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (e Entry) clone() Entry {
	e.Event = cloneEvent(e.Event)
	return e
}

// cloneEvent deep-copies ev so callers never share its pointers with the log.
func cloneEvent(ev *types.AccessEvent) *types.AccessEvent {
	if ev == nil {
		return nil
	}
	out := *ev
	if ev.SlotIndex != nil {
		slot := *ev.SlotIndex
		out.SlotIndex = &slot
	}
	if ev.Identity != nil {
		id := *ev.Identity
		out.Identity = &id
	}
	return &out
}
