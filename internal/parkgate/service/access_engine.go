package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

const defaultQueueLimit = 32

// LineHandler consumes serial lines one at a time.
type LineHandler interface {
	HandleLine(ctx context.Context, line string) (Result, error)
}

// Result describes what one call into the engine did. Event is set when an
// AccessEvent was appended; Prompt when processing is now suspended waiting
// for the operator. Queued means the read is parked behind an open prompt.
type Result struct {
	Event   *types.AccessEvent
	Prompt  *types.Prompt
	Queued  bool
	Ignored bool
}

type EngineOptions struct {
	// QueueLimit bounds the reads parked behind an open prompt. Default 32.
	QueueLimit int

	// OnPrompt is called, outside the engine lock, whenever a new prompt
	// opens.
	OnPrompt func(types.Prompt)

	Logger *zap.Logger
	Now    func() time.Time
}

// Engine turns serial lines into access decisions. All roster and slot
// mutations go through it under one lock, so events are processed strictly
// one at a time.
//
// Operator input (slot choice, onboarding of an unknown tag) suspends the
// pipeline on a Prompt rather than blocking. Tag reads arriving meanwhile
// are queued FIFO and processed once the prompt resolves.
type Engine struct {
	mu       sync.Mutex
	roster   *Roster
	resolver *Resolver
	slots    *Allocator
	audit    *AuditLog
	device   *DeviceSync

	logger     *zap.Logger
	now        func() time.Time
	onPrompt   func(types.Prompt)
	queueLimit int

	pending      *types.Prompt
	queue        []TagRead
	lastNotified string
}

func NewEngine(
	roster *Roster,
	resolver *Resolver,
	slots *Allocator,
	audit *AuditLog,
	device *DeviceSync,
	opts EngineOptions,
) *Engine {
	e := &Engine{
		roster:     roster,
		resolver:   resolver,
		slots:      slots,
		audit:      audit,
		device:     device,
		logger:     opts.Logger,
		now:        opts.Now,
		onPrompt:   opts.OnPrompt,
		queueLimit: opts.QueueLimit,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.queueLimit <= 0 {
		e.queueLimit = defaultQueueLimit
	}
	if e.device == nil {
		e.device = NewDeviceSync()
	}
	for _, id := range resolver.Trusted() {
		e.audit.AppendNotice(fmt.Sprintf("added default user: %s - %s", id.TagID, id.Label()))
		e.logger.Info("default user", zap.String("tag", id.TagID.String()), zap.String("name", id.DisplayName))
	}
	return e
}

// HandleLine runs one serial line through the pipeline. Lines that are not
// tag reads are recorded verbatim and otherwise ignored. It never returns
// an error for bad input.
func (e *Engine) HandleLine(_ context.Context, line string) (Result, error) {
	e.mu.Lock()
	defer e.unlockAndNotify()

	read, err := ParseLineStrict(line)
	if err != nil {
		e.audit.AppendRaw(line)
		if errors.Is(err, ErrMalformedEvent) {
			e.logger.Warn("malformed tag event", zap.String("line", line))
		}
		return Result{Ignored: true}, nil
	}

	if e.pending != nil {
		return e.enqueueLocked(read), nil
	}
	return e.processLocked(read), nil
}

func (e *Engine) enqueueLocked(read TagRead) Result {
	if read.TagID == e.pending.TagID {
		e.audit.AppendNotice(fmt.Sprintf("repeat read of %s ignored while its prompt is open", read.TagID))
		return Result{Ignored: true}
	}
	if len(e.queue) >= e.queueLimit {
		e.audit.AppendNotice(fmt.Sprintf("read of %s dropped: %d reads already waiting", read.TagID, len(e.queue)))
		e.logger.Warn("tag read dropped, queue full",
			zap.String("tag", read.TagID.String()), zap.Int("limit", e.queueLimit))
		return Result{Ignored: true}
	}
	e.queue = append(e.queue, read)
	e.audit.AppendNotice(fmt.Sprintf("read of %s queued behind open prompt", read.TagID))
	return Result{Queued: true}
}

// processLocked applies the decision order: release if the tag already
// holds a slot, then deny, grant or onboard according to its class.
func (e *Engine) processLocked(read TagRead) Result {
	now := e.now()
	res := e.resolver.Resolve(read.TagID)

	if idx, ok := e.slots.FindOccupantSlot(read.TagID); ok {
		prev, err := e.slots.Release(idx, now)
		if err != nil {
			e.logger.Error("release of occupied slot failed",
				zap.Int("slot", idx), zap.String("tag", read.TagID.String()), zap.Error(err))
			e.audit.AppendNotice(fmt.Sprintf("release of slot %d failed: %v", idx, err))
			return Result{}
		}
		ev := e.recordLocked(read.TagID, now, types.OutcomeReleased, &idx, prev.Occupant)
		return Result{Event: &ev}
	}

	switch res.Class {
	case ClassDenied:
		return e.denyLocked(read.TagID, res.Identity, now)
	case ClassPermitted:
		return e.offerSlotsLocked(read.TagID, res.Identity, now)
	default:
		ev := e.recordLocked(read.TagID, now, types.OutcomeUnknownTag, nil, nil)
		p := e.openPromptLocked(types.Prompt{Kind: types.PromptOnboarding, TagID: read.TagID}, now)
		return Result{Event: &ev, Prompt: &p}
	}
}

func (e *Engine) denyLocked(tag types.TagID, id types.Identity, now time.Time) Result {
	idx, err := e.slots.MarkDenied(now)
	if err != nil {
		ev := e.recordLocked(tag, now, types.OutcomeDeniedNoSlot, nil, &id)
		return Result{Event: &ev}
	}
	ev := e.recordLocked(tag, now, types.OutcomeDeniedIdentity, &idx, &id)
	return Result{Event: &ev}
}

func (e *Engine) offerSlotsLocked(tag types.TagID, id types.Identity, now time.Time) Result {
	assignable := e.slots.ListAssignable()
	if len(assignable) == 0 {
		ev := e.recordLocked(tag, now, types.OutcomeDeniedNoSlot, nil, &id)
		return Result{Event: &ev}
	}
	p := e.openPromptLocked(types.Prompt{
		Kind:       types.PromptSlotChoice,
		TagID:      tag,
		Identity:   &id,
		Assignable: assignable,
	}, now)
	e.audit.AppendNotice(fmt.Sprintf("welcome, %s; awaiting slot choice", id.Label()))
	return Result{Prompt: &p}
}

func (e *Engine) openPromptLocked(p types.Prompt, now time.Time) types.Prompt {
	p.ID = uuid.NewString()
	p.CreatedAt = now
	e.pending = &p
	e.logger.Info("prompt opened",
		zap.String("prompt_id", p.ID), zap.String("kind", string(p.Kind)), zap.String("tag", p.TagID.String()))
	return clonePrompt(p)
}

// ChooseSlot resolves a slot-choice prompt by seating its identity in
// slot index. An unassignable choice leaves the prompt open.
func (e *Engine) ChooseSlot(_ context.Context, promptID string, index int) (Result, error) {
	e.mu.Lock()
	defer e.unlockAndNotify()

	p, err := e.pendingLocked(promptID, types.PromptSlotChoice)
	if err != nil {
		return Result{}, err
	}

	now := e.now()
	if err := e.slots.Assign(index, *p.Identity, now); err != nil {
		e.logger.Error("slot assignment rejected",
			zap.String("prompt_id", p.ID), zap.Int("slot", index), zap.Error(err))
		p.Assignable = e.slots.ListAssignable()
		open := clonePrompt(*p)
		return Result{Prompt: &open}, err
	}

	ev := e.recordLocked(p.TagID, now, types.OutcomeGrantedNewSlot, &index, p.Identity)
	e.pending = nil
	e.drainLocked()
	return Result{Event: &ev}, nil
}

// CompleteOnboarding resolves an onboarding prompt with the operator's
// identity and decision. The entry is stored in the roster and pushed to
// the reader; failures of either are returned but do not undo the
// decision. A permitted newcomer goes straight on to slot choice.
func (e *Engine) CompleteOnboarding(
	ctx context.Context,
	promptID string,
	name, role string,
	decision types.Decision,
) (Result, error) {
	if strings.TrimSpace(name) == "" {
		return Result{}, ErrInvalidName
	}
	decision, err := types.ParseDecision(string(decision))
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.unlockAndNotify()

	p, err := e.pendingLocked(promptID, types.PromptOnboarding)
	if err != nil {
		return Result{}, err
	}

	now := e.now()
	entry := types.PermissionEntry{
		TagID:       p.TagID,
		DisplayName: name,
		Role:        role,
		Decision:    decision,
		AddedAt:     now,
	}
	if err := validateEntry(entry); err != nil {
		return Result{}, err
	}
	warn := e.addEntryLocked(ctx, entry)

	e.pending = nil
	id := entry.Identity()
	if stored, ok := e.roster.Find(entry.TagID); ok {
		id = stored.Identity()
	}

	var res Result
	if decision == types.Permitted {
		res = e.offerSlotsLocked(p.TagID, id, now)
	} else {
		ev := e.recordLocked(p.TagID, now, types.OutcomeDeniedIdentity, nil, &id)
		res = Result{Event: &ev}
	}
	e.drainLocked()
	return res, warn
}

// CancelPrompt dismisses the open prompt without a decision.
func (e *Engine) CancelPrompt(_ context.Context, promptID string) error {
	e.mu.Lock()
	defer e.unlockAndNotify()

	p, err := e.pendingLocked(promptID, "")
	if err != nil {
		return err
	}
	e.audit.AppendNotice(fmt.Sprintf("%s prompt for %s cancelled", p.Kind, p.TagID))
	e.pending = nil
	e.drainLocked()
	return nil
}

func (e *Engine) pendingLocked(promptID string, kind types.PromptKind) (*types.Prompt, error) {
	if e.pending == nil {
		return nil, ErrNoPendingPrompt
	}
	if e.pending.ID != promptID {
		return nil, fmt.Errorf("%w: %s", ErrPromptMismatch, promptID)
	}
	if kind != "" && e.pending.Kind != kind {
		return nil, fmt.Errorf("%w: prompt %s is %s", ErrPromptMismatch, promptID, e.pending.Kind)
	}
	return e.pending, nil
}

// drainLocked processes queued reads until the queue empties or one of
// them opens a new prompt.
func (e *Engine) drainLocked() {
	for e.pending == nil && len(e.queue) > 0 {
		read := e.queue[0]
		e.queue[0] = TagRead{}
		e.queue = e.queue[1:]
		e.processLocked(read)
	}
	if len(e.queue) == 0 {
		e.queue = nil
	}
}

// AddEntry is the operator's "add permitted/denied user". Storage and
// transport failures are returned joined; the in-memory roster is updated
// regardless.
func (e *Engine) AddEntry(ctx context.Context, entry types.PermissionEntry) error {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = e.now()
	}

	if err := validateEntry(entry); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.unlockAndNotify()

	return e.addEntryLocked(ctx, entry)
}

func (e *Engine) AddPermitted(ctx context.Context, tag types.TagID, name, role string) error {
	return e.AddEntry(ctx, types.PermissionEntry{TagID: tag, DisplayName: name, Role: role, Decision: types.Permitted})
}

func (e *Engine) AddDenied(ctx context.Context, tag types.TagID, name, role string) error {
	return e.AddEntry(ctx, types.PermissionEntry{TagID: tag, DisplayName: name, Role: role, Decision: types.Denied})
}

func validateEntry(entry types.PermissionEntry) error {
	if types.NormalizeTagID(string(entry.TagID)) == "" {
		return ErrInvalidTagID
	}
	if strings.TrimSpace(entry.DisplayName) == "" {
		return ErrInvalidName
	}
	_, err := types.ParseDecision(string(entry.Decision))
	return err
}

// addEntryLocked stores a validated entry and pushes it to the reader. The
// returned error only carries non-fatal storage/transport failures.
func (e *Engine) addEntryLocked(ctx context.Context, entry types.PermissionEntry) error {
	var warns []error

	if err := e.roster.Upsert(ctx, entry); err != nil {
		e.logger.Error("roster save failed", zap.Error(err))
		warns = append(warns, err)
	}

	stored, ok := e.roster.Find(entry.TagID)
	if !ok {
		return errors.Join(warns...)
	}
	e.audit.AppendNotice(fmt.Sprintf("added to %s users: %s - %s", stored.Decision, stored.TagID, stored.Identity().Label()))

	if err := e.device.Send(stored); err != nil {
		e.logger.Warn("device sync failed", zap.String("tag", stored.TagID.String()), zap.Error(err))
		warns = append(warns, err)
	}
	return errors.Join(warns...)
}

// ClearRoster removes every entry with decision d.
func (e *Engine) ClearRoster(ctx context.Context, d types.Decision) (int, error) {
	e.mu.Lock()
	defer e.unlockAndNotify()

	n, err := e.roster.Clear(ctx, d)
	if err != nil && !errors.Is(err, ErrStorageWriteFailed) {
		return 0, err
	}
	e.audit.AppendNotice(fmt.Sprintf("cleared %s users list (%d entries)", d, n))
	if err != nil {
		e.logger.Error("roster save failed", zap.Error(err))
	}
	return n, err
}

// TransportConnected makes w the egress channel for reader commands.
func (e *Engine) TransportConnected(w io.Writer) {
	e.device.Attach(w)
	e.audit.AppendNotice("connected to reader")
}

// TransportDisconnected marks egress unavailable. Slots, roster and any
// open prompt are left as they are.
func (e *Engine) TransportDisconnected() {
	e.device.Detach()
	e.audit.AppendNotice("disconnected from reader")
}

func (e *Engine) recordLocked(
	tag types.TagID,
	at time.Time,
	outcome types.Outcome,
	slot *int,
	id *types.Identity,
) types.AccessEvent {
	ev := types.AccessEvent{TagID: tag, Timestamp: at, Outcome: outcome}
	if slot != nil {
		s := *slot
		ev.SlotIndex = &s
	}
	if id != nil {
		c := *id
		ev.Identity = &c
	}
	e.audit.Append(ev)

	fields := []zap.Field{zap.String("tag", tag.String()), zap.String("outcome", string(outcome))}
	if slot != nil {
		fields = append(fields, zap.Int("slot", *slot))
	}
	if id != nil {
		fields = append(fields, zap.String("name", id.DisplayName))
	}
	e.logger.Info("access decision", fields...)
	return ev
}

// Pending returns the open prompt, if any.
func (e *Engine) Pending() (types.Prompt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return types.Prompt{}, false
	}
	return clonePrompt(*e.pending), true
}

// QueueLen reports how many reads are waiting behind the open prompt.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Engine) Slots() []types.Slot { return e.slots.Snapshot() }

// Roster returns the roster together with the built-in trusted table.
func (e *Engine) Roster() RosterView {
	v := e.roster.Snapshot()
	v.Trusted = e.resolver.Trusted()
	return v
}

func (e *Engine) Audit() *AuditLog { return e.audit }

func (e *Engine) EgressAvailable() bool { return e.device.Connected() }

// unlockAndNotify releases the lock and then fires OnPrompt for a prompt
// opened during the call.
func (e *Engine) unlockAndNotify() {
	var notify *types.Prompt
	if e.pending != nil && e.pending.ID != e.lastNotified {
		e.lastNotified = e.pending.ID
		p := clonePrompt(*e.pending)
		notify = &p
	}
	e.mu.Unlock()

	if notify != nil && e.onPrompt != nil {
		e.onPrompt(*notify)
	}
}

func clonePrompt(p types.Prompt) types.Prompt {
	if p.Identity != nil {
		id := *p.Identity
		p.Identity = &id
	}
	if p.Assignable != nil {
		p.Assignable = append([]int(nil), p.Assignable...)
	}
	return p
}
