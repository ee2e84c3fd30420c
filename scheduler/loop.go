package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-entities"
)

// Sender is the reliable-enqueue primitive the loop flushes its
// outbox through: sendMessage(targetInstanceId, correlationId,
// payload). The underlying durable-runtime implementation lives
// outside this package; Loop only depends on this narrow interface.
type Sender interface {
	SendRequest(ctx context.Context, targetInstanceID string, req entities.RequestMessage) error
	SendResponse(ctx context.Context, targetInstanceID string, resp entities.ResponseMessage) error
}

// Clock abstracts "now" so CurrentOperation.StartTime and any
// deferred-delivery checks go through the runtime's deterministic
// primitives under replay rather than calling time.Now directly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Loop is the replayable per-entity scheduler. One Loop instance
// drives exactly one EntityId; the runtime harness
// (outside this package) is responsible for activating a Loop's
// RunIteration once per incoming batch of messages and re-invoking it
// as ContinueAsNew would.
type Loop struct {
	Self           entities.EntityId
	Store          Store
	Sender         Sender
	Invoker        Invoker
	Logger         Logger
	Clock          Clock
	BatchSizeLimit int

	mu      sync.Mutex
	current *CurrentOperation
}

// NewLoop constructs a Loop with sensible defaults for Logger/Clock
// when left nil.
func NewLoop(self entities.EntityId, store Store, sender Sender, invoker Invoker) *Loop {
	return &Loop{
		Self:    self,
		Store:   store,
		Sender:  sender,
		Invoker: invoker,
		Logger:  NewFmtLogger(nil),
		Clock:   systemClock{},
	}
}

func (l *Loop) logger() Logger {
	base := NormalizeLogger(l.Logger)
	return withLoggerFields(base, map[string]any{
		"className": l.Self.ClassName,
		"key":       l.Self.Key,
	})
}

func (l *Loop) clock() Clock {
	if l.Clock == nil {
		return systemClock{}
	}
	return l.Clock
}

// Enqueue drains an incoming envelope into the persisted queue: it
// appends req to the persisted queue, creating the record on first
// use (cold activation). Deferred-delivery messages (ScheduledAt in
// the future) are still enqueued; RunIteration's BuildBatch call gates
// admission on IsDue, so a not-yet-due message stays queued (and
// FIFO-ordered relative to whatever else is waiting) until a later
// iteration finds it due.
func (l *Loop) Enqueue(ctx context.Context, req entities.RequestMessage) error {
	instanceID := entities.ToSchedulerInstanceID(l.Self)
	rec, err := l.Store.Load(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("scheduler: load for enqueue: %w", err)
	}
	version := 0
	var state State
	if rec != nil {
		state = rec.State
		version = rec.Version
	}
	state.Enqueue(req)

	for {
		newVersion, err := l.Store.SaveIfVersion(ctx, &Record{InstanceID: instanceID, State: state}, version)
		if err == nil {
			_ = newVersion
			return nil
		}
		if err != entities.ErrStateVersionConflict {
			return fmt.Errorf("scheduler: save for enqueue: %w", err)
		}
		// Concurrent writer won the race; reload and retry against the
		// latest version rather than losing this message.
		rec, loadErr := l.Store.Load(ctx, instanceID)
		if loadErr != nil {
			return fmt.Errorf("scheduler: reload after conflict: %w", loadErr)
		}
		if rec == nil {
			version, state = 0, State{}
		} else {
			version, state = rec.Version, rec.State
		}
		state.Enqueue(req)
	}
}

// RunIteration executes one pass of the loop: build a batch from the
// persisted queue, execute it, flush the outbox, and write state back.
// It returns idle == true when the entity has become latent with
// nothing left to do — the harness should stop re-activating this Loop
// until a new message arrives.
func (l *Loop) RunIteration(ctx context.Context) (idle bool, err error) {
	instanceID := entities.ToSchedulerInstanceID(l.Self)
	log := l.logger()

	rec, err := l.Store.Load(ctx, instanceID)
	if err != nil {
		return false, fmt.Errorf("scheduler: load: %w", err)
	}
	version := 0
	var state State
	if rec != nil {
		state = rec.State
		version = rec.Version
	}

	batch := BuildBatch(state.Queue, state.LockedBy, l.BatchSizeLimit, l.clock().Now())
	if batch.IsEmpty() {
		if state.IsIdle() {
			return true, nil
		}
		return false, nil
	}

	l.setCurrent(batch, instanceID)
	defer l.clearCurrent()

	ops, runningLockedBy := splitUnlocks(batch.Items, state.LockedBy)

	outcome, invokeErr := l.Invoker.Invoke(ctx, l.Self, ops, state.EntityExists, state.EntityState)
	if invokeErr != nil {
		log.Error("batch dispatch failed, iteration will be retried: %v", invokeErr)
		return false, fmt.Errorf("scheduler: %w: %v", entities.ErrRuntime, invokeErr)
	}

	if outcome.FirstFailure != nil {
		log.Warn("operation failure this iteration: %v", outcome.FirstFailure)
	}

	state.EntityExists = outcome.EntityExists
	state.EntityState = outcome.EntityState
	state.Queue = batch.RemainingQueue(state.Queue)

	lockOutcome := ApplyLock(l.Self, batch.LockFinal, runningLockedBy)
	previousLockedBy := state.LockedBy
	if lockOutcome.ProtocolError != nil {
		log.Warn("dropping malformed lock request: %v", lockOutcome.ProtocolError)
		state.LockedBy = runningLockedBy
	} else {
		state.LockedBy = lockOutcome.LockedBy
	}
	state.LockedSince = nextLockedSince(previousLockedBy, state.LockedBy, state.LockedSince, l.clock().Now())

	if err := state.CheckInvariants(); err != nil {
		return false, fmt.Errorf("scheduler: %w: %v", entities.ErrRuntime, err)
	}

	if err := l.flushOutbox(ctx, outcome, lockOutcome); err != nil {
		return false, fmt.Errorf("scheduler: outbox flush: %w", err)
	}

	if _, err := l.Store.SaveIfVersion(ctx, &Record{InstanceID: instanceID, State: state}, version); err != nil {
		return false, fmt.Errorf("scheduler: write-back: %w", err)
	}

	return false, nil
}

// nextLockedSince derives the next LockedSince timestamp from a
// lockedBy transition: it stamps now on a fresh acquisition (was
// unlocked, now locked), clears on release, and otherwise leaves an
// already-held lock's timestamp untouched so LockedSince reflects when
// the hold began, not when it was last renewed by a re-entrant lock
// request.
func nextLockedSince(previousLockedBy, nextLockedBy string, previous *time.Time, now time.Time) *time.Time {
	if nextLockedBy == "" {
		return nil
	}
	if previousLockedBy == "" {
		t := now
		return &t
	}
	return previous
}

// splitUnlocks removes unlock messages from items (they are not
// dispatched to handlers) and folds their effect into the running
// lockedBy, in order.
func splitUnlocks(items []entities.RequestMessage, lockedBy string) (ops []entities.RequestMessage, newLockedBy string) {
	newLockedBy = lockedBy
	for _, msg := range items {
		if ApplyUnlock(msg, newLockedBy) {
			newLockedBy = ""
			continue
		}
		ops = append(ops, msg)
	}
	return ops, newLockedBy
}

// flushOutbox emits every response/forward/signal produced this
// iteration. Self-addressed signals (a handler signaling its own
// entity) are not special-cased here; they are sent
// through the same Sender as any other target and arrive back via the
// harness's normal delivery path.
func (l *Loop) flushOutbox(ctx context.Context, outcome DispatchOutcome, lockOutcome LockOutcome) error {
	for _, out := range outcome.Responses {
		if err := l.Sender.SendResponse(ctx, out.TargetInstanceID, out.Response); err != nil {
			return err
		}
	}
	for _, sig := range outcome.Signals {
		if err := l.Sender.SendRequest(ctx, sig.TargetInstanceID, sig.Request); err != nil {
			return err
		}
	}
	if lockOutcome.Forward != nil {
		if err := l.Sender.SendRequest(ctx, lockOutcome.ForwardTarget, *lockOutcome.Forward); err != nil {
			return err
		}
	}
	if lockOutcome.Completion != nil {
		if err := l.Sender.SendResponse(ctx, lockOutcome.CompletionTo, *lockOutcome.Completion); err != nil {
			return err
		}
	}
	return nil
}

// HasWork reports whether the persisted queue currently contains a
// batch BuildBatch would consider non-empty, letting a harness decide
// whether RunIteration is worth calling again without re-running the
// whole iteration speculatively.
func (l *Loop) HasWork(ctx context.Context) (bool, error) {
	instanceID := entities.ToSchedulerInstanceID(l.Self)
	rec, err := l.Store.Load(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	batch := BuildBatch(rec.State.Queue, rec.State.LockedBy, l.BatchSizeLimit, l.clock().Now())
	return !batch.IsEmpty(), nil
}

// Status produces the bounded diagnostic snapshot for this entity.
func (l *Loop) Status(ctx context.Context) (Status, error) {
	instanceID := entities.ToSchedulerInstanceID(l.Self)
	rec, err := l.Store.Load(ctx, instanceID)
	if err != nil {
		return Status{}, err
	}
	var state State
	if rec != nil {
		state = rec.State
	}
	l.mu.Lock()
	current := l.current
	l.mu.Unlock()
	return BuildStatus(state, current), nil
}

func (l *Loop) setCurrent(batch Batch, _ string) {
	if len(batch.Items) == 0 {
		return
	}
	first := batch.Items[0]
	l.mu.Lock()
	l.current = &CurrentOperation{
		Operation:        first.Operation,
		ID:               first.ID,
		ParentInstanceID: first.ParentInstanceID,
		StartTime:        l.clock().Now(),
	}
	l.mu.Unlock()
}

func (l *Loop) clearCurrent() {
	l.mu.Lock()
	l.current = nil
	l.mu.Unlock()
}
