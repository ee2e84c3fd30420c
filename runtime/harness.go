package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	entities "github.com/goliatone/go-entities"
	"github.com/goliatone/go-entities/runner"
	"github.com/goliatone/go-entities/scheduler"
)

// InvokerFactory builds the scheduler.Invoker for a given entity class,
// letting the Harness support both in-process (registry-backed) and
// out-of-process (subprocess-backed) classes from one Config set.
type InvokerFactory func(cfg scheduler.Config) (scheduler.Invoker, error)

// Harness is a self-contained, in-memory stand-in for the durable
// workflow engine the scheduler package is designed against: one
// goroutine per activated EntityId drains its mailbox and drives
// scheduler.Loop.RunIteration the way a real runtime would drive
// ContinueAsNew, entirely over Go channels rather than shared state.
type Harness struct {
	store   scheduler.Store
	logger  scheduler.Logger
	clock   Clock
	classes scheduler.Set
	factory InvokerFactory

	mu         sync.Mutex
	workers    map[string]*worker
	waiters    map[string]chan entities.ResponseMessage
	activities map[string]func(ctx context.Context, input []byte) ([]byte, error)
}

type worker struct {
	loop      *scheduler.Loop
	inbox     chan entities.RequestMessage
	kick      chan struct{}
	driveOnce chan chan error
	control   *runner.ManualExecutionControl
}

// NewHarness constructs a Harness over classes, with factory deciding
// the Invoker for each class (typically scheduler.NewInProcessInvoker
// for in_process classes, scheduler.NewProcessInvoker for
// out_of_process ones). store/logger default to an in-memory store and
// a stdlib-backed FmtLogger when nil.
func NewHarness(classes scheduler.Set, factory InvokerFactory, store scheduler.Store, logger scheduler.Logger) *Harness {
	if store == nil {
		store = scheduler.NewInMemoryStore()
	}
	if logger == nil {
		logger = scheduler.NewFmtLogger(nil)
	}
	return &Harness{
		store:      store,
		logger:     logger,
		clock:      SystemClock{},
		classes:    classes,
		factory:    factory,
		workers:    make(map[string]*worker),
		waiters:    make(map[string]chan entities.ResponseMessage),
		activities: make(map[string]func(context.Context, []byte) ([]byte, error)),
	}
}

// RegisterActivity installs a named CallActivity implementation.
func (h *Harness) RegisterActivity(name string, fn func(ctx context.Context, input []byte) ([]byte, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activities[name] = fn
}

// RegisterWaiter opens a response sink for targetInstanceID (typically
// a synthetic caller id such as "@client::<token>") and returns the
// channel a matching SendResponse delivers to. Call the returned
// cleanup func once the caller stops listening.
func (h *Harness) RegisterWaiter(targetInstanceID string) (ch chan entities.ResponseMessage, cleanup func()) {
	ch = make(chan entities.ResponseMessage, 1)
	h.mu.Lock()
	h.waiters[targetInstanceID] = ch
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.waiters, targetInstanceID)
		h.mu.Unlock()
	}
}

func (h *Harness) ensureWorker(id entities.EntityId) (*worker, error) {
	instanceID := entities.ToSchedulerInstanceID(id)

	h.mu.Lock()
	if w, ok := h.workers[instanceID]; ok {
		h.mu.Unlock()
		return w, nil
	}
	h.mu.Unlock()

	invoker, err := h.invokerFor(id.ClassName)
	if err != nil {
		return nil, err
	}

	cfg, _ := h.classes.Lookup(id.ClassName)
	loop := scheduler.NewLoop(id, h.store, h, invoker)
	loop.Logger = h.logger
	loop.BatchSizeLimit = cfg.BatchSizeLimit

	w := &worker{
		loop:      loop,
		inbox:     make(chan entities.RequestMessage, 64),
		kick:      make(chan struct{}, 1),
		driveOnce: make(chan chan error),
		control:   runner.NewManualExecutionControl(),
	}

	h.mu.Lock()
	if existing, ok := h.workers[instanceID]; ok {
		h.mu.Unlock()
		return existing, nil
	}
	h.workers[instanceID] = w
	h.mu.Unlock()

	go h.run(w)
	return w, nil
}

func (h *Harness) invokerFor(className string) (scheduler.Invoker, error) {
	cfg, ok := h.classes.Lookup(className)
	if !ok {
		return nil, fmt.Errorf("runtime: no scheduler config registered for class %q", className)
	}
	if h.factory == nil {
		return nil, fmt.Errorf("runtime: no invoker factory configured")
	}
	return h.factory(cfg)
}

// run is the per-entity worker loop: one goroutine owns this entity's
// Loop for the harness's lifetime (single-writer discipline per
// instance, with the persisted State as the sole iteration-to-iteration
// carrier of truth). Every external trigger —
// a delivered message, the Sweeper's due-work kick, or an explicit
// Activate — is serialized through this one goroutine's select loop so
// two callers never race RunIteration against the same Loop.
func (h *Harness) run(w *worker) {
	ctx := context.Background()
	for {
		select {
		case req, ok := <-w.inbox:
			if !ok {
				return
			}
			if err := w.loop.Enqueue(ctx, req); err != nil {
				h.logger.Error("runtime: enqueue failed: %v", err)
				continue
			}
			h.drainIterations(ctx, w)
		case <-w.kick:
			h.drainIterations(ctx, w)
		case reply := <-w.driveOnce:
			if err := w.control.WaitIfPaused(ctx); err != nil {
				reply <- err
				continue
			}
			_, err := w.loop.RunIteration(ctx)
			reply <- err
		}
	}
}

// drainIterations runs RunIteration until the queue goes idle, checking
// the worker's ExecutionControl ahead of every pass so an operator Pause
// takes effect between iterations rather than only at the next inbox
// delivery.
func (h *Harness) drainIterations(ctx context.Context, w *worker) {
	for {
		if err := w.control.WaitIfPaused(ctx); err != nil {
			h.logger.Warn("runtime: worker paused/canceled, deferring remaining iterations: %v", err)
			return
		}
		_, err := w.loop.RunIteration(ctx)
		if err != nil {
			h.logger.Error("runtime: iteration failed: %v", err)
			return
		}
		hasWork, err := w.loop.HasWork(ctx)
		if err != nil {
			h.logger.Error("runtime: has-work check failed: %v", err)
			return
		}
		if !hasWork {
			return
		}
	}
}

// Kick wakes id's worker without delivering a new message, letting a
// Sweeper re-check a deferred message that has since become due.
func (h *Harness) Kick(id entities.EntityId) error {
	w, err := h.ensureWorker(id)
	if err != nil {
		return err
	}
	select {
	case w.kick <- struct{}{}:
	default:
	}
	return nil
}

// SendRequest implements scheduler.Sender: delivers req to the target
// entity's mailbox, lazily activating its worker if this is the first
// message it has ever seen.
func (h *Harness) SendRequest(_ context.Context, targetInstanceID string, req entities.RequestMessage) error {
	id, err := entities.ParseSchedulerInstanceID(targetInstanceID)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	w, err := h.ensureWorker(id)
	if err != nil {
		return err
	}
	w.inbox <- req
	return nil
}

// SendResponse implements scheduler.Sender: delivers resp to whichever
// caller registered a waiter for targetInstanceID. A response with no
// registered waiter (e.g. a lock-completion addressed to an
// orchestration id nobody is listening on in this harness) is logged
// and dropped, matching the "no partial effects observable" contract —
// the entity side has already committed its state regardless.
func (h *Harness) SendResponse(_ context.Context, targetInstanceID string, resp entities.ResponseMessage) error {
	h.mu.Lock()
	ch, ok := h.waiters[targetInstanceID]
	h.mu.Unlock()
	if !ok {
		h.logger.Debug("runtime: no waiter registered for response target %s", targetInstanceID)
		return nil
	}
	select {
	case ch <- resp:
	default:
		h.logger.Warn("runtime: waiter channel for %s full, dropping response", targetInstanceID)
	}
	return nil
}

// Activate runs one RunIteration-equivalent pass for instanceID. If
// state is non-empty it is unmarshaled and force-persisted ahead of
// the iteration, letting an external driver (e.g. a durable-runtime
// adapter replacing this harness) rehydrate by value instead of
// through this harness's own Store.
func (h *Harness) Activate(ctx context.Context, instanceID string, state []byte) (*IterationResult, error) {
	id, err := entities.ParseSchedulerInstanceID(instanceID)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	w, err := h.ensureWorker(id)
	if err != nil {
		return nil, err
	}
	if len(state) > 0 {
		if err := h.forceSave(ctx, instanceID, state); err != nil {
			return nil, err
		}
	}

	reply := make(chan error, 1)
	select {
	case w.driveOnce <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case err := <-reply:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	rec, err := h.store.Load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	var out []byte
	idle := true
	if rec != nil {
		idle = rec.State.IsIdle()
		out, err = json.Marshal(rec.State)
		if err != nil {
			return nil, err
		}
	}
	return &IterationResult{Idle: idle, State: out}, nil
}

// ContinueAsNew persists state as the record to resume from on the
// next Activate, mirroring the durable-runtime primitive the scheduler
// loop is specified against.
func (h *Harness) ContinueAsNew(ctx context.Context, instanceID string, state []byte) error {
	return h.forceSave(ctx, instanceID, state)
}

func (h *Harness) forceSave(ctx context.Context, instanceID string, state []byte) error {
	var s scheduler.State
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("runtime: unmarshal state: %w", err)
	}
	rec, err := h.store.Load(ctx, instanceID)
	if err != nil {
		return err
	}
	version := 0
	if rec != nil {
		version = rec.Version
	}
	_, err = h.store.SaveIfVersion(ctx, &scheduler.Record{InstanceID: instanceID, State: s}, version)
	return err
}

// SendMessage delivers msg to targetInstanceID, the general-purpose
// inter-instance send path other entities and external callers both
// use.
func (h *Harness) SendMessage(ctx context.Context, targetInstanceID string, msg entities.RequestMessage) error {
	return h.SendRequest(ctx, targetInstanceID, msg)
}

// RaiseEvent delivers an externally-sourced signal to instanceID. In
// this harness it is routing-equivalent to SendMessage; a production
// Runtime backed by a real durable-execution engine would typically
// distinguish the two at the transport layer (external event vs
// internal orchestration-to-orchestration send).
func (h *Harness) RaiseEvent(ctx context.Context, instanceID string, msg entities.RequestMessage) error {
	return h.SendRequest(ctx, instanceID, msg)
}

// CallActivity invokes the named non-deterministic side effect outside
// the replay boundary, the seam user handlers must go through instead
// of calling out directly.
func (h *Harness) CallActivity(ctx context.Context, name string, input []byte) ([]byte, error) {
	h.mu.Lock()
	fn, ok := h.activities[name]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("runtime: no activity registered for %q", name)
	}
	return fn(ctx, input)
}

// Pause halts id's worker ahead of its next iteration: any in-flight
// RunIteration finishes, but the next one blocks until Resume is
// called. Messages keep enqueuing normally; they simply wait for the
// worker to resume draining.
func (h *Harness) Pause(id entities.EntityId) error {
	w, err := h.ensureWorker(id)
	if err != nil {
		return err
	}
	w.control.Pause()
	return nil
}

// Resume releases a worker paused by Pause.
func (h *Harness) Resume(id entities.EntityId) error {
	w, err := h.ensureWorker(id)
	if err != nil {
		return err
	}
	w.control.Resume()
	return nil
}

// CancelWorker permanently stops id's worker from running further
// iterations: every pending and future driveOnce/kick-triggered pass
// fails with cause (or a generic cancellation error when cause is
// nil). Unlike Pause, this cannot be undone — it models an operator
// decommissioning a misbehaving entity.
func (h *Harness) CancelWorker(id entities.EntityId, cause error) error {
	w, err := h.ensureWorker(id)
	if err != nil {
		return err
	}
	w.control.Cancel(cause)
	return nil
}

// Status reads back the bounded diagnostic snapshot for id without
// requiring the caller to hold a reference to its worker.
func (h *Harness) Status(ctx context.Context, id entities.EntityId) (scheduler.Status, error) {
	w, err := h.ensureWorker(id)
	if err != nil {
		return scheduler.Status{}, err
	}
	return w.loop.Status(ctx)
}

var _ Runtime = (*Harness)(nil)
var _ scheduler.Sender = (*Harness)(nil)
