package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/goliatone/go-entities"
	"github.com/goliatone/go-entities/runner"
)

// OutboundResponse pairs a ResponseMessage with the scheduler instance
// id it must be sent to (the originating request's ParentInstanceID).
type OutboundResponse struct {
	TargetInstanceID string
	Response         entities.ResponseMessage
}

// OutboundSignal pairs a freshly raised inter-entity signal with the
// scheduler instance id of the entity it targets.
type OutboundSignal struct {
	TargetInstanceID string
	Request          entities.RequestMessage
}

// DispatchOutcome is what running one batch's operations/signals
// produces: the entity's new existence/state, one response per
// non-signal request (in dispatch order), any fresh signals raised by
// handlers, and the first failure observed. The first such failure per
// iteration is additionally surfaced as a runtime failure for
// diagnostics.
type DispatchOutcome struct {
	EntityExists bool
	EntityState  *string
	Responses    []OutboundResponse
	Signals      []OutboundSignal
	FirstFailure error
}

// Invoker runs the operations/signals of one batch against one
// entity's current exists/state and returns the outcome. There are two
// modes: in-process (one call per operation) and out-of-process/
// batched (one call per batch).
type Invoker interface {
	Invoke(ctx context.Context, self entities.EntityId, ops []entities.RequestMessage, exists bool, state *string) (DispatchOutcome, error)
}

// InProcessInvoker dispatches one Registry handler call per operation,
// in order.
type InProcessInvoker struct {
	Registry *Registry
}

// NewInProcessInvoker constructs an InProcessInvoker bound to reg.
func NewInProcessInvoker(reg *Registry) *InProcessInvoker {
	return &InProcessInvoker{Registry: reg}
}

// Invoke implements Invoker.
func (iv *InProcessInvoker) Invoke(_ context.Context, self entities.EntityId, ops []entities.RequestMessage, exists bool, state *string) (DispatchOutcome, error) {
	out := DispatchOutcome{EntityExists: exists, EntityState: state}

	for _, req := range ops {
		isNewlyConstructed := !out.EntityExists
		out.EntityExists = true // exists from the first op that touches it, even on failure, once it holds state (see below)

		handler, found := iv.Registry.Lookup(self.ClassName, req.Operation)

		var result entities.OperationResult
		ctx := newContext(self, req, out.EntityState, isNewlyConstructed, false)

		if !found {
			result = entities.NewErr(entities.ExceptionUnknownOperation,
				fmt.Sprintf("no such operation %q registered for %s", req.Operation, self.ClassName))
		} else {
			result = runHandler(handler, ctx, req.Operation)
		}

		if ctx.stateWritten {
			out.EntityState = ctx.state
		}

		if ctx.destructOnExit {
			out.EntityExists = false
			out.EntityState = nil
		}

		if out.EntityState == nil {
			// An op that leaves no state behind (e.g. one that failed on
			// a not-yet-existing entity before writing any) leaves the
			// entity non-existing: entityState==nil iff !entityExists.
			out.EntityExists = false
		}

		if result.IsError() && out.FirstFailure == nil {
			out.FirstFailure = entities.NewOperationError(req.Operation, fmt.Errorf("%s", result.Err.Details))
		}

		if !req.IsSignal {
			var response entities.ResponseMessage
			if result.IsError() {
				response = result.ToResponse(req.ID)
			} else {
				response = ctx.responseFor(req.ID, result)
			}
			out.Responses = append(out.Responses, OutboundResponse{
				TargetInstanceID: req.ParentInstanceID,
				Response:         response,
			})
		}

		out.Signals = append(out.Signals, ctx.pendingSignals()...)
	}

	return out, nil
}

// responseFor reconciles ctx.Return(value) (preferred) with the bare
// OperationResult the handler returned, for handlers that use Return
// instead of a function return value.
func (c *Context) responseFor(correlationID string, result entities.OperationResult) entities.ResponseMessage {
	if c.resultSet {
		return entities.NewResultResponse(correlationID, c.result)
	}
	return result.ToResponse(correlationID)
}

// pendingSignals converts ctx.SignalEntity buffers into fresh,
// targeted RequestMessages with new ids and IsSignal=true: signals
// raised by handlers get their own request identity.
func (c *Context) pendingSignals() []OutboundSignal {
	if len(c.signals) == 0 {
		return nil
	}
	out := make([]OutboundSignal, 0, len(c.signals))
	for _, s := range c.signals {
		out = append(out, OutboundSignal{
			TargetInstanceID: entities.ToSchedulerInstanceID(s.Target),
			Request: entities.RequestMessage{
				ID:               entities.NewRequestID(),
				ParentInstanceID: entities.ToSchedulerInstanceID(c.self),
				Operation:        s.Operation,
				Input:            s.Input,
				IsSignal:         true,
			},
		})
	}
	return out
}

// runHandler calls handler, recovering a panic into an
// ExceptionOperationFailed result rather than crashing the scheduler
// loop.
func runHandler(handler Handler, ctx *Context, operation string) (result entities.OperationResult) {
	defer entities.RecoverOperation(operation, &result)
	if err := handler(ctx); err != nil {
		return entities.NewErr(entities.ExceptionOperationFailed, err.Error())
	}
	if ctx.resultSet {
		return entities.NewOK(ctx.result)
	}
	return entities.NewOK("")
}

// --- Out-of-process (batched) invoker -------------------------------------

// batchEnvelopeOp is the wire shape of one operation sent to an
// external worker process.
type batchEnvelopeOp struct {
	ID        string `json:"id"`
	Operation string `json:"operation"`
	Input     string `json:"input"`
	IsSignal  bool   `json:"isSignal"`
}

// batchEnvelope is the full request sent to the external process.
type batchEnvelope struct {
	ClassName    string            `json:"className"`
	Key          string            `json:"key"`
	EntityExists bool              `json:"entityExists"`
	EntityState  *string           `json:"entityState"`
	Operations   []batchEnvelopeOp `json:"operations"`
}

// batchEnvelopeResponse is the expected reply shape: "{ entityExists,
// entityState, responses: [{result,isError}], signals: [{target,name,input}] }".
// Non-JSON output is a fatal per-batch error.
type batchEnvelopeResponse struct {
	EntityExists bool    `json:"entityExists"`
	EntityState  *string `json:"entityState"`
	Responses    []struct {
		Result  string `json:"result"`
		IsError bool   `json:"isError"`
	} `json:"responses"`
	Signals []struct {
		Target string `json:"target"`
		Name   string `json:"name"`
		Input  string `json:"input"`
	} `json:"signals"`
}

// ProcessInvoker implements the out-of-process batched contract by
// shelling out to a subprocess for each batch: the envelope is written
// to stdin as one JSON line, and the reply is read back as one JSON
// line from stdout. This is a concrete, swappable adapter for a
// pluggable external worker.
//
// A transient failure (the process exiting non-zero, or producing no
// output) is retried up to MaxRetries times through runner.Handler,
// using RetryStrategy for the backoff between attempts; a malformed
// JSON reply is treated as a fatal per-batch error and is not retried,
// since retrying it would just repeat the same worker bug.
type ProcessInvoker struct {
	Command       string
	Args          []string
	Timeout       time.Duration
	MaxRetries    int
	RetryStrategy runner.RetryStrategy
}

// NewProcessInvoker constructs a ProcessInvoker that runs command with
// args for every batch dispatched to it, with no retries and no
// per-attempt timeout by default.
func NewProcessInvoker(command string, args ...string) *ProcessInvoker {
	return &ProcessInvoker{Command: command, Args: args}
}

// Invoke implements Invoker by running one subprocess per batch,
// retrying transient failures per MaxRetries/RetryStrategy.
func (iv *ProcessInvoker) Invoke(ctx context.Context, self entities.EntityId, ops []entities.RequestMessage, exists bool, state *string) (DispatchOutcome, error) {
	env := batchEnvelope{
		ClassName:    self.ClassName,
		Key:          self.Key,
		EntityExists: exists,
		EntityState:  state,
	}
	for _, op := range ops {
		env.Operations = append(env.Operations, batchEnvelopeOp{
			ID:        op.ID,
			Operation: op.Operation,
			Input:     op.Input,
			IsSignal:  op.IsSignal,
		})
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return DispatchOutcome{}, entities.NewSerializationError("batch envelope", err)
	}

	var resp batchEnvelopeResponse
	var runErr error
	h := runner.NewHandler(
		runner.WithMaxRetries(iv.MaxRetries),
		runner.WithRetryStrategy(iv.retryStrategy()),
		runner.WithErrorHandler(func(err error) { runErr = err }),
		runner.WithTimeout(iv.Timeout),
	)
	h.Run(ctx, func(attemptCtx context.Context) error {
		r, err := iv.runOnce(attemptCtx, payload)
		if err != nil {
			return err
		}
		resp = r
		runErr = nil
		return nil
	})
	if runErr != nil {
		return DispatchOutcome{}, runErr
	}

	out := DispatchOutcome{EntityExists: resp.EntityExists, EntityState: resp.EntityState}

	nonSignalIdx := 0
	for _, op := range ops {
		if op.IsSignal {
			continue
		}
		var response entities.ResponseMessage
		if nonSignalIdx >= len(resp.Responses) {
			response = entities.NewErrorResponse(op.ID, entities.ExceptionSerializationFailed, "missing response from worker")
		} else {
			r := resp.Responses[nonSignalIdx]
			if r.IsError {
				response = entities.NewErrorResponse(op.ID, entities.ExceptionOperationFailed, r.Result)
			} else {
				response = entities.NewResultResponse(op.ID, r.Result)
			}
		}
		out.Responses = append(out.Responses, OutboundResponse{TargetInstanceID: op.ParentInstanceID, Response: response})
		nonSignalIdx++
	}

	out.applySignals(resp.Signals, self)

	return out, nil
}

// fatalBatchError marks a ProcessInvoker failure that retrying cannot
// fix (the worker's reply was not valid JSON) so the retry decider
// below can veto further attempts instead of repeating the same bug.
type fatalBatchError struct{ err error }

func (e *fatalBatchError) Error() string { return e.err.Error() }
func (e *fatalBatchError) Unwrap() error { return e.err }

// fatalAwareRetry wraps a RetryStrategy so a *fatalBatchError always
// vetoes further retries, regardless of what the wrapped strategy
// would otherwise decide.
type fatalAwareRetry struct{ inner runner.RetryStrategy }

func (f fatalAwareRetry) SleepDuration(attempt int, err error) time.Duration {
	return f.inner.SleepDuration(attempt, err)
}

func (f fatalAwareRetry) Decide(attempt int, err error) runner.RetryDecision {
	var fatal *fatalBatchError
	if errors.As(err, &fatal) {
		return runner.RetryDecision{ShouldRetry: false}
	}
	return runner.DecideRetry(f.inner, attempt, err)
}

func (iv *ProcessInvoker) retryStrategy() runner.RetryStrategy {
	inner := iv.RetryStrategy
	if inner == nil {
		inner = runner.NoDelayStrategy{}
	}
	return fatalAwareRetry{inner: inner}
}

// runOnce runs the subprocess exactly once: writes payload to stdin,
// reads one JSON line back from stdout.
func (iv *ProcessInvoker) runOnce(ctx context.Context, payload []byte) (batchEnvelopeResponse, error) {
	cmd := exec.CommandContext(ctx, iv.Command, iv.Args...)
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return batchEnvelopeResponse{}, fmt.Errorf("scheduler: out-of-process worker failed: %w", err)
	}

	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		return batchEnvelopeResponse{}, fmt.Errorf("scheduler: out-of-process worker produced no output")
	}
	var resp batchEnvelopeResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return batchEnvelopeResponse{}, &fatalBatchError{err: fmt.Errorf("scheduler: non-JSON worker output is a fatal batch error: %w", err)}
	}
	return resp, nil
}

// applySignals converts the worker reply's signals into OutboundSignals.
func (out *DispatchOutcome) applySignals(signals []struct {
	Target string `json:"target"`
	Name   string `json:"name"`
	Input  string `json:"input"`
}, self entities.EntityId) {
	for _, s := range signals {
		target, perr := entities.ParseSchedulerInstanceID(s.Target)
		if perr != nil {
			continue
		}
		out.Signals = append(out.Signals, OutboundSignal{
			TargetInstanceID: entities.ToSchedulerInstanceID(target),
			Request: entities.RequestMessage{
				ID:               entities.NewRequestID(),
				ParentInstanceID: entities.ToSchedulerInstanceID(self),
				Operation:        s.Name,
				Input:            s.Input,
				IsSignal:         true,
			},
		})
	}
}
