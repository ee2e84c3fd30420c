package scheduler

import (
	"encoding/json"

	"github.com/goliatone/go-entities"
)

// Signal is a buffered inter-entity message produced by a handler via
// Context.SignalEntity, flushed to the outbox after the batch finishes.
type Signal struct {
	Target    entities.EntityId
	Operation string
	Input     string
}

// Context is the execution-time surface exposed to user operation
// handlers. One Context is lent to the active handler for
// the duration of a single operation's dispatch and reclaimed at
// return — it must not be retained past the handler call; no
// long-lived references may escape.
type Context struct {
	self               entities.EntityId
	operationName      string
	input              string
	id                 string
	parentInstanceID   string
	isReplaying        bool
	isNewlyConstructed bool

	// state mirrors entityState for the duration of this operation.
	// nil means the entity currently has no state.
	state        *string
	stateWritten bool

	result         string
	resultSet      bool
	destructOnExit bool

	signals []Signal
}

// newContext is lent by the dispatcher for exactly one operation.
// state is the entity's current entityState (nil if none); the
// dispatcher reads back ctx.state after the handler returns to decide
// the new entityState.
func newContext(self entities.EntityId, req entities.RequestMessage, state *string, isNewlyConstructed, isReplaying bool) *Context {
	return &Context{
		self:               self,
		operationName:      req.Operation,
		input:              req.Input,
		id:                 req.ID,
		parentInstanceID:   req.ParentInstanceID,
		isReplaying:        isReplaying,
		isNewlyConstructed: isNewlyConstructed,
		state:              state,
	}
}

// Self returns the EntityId this context is executing for.
func (c *Context) Self() entities.EntityId { return c.self }

// Key returns the entity's key component.
func (c *Context) Key() string { return c.self.Key }

// OperationName returns the operation/signal name being dispatched.
func (c *Context) OperationName() string { return c.operationName }

// IsReplaying reports whether this invocation is a history replay
// rather than new execution (ambient durable-runtime concern; the
// in-process invoker in this implementation never replays, so it is
// always false there — an out-of-process front end may set it).
func (c *Context) IsReplaying() bool { return c.isReplaying }

// IsNewlyConstructed reports whether this operation is the one that
// brought the entity into existence.
func (c *Context) IsNewlyConstructed() bool { return c.isNewlyConstructed }

// GetOperationContent deserializes Input into v.
func (c *Context) GetOperationContent(v any) error {
	if c.input == "" {
		return nil
	}
	return json.Unmarshal([]byte(c.input), v)
}

// RawState returns the current opaque state string, or "" if unset.
func (c *Context) RawState() string {
	if c.state == nil {
		return ""
	}
	return *c.state
}

// GetState deserializes the current entityState into v. A nil/absent
// state leaves v at its zero value: the first read when entityState is
// null yields the type's zero/default.
func (c *Context) GetState(v any) error {
	if c.state == nil || *c.state == "" {
		return nil
	}
	return json.Unmarshal([]byte(*c.state), v)
}

// SetState serializes v into entityState, to be written back after
// the operation completes: after each operation, if the state handle
// was accessed for writing, it is re-serialized into entityState.
func (c *Context) SetState(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s := string(data)
	c.state = &s
	c.stateWritten = true
	return nil
}

// Return records the operation's result value; ignored for signals.
func (c *Context) Return(value string) {
	c.result = value
	c.resultSet = true
}

// DestructOnExit flags the entity for deletion at the end of this
// operation.
func (c *Context) DestructOnExit() {
	c.destructOnExit = true
}

// SignalEntity buffers an inter-entity signal into the outbox, flushed
// after the batch completes.
func (c *Context) SignalEntity(target entities.EntityId, operation, input string) {
	c.signals = append(c.signals, Signal{Target: target, Operation: operation, Input: input})
}
