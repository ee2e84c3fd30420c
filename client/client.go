// Package client exposes the caller-facing surface for driving entity
// schedulers hosted by a runtime.Harness: fire-and-forget signals,
// request/response calls, and status reads.
package client

import (
	"context"
	"fmt"

	entities "github.com/goliatone/go-entities"
	"github.com/goliatone/go-entities/runtime"
	"github.com/goliatone/go-entities/scheduler"
)

// caller is the subset of *runtime.Harness a Client depends on, kept
// narrow so tests can substitute a fake without standing up a full
// Harness.
type caller interface {
	SendMessage(ctx context.Context, targetInstanceID string, msg entities.RequestMessage) error
	RegisterWaiter(targetInstanceID string) (chan entities.ResponseMessage, func())
	Status(ctx context.Context, id entities.EntityId) (scheduler.Status, error)
}

// Client is the entry point external callers use to interact with
// entities hosted by a runtime.Harness.
type Client struct {
	runtime caller
}

// New constructs a Client over h.
func New(h *runtime.Harness) *Client {
	return &Client{runtime: h}
}

// SignalEntity delivers a fire-and-forget signal to id. Per the
// protocol, signals never produce a ResponseMessage — the call returns
// once the message has been handed to the runtime, not once it has
// been processed.
func (c *Client) SignalEntity(ctx context.Context, id entities.EntityId, operation, input string) error {
	req := entities.RequestMessage{
		ID:               entities.NewRequestID(),
		ParentInstanceID: "@client::signal",
		Operation:        operation,
		Input:            input,
		IsSignal:         true,
	}
	return c.runtime.SendMessage(ctx, entities.ToSchedulerInstanceID(id), req)
}

// CallEntity issues a request/response operation against id and blocks
// until a ResponseMessage correlated to the request arrives or ctx is
// done.
func (c *Client) CallEntity(ctx context.Context, id entities.EntityId, operation, input string) (string, error) {
	callerID := "@client::" + entities.NewRequestID()
	ch, cleanup := c.runtime.RegisterWaiter(callerID)
	defer cleanup()

	req := entities.RequestMessage{
		ID:               entities.NewRequestID(),
		ParentInstanceID: callerID,
		Operation:        operation,
		Input:            input,
	}
	if err := c.runtime.SendMessage(ctx, entities.ToSchedulerInstanceID(id), req); err != nil {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case resp := <-ch:
		if resp.IsError() {
			return "", fmt.Errorf("entities: %s: %s", resp.ExceptionType, resp.ExceptionDetails)
		}
		return resp.Result, nil
	}
}

// ReadEntityStatus returns the bounded diagnostic snapshot for id.
func (c *Client) ReadEntityStatus(ctx context.Context, id entities.EntityId) (scheduler.Status, error) {
	return c.runtime.Status(ctx, id)
}
