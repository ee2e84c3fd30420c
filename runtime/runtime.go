// Package runtime hosts the durable-workflow-shaped surface the
// scheduler package depends on but does not implement itself: message
// delivery, replay activation, and the background sweep that reclaims
// abandoned deferred deliveries. The in-memory Harness in this package
// is a standalone, dependency-free stand-in for whatever durable
// orchestration engine a production deployment would plug in behind
// the same Runtime interface.
package runtime

import (
	"context"
	"time"

	entities "github.com/goliatone/go-entities"
	"github.com/goliatone/go-entities/scheduler"
)

// IterationResult is what an Activate call reports back to its caller:
// the scheduler iteration's idle/continue decision plus the state blob
// to carry into the next activation.
type IterationResult struct {
	Idle  bool
	State []byte
}

// Runtime is the durable-workflow contract the scheduler loop is
// driven through. Activate runs one RunIteration-equivalent pass for
// instanceID; ContinueAsNew persists state for the next Activate to
// resume from; SendMessage/RaiseEvent deliver to other instances;
// CallActivity invokes a named, non-deterministic side effect outside
// the replay boundary.
type Runtime interface {
	Activate(ctx context.Context, instanceID string, state []byte) (*IterationResult, error)
	ContinueAsNew(ctx context.Context, instanceID string, state []byte) error
	SendMessage(ctx context.Context, targetInstanceID string, msg entities.RequestMessage) error
	RaiseEvent(ctx context.Context, instanceID string, msg entities.RequestMessage) error
	CallActivity(ctx context.Context, name string, input []byte) ([]byte, error)
}

// Clock abstracts "now" for the runtime layer, the same seam
// scheduler.Clock provides inside the loop.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints identifiers outside of any replay boundary. Kept
// separate from entities.NewRequestID so a harness can substitute a
// deterministic generator under test; the in-memory Harness does not
// consult one (scheduler instance ids are derived from the EntityId,
// not minted).
type IDGenerator interface {
	NewID() string
}

// SystemClock is the default Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// UUIDGenerator is the default IDGenerator, backed by
// entities.NewRequestID (google/uuid under the hood).
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return entities.NewRequestID() }

var (
	_ scheduler.Clock = SystemClock{}
)
