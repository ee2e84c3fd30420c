// Package scheduler implements the per-entity execution engine: the
// replayable loop, batch builder, lock protocol, operation dispatcher,
// and status reporter described by the entity scheduler specification.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-entities"
)

// State is the persistent, per-entity record carried between scheduler
// iterations via ContinueAsNew. It is the sole iteration-to-iteration
// carrier of truth; the outer Version field is ambient
// optimistic-concurrency plumbing used by Store, not part of the
// wire-visible SchedulerState contract itself.
type State struct {
	EntityExists bool
	EntityState  *string
	Queue        []entities.RequestMessage
	LockedBy     string
	LockedSince  *time.Time
}

// Clone returns a deep copy of s, so callers may safely mutate a
// working copy without aliasing the persisted record.
func (s State) Clone() State {
	cp := State{
		EntityExists: s.EntityExists,
		LockedBy:     s.LockedBy,
	}
	if s.EntityState != nil {
		v := *s.EntityState
		cp.EntityState = &v
	}
	if s.LockedSince != nil {
		v := *s.LockedSince
		cp.LockedSince = &v
	}
	if len(s.Queue) > 0 {
		cp.Queue = append([]entities.RequestMessage(nil), s.Queue...)
	}
	return cp
}

// CheckInvariants validates the two invariants checkable from state
// alone (the rest are enforced structurally by the batch builder and
// lock handler).
func (s State) CheckInvariants() error {
	if (s.EntityState == nil) != !s.EntityExists {
		return fmt.Errorf("scheduler: invariant violated: entityState==nil must equal !entityExists")
	}
	if (s.LockedSince == nil) != (s.LockedBy == "") {
		return fmt.Errorf("scheduler: invariant violated: lockedSince==nil must equal lockedBy==\"\"")
	}
	return nil
}

// IsIdle reports whether the entity can terminate its scheduler
// orchestration: latent (non-existing), empty queue, no held lock.
func (s State) IsIdle() bool {
	return !s.EntityExists && len(s.Queue) == 0 && s.LockedBy == ""
}

// Enqueue appends a request preserving FIFO arrival order.
func (s *State) Enqueue(req entities.RequestMessage) {
	s.Queue = append(s.Queue, req)
}

// wireState is the JSON projection of State.
type wireState struct {
	EntityExists bool                      `json:"entityExists"`
	EntityState  *string                   `json:"entityState"`
	Queue        []entities.RequestMessage `json:"queue"`
	LockedBy     string                    `json:"lockedBy"`
	LockedSince  *time.Time                `json:"lockedSince,omitempty"`
}

// MarshalJSON round-trips through wireState so (serialize ∘
// deserialize) is identity.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireState{
		EntityExists: s.EntityExists,
		EntityState:  s.EntityState,
		Queue:        s.Queue,
		LockedBy:     s.LockedBy,
		LockedSince:  s.LockedSince,
	})
}

func (s *State) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.EntityExists = w.EntityExists
	s.EntityState = w.EntityState
	s.Queue = w.Queue
	s.LockedBy = w.LockedBy
	s.LockedSince = w.LockedSince
	return nil
}

// Record is the row persisted by a Store: State plus the
// optimistic-concurrency bookkeeping needed to detect concurrent
// ContinueAsNew writes for the same scheduler instance.
type Record struct {
	InstanceID string
	State      State
	Version    int
}

// Store persists scheduler Records with optimistic locking: Load plus
// a compare-and-set Save.
type Store interface {
	Load(ctx context.Context, instanceID string) (*Record, error)
	SaveIfVersion(ctx context.Context, rec *Record, expectedVersion int) (newVersion int, err error)
}

// InMemoryStore is a thread-safe in-memory Store, the default used by
// the runtime harness and by tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*Record
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{recs: make(map[string]*Record)}
}

// Load returns a cloned record, or nil if the instance has never been
// persisted (cold activation).
func (s *InMemoryStore) Load(_ context.Context, instanceID string) (*Record, error) {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, fmt.Errorf("scheduler: instance id required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[instanceID]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// SaveIfVersion performs compare-and-set persistence: succeeds only if
// the stored version still matches expectedVersion, then bumps it.
func (s *InMemoryStore) SaveIfVersion(_ context.Context, rec *Record, expectedVersion int) (int, error) {
	if rec == nil {
		return 0, fmt.Errorf("scheduler: record required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.recs[rec.InstanceID]
	if ok && existing.Version != expectedVersion {
		return 0, entities.ErrStateVersionConflict
	}
	if !ok && expectedVersion != 0 {
		return 0, entities.ErrStateVersionConflict
	}

	newVersion := expectedVersion + 1
	stored := &Record{
		InstanceID: rec.InstanceID,
		State:      rec.State.Clone(),
		Version:    newVersion,
	}
	s.recs[rec.InstanceID] = stored
	return newVersion, nil
}

func cloneRecord(rec *Record) *Record {
	if rec == nil {
		return nil
	}
	return &Record{
		InstanceID: rec.InstanceID,
		State:      rec.State.Clone(),
		Version:    rec.Version,
	}
}
