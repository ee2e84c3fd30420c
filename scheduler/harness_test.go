package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/goliatone/go-entities"
)

// testHarness is a minimal synchronous in-memory driver used by the
// scheduler package's own tests to exercise end-to-end scenarios
// without a real durable-workflow runtime: it implements Sender by
// enqueuing directly into the target Loop and keeps running any Loop
// with pending work until the whole graph goes idle.
type testHarness struct {
	mu     sync.Mutex
	loops  map[string]*Loop
	outbox []entities.ResponseMessage
	dirty  map[string]bool
}

func newTestHarness() *testHarness {
	return &testHarness{loops: make(map[string]*Loop), dirty: make(map[string]bool)}
}

func (h *testHarness) register(l *Loop) {
	l.Sender = h
	h.mu.Lock()
	h.loops[entities.ToSchedulerInstanceID(l.Self)] = l
	h.mu.Unlock()
}

func (h *testHarness) SendRequest(ctx context.Context, targetInstanceID string, req entities.RequestMessage) error {
	h.mu.Lock()
	l, ok := h.loops[targetInstanceID]
	h.mu.Unlock()
	if !ok {
		return nil // target outside this test's registered entities
	}
	if err := l.Enqueue(ctx, req); err != nil {
		return err
	}
	h.markDirty(targetInstanceID)
	return nil
}

func (h *testHarness) SendResponse(_ context.Context, _ string, resp entities.ResponseMessage) error {
	h.mu.Lock()
	h.outbox = append(h.outbox, resp)
	h.mu.Unlock()
	return nil
}

func (h *testHarness) markDirty(instanceID string) {
	h.mu.Lock()
	h.dirty[instanceID] = true
	h.mu.Unlock()
}

func (h *testHarness) deliver(ctx context.Context, t *testing.T, self entities.EntityId, req entities.RequestMessage) {
	t.Helper()
	instanceID := entities.ToSchedulerInstanceID(self)
	h.mu.Lock()
	l := h.loops[instanceID]
	h.mu.Unlock()
	if l == nil {
		t.Fatalf("harness: no loop registered for %s", instanceID)
	}
	if err := l.Enqueue(ctx, req); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	h.markDirty(instanceID)
}

// drain repeatedly runs every dirty Loop's RunIteration until no Loop
// reports further work, bounded by maxRounds to fail fast on bugs that
// would otherwise spin forever.
func (h *testHarness) drain(ctx context.Context, t *testing.T, maxRounds int) {
	t.Helper()
	for round := 0; round < maxRounds; round++ {
		h.mu.Lock()
		pending := make([]string, 0, len(h.dirty))
		for id, d := range h.dirty {
			if d {
				pending = append(pending, id)
			}
		}
		h.dirty = make(map[string]bool)
		h.mu.Unlock()

		if len(pending) == 0 {
			return
		}
		for _, id := range pending {
			h.mu.Lock()
			l := h.loops[id]
			h.mu.Unlock()
			if _, err := l.RunIteration(ctx); err != nil {
				t.Fatalf("run iteration for %s: %v", id, err)
			}
			hasWork, err := l.HasWork(ctx)
			if err != nil {
				t.Fatalf("has work for %s: %v", id, err)
			}
			if hasWork {
				h.markDirty(id)
			}
		}
	}
	t.Fatalf("harness: drain did not converge within %d rounds", maxRounds)
}

func (h *testHarness) responses() []entities.ResponseMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]entities.ResponseMessage(nil), h.outbox...)
}
