package runtime

import (
	"context"
	"time"

	entities "github.com/goliatone/go-entities"
	"github.com/goliatone/go-entities/cron"
	"github.com/goliatone/go-entities/scheduler"
)

// Sweeper reclaims deferred (ScheduledAt) deliveries and idle-but-
// non-terminated entities on a cron cadence. It wraps cron.Scheduler
// (robfig/cron) the same way that package wraps it for any other
// recurring job.
type Sweeper struct {
	harness  *Harness
	cron     *cron.Scheduler
	schedule string
}

// NewSweeper constructs a Sweeper over h, ticking on schedule (a
// robfig/cron expression, e.g. "@every 30s").
func NewSweeper(h *Harness, schedule string, opts ...cron.Option) *Sweeper {
	return &Sweeper{
		harness:  h,
		cron:     cron.NewScheduler(opts...),
		schedule: schedule,
	}
}

// Start begins the sweep cadence, re-delivering any entity whose
// persisted queue has a now-due deferred message that the original
// enqueue didn't trigger a fresh activation for (e.g. the harness
// process restarted between the enqueue and the due time).
func (s *Sweeper) Start(ctx context.Context, ids func() []entities.EntityId) error {
	_, err := s.cron.ScheduleCron(cron.HandlerConfig{
		Expression: s.schedule,
		MaxRetries: 1,
	}, func(ctx context.Context) error {
		return s.sweepOnce(ctx, ids())
	})
	if err != nil {
		return err
	}
	return s.cron.Start(ctx)
}

// Stop halts the sweep cadence.
func (s *Sweeper) Stop(ctx context.Context) error {
	return s.cron.Stop(ctx)
}

// sweepOnce kicks every entity in ids whose persisted queue currently
// has due work. A harness worker only drains its queue when a message
// arrives or it is kicked, so a deferred message that becomes due later
// needs this external nudge, since nothing enqueues it again.
func (s *Sweeper) sweepOnce(ctx context.Context, ids []entities.EntityId) error {
	now := s.harness.clock.Now()
	var firstErr error
	for _, id := range ids {
		instanceID := entities.ToSchedulerInstanceID(id)
		rec, err := s.harness.store.Load(ctx, instanceID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if rec == nil || !hasDueWork(rec.State, now) {
			continue
		}
		if err := s.harness.Kick(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func hasDueWork(state scheduler.State, at time.Time) bool {
	for _, msg := range state.Queue {
		if msg.IsDue(at) {
			return true
		}
	}
	return false
}
