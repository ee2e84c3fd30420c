// Package runner provides a small retryable, run-count-limited invocation
// wrapper used by the scheduler's out-of-process dispatch path and by
// the outbox/lease sweeper: both need "try this function, retry with
// backoff on failure, cap total attempts" without pulling in the full
// scheduler package.
package runner

import (
	"context"
	"sync"
	"time"
)

// Logger is the minimal logging contract a Handler reports through.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handler wraps a func(context.Context) error with retry/backoff,
// timeout/deadline, and run-count limiting. Callers invoke Run
// directly with a plain closure rather than a typed command/query
// surface.
type Handler struct {
	mu sync.Mutex

	logger        Logger
	errorHandler  func(error)
	doneHandler   func(*Handler)
	retryStrategy RetryStrategy

	EntryID        int
	runs           int
	successfulRuns int

	maxRuns     int
	maxRetries  int
	timeout     time.Duration
	deadline    time.Time
	once        bool
	exitOnError bool
}

// NewHandler constructs a Handler from opts, applying defaults for
// anything left unset.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		errorHandler:  func(error) {},
		doneHandler:   func(*Handler) {},
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h
}

// Run invokes fn, retrying up to maxRetries times per the configured
// RetryStrategy, honoring timeout/deadline/run-count limits. Errors
// from exhausted attempts are reported through the error handler, not
// returned — the caller observes outcome via the error handler/done
// handler, matching the fire-and-retry shape the sweeper needs.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) {
	h.mu.Lock()
	if h.once && h.successfulRuns >= 1 {
		h.mu.Unlock()
		return
	}
	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		h.mu.Unlock()
		return
	}
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	h.mu.Unlock()

	runCtx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn(runCtx)
		if err == nil {
			break
		}
		if attempt < maxRetries {
			h.handleError(err)
			if strategy != nil {
				decision := DecideRetry(strategy, attempt, err)
				if !decision.ShouldRetry {
					break
				}
				if decision.Delay > 0 {
					time.Sleep(decision.Delay)
				}
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs++
	if err == nil {
		h.successfulRuns++
	} else {
		h.handleError(err)
		if h.exitOnError {
			h.doneHandler(h)
		}
	}
	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		h.doneHandler(h)
	}
}

// Stopped reports whether the handler should no longer be scheduled:
// either it exhausted maxRuns, ran its one allowed run, or hit an
// error with WithExitOnError set.
func (h *Handler) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.once && h.successfulRuns >= 1 {
		return true
	}
	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		return true
	}
	if h.exitOnError && h.runs > h.successfulRuns {
		return true
	}
	return false
}

func (h *Handler) handleError(err error) {
	if h.logger != nil {
		h.logger.Error("run failed: %v", err)
	}
	if h.errorHandler != nil {
		h.errorHandler(err)
	}
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctx, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctx, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}
