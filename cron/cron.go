package cron

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/goliatone/go-entities/runner"

	rcron "github.com/robfig/cron/v3"
)

// Logger interface shared across packages
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// HandlerConfig controls retry/timeout/run-count behavior for a single
// scheduled job, independent of how the job itself is expressed.
type HandlerConfig struct {
	Expression string
	MaxRetries int
	MaxRuns    int
	RunOnce    bool
	NoTimeout  bool
	Timeout    time.Duration
	Deadline   time.Time
}

// Scheduler wraps cron functionality.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	errorHandler func(error)

	logger    Logger
	parser    Parser
	logWriter io.Writer
	logLevel  LogLevel

	nextHandleID int64
	handles      map[int64]*cronSubscription
}

// NewScheduler creates a new scheduler instance with the provided options.
func NewScheduler(opts ...Option) *Scheduler {
	cs := &Scheduler{
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		errorHandler: func(err error) {
			log.Printf("error: %v\n", err)
		},
		handles: make(map[int64]*cronSubscription),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(cs)
		}
	}

	cs.cron = rcron.New(cs.build()...)
	return cs
}

func (cs *Scheduler) SetLogger(logger Logger) {
	cs.logger = logger
}

// ScheduleCron schedules a recurring job by cron expression. The job
// runs through a runner.Handler so retry/backoff/timeout apply the
// same way the out-of-process dispatch path applies them to one batch
// invocation.
func (s *Scheduler) ScheduleCron(opts HandlerConfig, job func(context.Context) error) (Handle, error) {
	if opts.Expression == "" {
		return nil, fmt.Errorf("cron expression cannot be empty")
	}
	run := s.buildRunnable(opts, job)

	sub := s.newHandle()
	cronJob := rcron.FuncJob(func() {
		status := sub.Status()
		if isTerminalStatus(status) {
			return
		}

		sub.setStatus(ScheduleStatusRunning, nil)
		if err := run(); err != nil {
			sub.setStatus(ScheduleStatusFailed, err)
			s.errorHandler(err)
			return
		}

		if !isTerminalStatus(sub.Status()) {
			sub.setStatus(ScheduleStatusIdle, nil)
		}
	})

	entryID, err := s.cron.AddJob(opts.Expression, cronJob)
	if err != nil {
		return nil, fmt.Errorf("failed to add job: %w", err)
	}
	sub.entryID = int(entryID)
	s.storeHandle(sub)
	return sub, nil
}

// ScheduleAfter schedules one execution after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, opts HandlerConfig, job func(context.Context) error) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), opts, job)
}

// ScheduleAt schedules one execution at a specific time.
func (s *Scheduler) ScheduleAt(at time.Time, opts HandlerConfig, job func(context.Context) error) (Handle, error) {
	run := s.buildRunnable(opts, job)

	sub := s.newHandle()
	s.storeHandle(sub)

	go func() {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-sub.Done():
			return
		}

		if isTerminalStatus(sub.Status()) {
			return
		}
		sub.setStatus(ScheduleStatusRunning, nil)
		if err := run(); err != nil {
			sub.setTerminal(ScheduleStatusFailed, err)
			s.errorHandler(err)
			s.removeStoredHandle(sub.id)
			return
		}
		sub.setTerminal(ScheduleStatusCompleted, nil)
		s.removeStoredHandle(sub.id)
	}()

	return sub, nil
}

// RemoveHandler removes a scheduled job by entry ID.
func (s *Scheduler) RemoveHandler(entryID int) {
	if s == nil {
		return
	}

	var affected []*cronSubscription
	s.mu.Lock()
	for id, handle := range s.handles {
		if handle != nil && handle.entryID == entryID {
			affected = append(affected, handle)
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	s.cron.Remove(rcron.EntryID(entryID))
	for _, handle := range affected {
		handle.setTerminal(ScheduleStatusCanceled, nil)
	}
}

// Start begins executing scheduled cron jobs.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop stops executing scheduled jobs and marks active handles as stopped.
func (s *Scheduler) Stop(_ context.Context) error {
	s.cron.Stop()

	var handles []*cronSubscription
	s.mu.Lock()
	for _, handle := range s.handles {
		handles = append(handles, handle)
	}
	s.handles = make(map[int64]*cronSubscription)
	s.mu.Unlock()

	for _, handle := range handles {
		if handle == nil {
			continue
		}
		if handle.entryID > 0 {
			s.cron.Remove(rcron.EntryID(handle.entryID))
		}
		if isTerminalStatus(handle.Status()) {
			continue
		}
		handle.setTerminal(ScheduleStatusStopped, nil)
	}
	return nil
}

func (s *Scheduler) removeHandle(id int64) {
	handle := s.removeStoredHandle(id)
	if handle == nil {
		return
	}
	if handle.entryID > 0 {
		s.cron.Remove(rcron.EntryID(handle.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *cronSubscription {
	if s == nil || id == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.handles[id]
	delete(s.handles, id)
	return handle
}

func (s *Scheduler) storeHandle(handle *cronSubscription) {
	if s == nil || handle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles == nil {
		s.handles = make(map[int64]*cronSubscription)
	}
	s.handles[handle.id] = handle
}

func (s *Scheduler) newHandle() *cronSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &cronSubscription{
		scheduler: s,
		id:        s.nextHandleID,
		status:    ScheduleStatusScheduled,
		done:      make(chan struct{}),
	}
}

func isTerminalStatus(status ScheduleStatus) bool {
	switch status {
	case ScheduleStatusCompleted, ScheduleStatusCanceled, ScheduleStatusFailed, ScheduleStatusStopped:
		return true
	default:
		return false
	}
}

func (s *Scheduler) buildRunnable(opts HandlerConfig, job func(context.Context) error) func() error {
	runnerOpts := makeRunnerOptions(s, opts)
	h := runner.NewHandler(runnerOpts...)

	return func() error {
		var runErr error
		h.Run(context.Background(), func(ctx context.Context) error {
			runErr = job(ctx)
			return runErr
		})
		return runErr
	}
}

func makeRunnerOptions(s *Scheduler, opts HandlerConfig) []runner.Option {
	runnerOpts := []runner.Option{
		runner.WithMaxRetries(opts.MaxRetries),
		runner.WithDeadline(opts.Deadline),
		runner.WithRunOnce(opts.RunOnce),
		runner.WithErrorHandler(s.errorHandler),
		runner.WithLogger(s.logger),
	}
	if opts.NoTimeout {
		runnerOpts = append(runnerOpts, runner.WithNoTimeout())
	} else if opts.Timeout > 0 {
		runnerOpts = append(runnerOpts, runner.WithTimeout(opts.Timeout))
	}
	if opts.MaxRuns > 0 {
		runnerOpts = append(runnerOpts, runner.WithMaxRuns(opts.MaxRuns))
	}
	return runnerOpts
}

func makeLogger(out io.Writer, level LogLevel) rcron.Logger {
	stdLogger := log.New(out, "cron: ", log.LstdFlags)
	cronLogger := rcron.PrintfLogger(stdLogger)
	if level >= LogLevelDebug {
		cronLogger = rcron.VerbosePrintfLogger(stdLogger)
	}
	return cronLogger
}

// build converts implementation-agnostic options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	if s.errorHandler != nil {
		opts = append(opts, rcron.WithChain(
			rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler}),
		))
	}

	var cronLogger rcron.Logger
	switch {
	case s.logger != nil:
		cronLogger = &loggerAdapter{logger: s.logger, level: s.logLevel}
	case s.logWriter != nil:
		cronLogger = makeLogger(s.logWriter, s.logLevel)
	default:
		if s.logLevel > LogLevelSilent {
			cronLogger = makeLogger(os.Stdout, s.logLevel)
		}
	}

	if cronLogger != nil {
		opts = append(opts, rcron.WithLogger(cronLogger))
	}

	return opts
}
