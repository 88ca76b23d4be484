// Package schedule runs a compiled graph on cron schedules.
//
// Expressions use the five standard fields (minute, hour, day of month,
// month, day of week) or a descriptor such as "@hourly" or "@every 30s".
// Schedules are evaluated in UTC. Timezone prefixes are rejected.
//
// Every scheduled run gets a fresh thread ID, so runs never share
// checkpoints. A run that is still going when its next tick arrives causes
// that tick to be skipped.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// ErrInvalidExpression indicates a cron expression that cannot be parsed.
var ErrInvalidExpression = errors.New("invalid cron expression")

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse validates expr and returns its schedule.
func Parse(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("%w: expression is required", ErrInvalidExpression)
	}
	if strings.Contains(strings.ToUpper(clean), "TZ=") {
		return nil, fmt.Errorf("%w: timezone prefixes are not allowed", ErrInvalidExpression)
	}
	sched, err := parser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	return sched, nil
}

// Next returns the first activation of expr after now, in UTC.
func Next(expr string, now time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now.UTC()), nil
}

// InputFunc produces the initial state for one scheduled run.
type InputFunc func() state.Map

// Result describes one finished scheduled run.
type Result struct {
	Expr     string
	ThreadID string
	Started  time.Time
	Duration time.Duration
	State    state.Map
	Err      error
}

// Scheduler owns a cron runner bound to one compiled graph.
type Scheduler struct {
	graph    *stategraph.CompiledGraph
	logger   *slog.Logger
	runOpts  []stategraph.RunOption
	onResult func(Result)
	timeout  time.Duration

	cron *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for run outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRunOptions applies opts to every scheduled run.
func WithRunOptions(opts ...stategraph.RunOption) Option {
	return func(s *Scheduler) { s.runOpts = append(s.runOpts, opts...) }
}

// WithResultHandler is called after every scheduled run.
func WithResultHandler(fn func(Result)) Option {
	return func(s *Scheduler) { s.onResult = fn }
}

// WithRunTimeout bounds each scheduled run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a scheduler for graph. Nothing runs until Start.
func New(graph *stategraph.CompiledGraph, opts ...Option) *Scheduler {
	s := &Scheduler{
		graph:  graph,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = ctx, cancel

	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(
			cron.Recover(cronLogger{s.logger}),
			cron.SkipIfStillRunning(cronLogger{s.logger}),
		),
	)
	return s
}

// Add registers a run of the graph on expr. A nil input starts each run
// from an empty state.
func (s *Scheduler) Add(expr string, input InputFunc) (cron.EntryID, error) {
	sched, err := Parse(expr)
	if err != nil {
		return 0, err
	}
	if input == nil {
		input = func() state.Map { return state.Map{} }
	}
	job := cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		s.RunOnce(ctx, expr, input())
	})
	return s.cron.Schedule(sched, job), nil
}

// Remove unregisters an entry.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Entries returns the registered entries with their next activation.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// Start begins running entries in the background.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop halts the scheduler, cancels in-flight runs, and waits for them to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes the graph once on st under a fresh thread ID, the way a
// scheduled tick does.
func (s *Scheduler) RunOnce(ctx context.Context, expr string, st state.Map) Result {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res := Result{
		Expr:     expr,
		ThreadID: uuid.NewString(),
		Started:  time.Now().UTC(),
	}
	opts := append([]stategraph.RunOption(nil), s.runOpts...)
	opts = append(opts, stategraph.WithThreadID(res.ThreadID), stategraph.WithRunLogger(s.logger))

	res.State, res.Err = s.graph.Invoke(ctx, st, opts...)
	res.Duration = time.Since(res.Started)

	if res.Err != nil {
		s.logger.Error("scheduled run failed",
			"schedule", expr,
			"thread_id", res.ThreadID,
			"error", res.Err,
		)
	} else {
		s.logger.Info("scheduled run complete",
			"schedule", expr,
			"thread_id", res.ThreadID,
			"duration_ms", float64(res.Duration.Microseconds())/1000,
		)
	}

	if s.onResult != nil {
		s.onResult(res)
	}
	return res
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
