// Package delay holds delayed flow continuations and releases them once due.
package delay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/chatflow/pkg/flow"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSpec is the cron spec of the sweeper.
const DefaultSweepSpec = "@every 1s"

// Dispatcher resumes a session at the continuation's node.
type Dispatcher func(ctx context.Context, continuation flow.Continuation) error

type entry struct {
	continuation flow.Continuation
	due          time.Time
}

// Scheduler keeps pending continuations in memory. A cron sweeper hands
// every due continuation to the dispatcher in its own goroutine.
type Scheduler struct {
	dispatch Dispatcher
	logger   *slog.Logger
	now      func() time.Time
	spec     string

	mu      sync.Mutex
	pending []entry

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSweepSpec overrides the sweeper's cron spec.
func WithSweepSpec(spec string) Option {
	return func(s *Scheduler) { s.spec = spec }
}

func NewScheduler(dispatch Dispatcher, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		dispatch: dispatch,
		logger:   logger.With("module", "delay_scheduler"),
		now:      time.Now,
		spec:     DefaultSweepSpec,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Schedule registers continuations; it never blocks on their execution.
func (s *Scheduler) Schedule(continuations ...flow.Continuation) {
	if len(continuations) == 0 {
		return
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range continuations {
		s.pending = append(s.pending, entry{continuation: c, due: now.Add(c.After)})
	}

	sort.SliceStable(s.pending, func(a, b int) bool {
		return s.pending[a].due.Before(s.pending[b].due)
	})
}

// Pending returns the number of continuations not yet released.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// Start runs the sweeper until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := s.cron.AddFunc(s.spec, func() { s.Sweep(s.ctx) }); err != nil {
		return fmt.Errorf("invalid sweep spec %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "delay scheduler started", "spec", s.spec)

	return nil
}

// Sweep releases every due continuation and returns how many were released.
func (s *Scheduler) Sweep(ctx context.Context) int {
	due := s.takeDue(s.now())

	for _, c := range due {
		s.wg.Add(1)

		go func(c flow.Continuation) {
			defer s.wg.Done()

			if err := s.dispatch(ctx, c); err != nil {
				s.logger.ErrorContext(ctx, "delayed continuation failed",
					"session_id", c.SessionID, "node_id", c.NodeID, "error", err)
			}
		}(c)
	}

	return len(due)
}

func (s *Scheduler) takeDue(now time.Time) []flow.Continuation {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for n < len(s.pending) && !s.pending[n].due.After(now) {
		n++
	}

	due := make([]flow.Continuation, 0, n)
	for _, e := range s.pending[:n] {
		due = append(due, e.continuation)
	}

	s.pending = append([]entry(nil), s.pending[n:]...)

	return due
}

// Wait blocks until every released continuation finished dispatching.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stop halts the sweeper and waits for in-flight dispatches.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.wg.Wait()
	s.logger.InfoContext(ctx, "delay scheduler stopped", "pending", s.Pending())

	return nil
}
