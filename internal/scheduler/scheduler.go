// Package scheduler fires registered tasks on their triggers, one goroutine per
// task.
//
// Runs of the same task never overlap: the next fire time is computed after the
// previous run returns. Cancelling the context passed to Start stops new runs
// only; a run already in progress finishes on a context detached from it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrDuplicateTask = errors.New("task already registered")
	ErrStarted       = errors.New("scheduler already started")
)

type Task struct {
	Name    string
	Trigger Trigger
	Run     func(ctx context.Context)
	// RunAtStart fires the task once immediately when the scheduler starts.
	RunAtStart bool
}

type Scheduler struct {
	mu      sync.Mutex
	tasks   []Task
	names   map[string]struct{}
	started bool

	wg     sync.WaitGroup
	clock  func() time.Time
	logger zerolog.Logger
}

func New() *Scheduler {
	return &Scheduler{
		names:  make(map[string]struct{}),
		clock:  time.Now,
		logger: log.Logger,
	}
}

func (s *Scheduler) WithLogger(logger zerolog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithClock overrides the clock for testing.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) Register(t Task) error {
	if t.Name == "" {
		return errors.New("task name is required")
	}
	if t.Trigger == nil || t.Run == nil {
		return fmt.Errorf("task %s: trigger and run are required", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	if _, ok := s.names[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name)
	}
	s.names[t.Name] = struct{}{}
	s.tasks = append(s.tasks, t)
	return nil
}

// Tasks returns the registered task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.Name
	}
	return names
}

// Start launches every task's loop and returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	s.started = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.logger.Info().Int("tasks", len(s.tasks)).Msg("Scheduler started")
	return nil
}

// Wait blocks until every task loop has exited, in-flight runs included.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()
	logger := s.logger.With().Str("task", t.Name).Logger()

	if t.RunAtStart {
		s.runOnce(ctx, t, logger)
	}

	for {
		now := s.clock()
		next := t.Trigger.Next(now)
		if next.IsZero() {
			logger.Info().Str("trigger", t.Trigger.String()).Msg("Trigger has no further occurrences, task stopped")
			return
		}
		logger.Debug().Time("next_run", next).Msg("Task scheduled")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info().Msg("Task loop stopped")
			return
		case <-timer.C:
		}
		s.runOnce(ctx, t, logger)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Task run panicked")
		}
	}()
	t.Run(context.WithoutCancel(ctx))
}
