// Package scheduler runs the relay's periodic background tasks.
//
// Each registered task gets its own goroutine. A failing or panicking run
// is logged and the loop continues; Stop cancels every task, including one
// waiting out its interval, and waits for them to return.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sentinel errors.
var (
	ErrUnknownTask    = errors.New("scheduler: unknown task")
	ErrAlreadyStarted = errors.New("scheduler: already started")
)

// Task is one unit of periodic work.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type taskFunc struct {
	fn   func(ctx context.Context) error
	name string
}

func (t taskFunc) Name() string                  { return t.name }
func (t taskFunc) Run(ctx context.Context) error { return t.fn(ctx) }

// NewTask adapts a function to a Task.
func NewTask(name string, fn func(ctx context.Context) error) Task {
	return taskFunc{name: name, fn: fn}
}

// Spec controls when a task runs.
type Spec struct {
	// Interval between the end of one run and the start of the next.
	Interval time.Duration
	// InitialDelay before the first run. Zero runs immediately on Start.
	InitialDelay time.Duration
	// Jitter adds a random delay up to this bound to every wait.
	Jitter time.Duration
	// Timeout bounds one run. Zero means no bound.
	Timeout time.Duration
}

// TaskStatus is a snapshot of one task's history.
type TaskStatus struct {
	LastRun   time.Time `json:"last_run,omitzero"`
	Name      string    `json:"name"`
	LastError string    `json:"last_error,omitempty"`
	Interval  string    `json:"interval"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	Running   bool      `json:"running"`
}

type entry struct {
	task    Task
	lock    chan struct{}
	lastRun time.Time
	lastErr error
	spec    Spec
	runs    int64
	fails   int64
	running bool
}

// Supervisor owns the task goroutines.
type Supervisor struct {
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]*entry
	log     *zerolog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewSupervisor creates an idle Supervisor.
func NewSupervisor(log *zerolog.Logger) *Supervisor {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
		log:     log,
		now:     time.Now,
	}
}

// Register adds a task. Registering after Start is an error; registering a
// name twice replaces the earlier task.
func (s *Supervisor) Register(task Task, spec Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if spec.Interval <= 0 {
		return fmt.Errorf("scheduler: task %s: interval must be positive", task.Name())
	}
	s.entries[task.Name()] = &entry{task: task, spec: spec, lock: make(chan struct{}, 1)}
	return nil
}

// Start launches every registered task. Later calls are no-ops.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(e)
	}
	s.log.Info().Int("tasks", len(s.entries)).Msg("scheduler started")
}

// Stop cancels every task and waits for the goroutines to exit.
func (s *Supervisor) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Supervisor) loop(e *entry) {
	defer s.wg.Done()

	log := s.log.With().Str("task", e.task.Name()).Logger()
	log.Debug().
		Dur("interval", e.spec.Interval).
		Dur("initial_delay", e.spec.InitialDelay).
		Msg("task scheduled")

	wait := e.spec.InitialDelay
	for {
		if !s.sleep(wait + jitter(e.spec.Jitter)) {
			log.Debug().Msg("task stopped")
			return
		}
		if err := s.run(s.ctx, e); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("task run failed")
		}
		wait = e.spec.Interval
	}
}

func (s *Supervisor) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// run executes one run of e, serialized with any other run of the same task.
func (s *Supervisor) run(ctx context.Context, e *entry) (err error) {
	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.lock }()

	if e.spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.spec.Timeout)
		defer cancel()
	}

	s.mu.Lock()
	e.running = true
	s.mu.Unlock()

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: task %s panicked: %v", e.task.Name(), r)
		}
		s.mu.Lock()
		e.running = false
		e.lastRun = start
		e.lastErr = err
		e.runs++
		if err != nil {
			e.fails++
		}
		s.mu.Unlock()

		s.log.Debug().
			Str("task", e.task.Name()).
			Dur("duration", s.now().Sub(start)).
			Err(err).
			Msg("task run finished")
	}()

	return e.task.Run(ctx)
}

// RunNow runs the named task immediately on the caller's goroutine, after
// any in-progress run of it finishes.
func (s *Supervisor) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, e)
}

// Status returns a snapshot of every task, sorted by name.
func (s *Supervisor) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.entries))
	for name, e := range s.entries {
		st := TaskStatus{
			Name:     name,
			Interval: e.spec.Interval.String(),
			LastRun:  e.lastRun,
			Runs:     e.runs,
			Failures: e.fails,
			Running:  e.running,
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// jitter returns a random duration in [0, maxDur).
func jitter(maxDur time.Duration) time.Duration {
	if maxDur <= 0 {
		return 0
	}
	return rand.N(maxDur) //nolint:gosec // scheduling jitter, not security
}
