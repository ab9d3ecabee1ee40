// Package supervisor runs long-lived periodic tasks with failure isolation.
//
// Every task runs in its own goroutine inside a run-catch-log-resleep
// harness: an error or panic in one iteration is logged and counted, and the
// task sleeps (ErrorBackoff after a failure, Interval otherwise) before the
// next iteration. A failing task never stops the others.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saashqdev/ops-center-sub002/internal/metrics"
	"github.com/saashqdev/ops-center-sub002/internal/tracing"
)

// Task is one periodic job.
type Task struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration
	// ErrorBackoff replaces Interval after a failed iteration. Zero keeps Interval.
	ErrorBackoff time.Duration
	// Timeout bounds one iteration. Zero means no bound.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// TaskStatus is the last known state of a task.
type TaskStatus struct {
	Iterations int64     `json:"iterations"`
	Failures   int64     `json:"failures"`
	LastRun    time.Time `json:"last_run"`
	LastError  string    `json:"last_error,omitempty"`
}

// Supervisor owns a set of tasks.
type Supervisor struct {
	tasks  []Task
	logger *zap.Logger

	mu      sync.RWMutex
	status  map[string]TaskStatus
	running bool
}

// New creates an empty supervisor.
func New(logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		logger: logger.Named("supervisor"),
		status: make(map[string]TaskStatus),
	}
}

// Add registers a task. Tasks must be added before Run.
func (s *Supervisor) Add(t Task) {
	s.tasks = append(s.tasks, t)
}

// Run starts every task and blocks until ctx is done. It returns nil on
// cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.tasks) == 0 {
		return errors.New("supervisor: no tasks")
	}
	s.setRunning(true)
	defer s.setRunning(false)

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}
	s.logger.Info("supervisor started", zap.Int("tasks", len(s.tasks)))
	err := g.Wait()
	s.logger.Info("supervisor stopped")
	return err
}

// Running reports whether Run is active.
func (s *Supervisor) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status returns a snapshot of every task's state.
func (s *Supervisor) Status() map[string]TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]TaskStatus, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}

func (s *Supervisor) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Supervisor) loop(ctx context.Context, t Task) {
	log := s.logger.With(zap.String("task", t.Name))
	if !sleep(ctx, t.InitialDelay) {
		return
	}
	for {
		err := s.RunOnce(ctx, t)
		if ctx.Err() != nil {
			return
		}
		next := t.Interval
		if err != nil {
			log.Error("task iteration failed", zap.Error(err))
			if t.ErrorBackoff > 0 {
				next = t.ErrorBackoff
			}
		}
		if !sleep(ctx, next) {
			return
		}
	}
}

// RunOnce executes one iteration of t with its timeout, converting a panic
// into an error, and records metrics and status.
func (s *Supervisor) RunOnce(ctx context.Context, t Task) (err error) {
	ctx, span := tracing.StartSpan(ctx, "supervisor."+t.Name, attribute.String("task", t.Name))
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			err = fmt.Errorf("panic in task %s: %v", t.Name, r)
			s.logger.Error("task panicked",
				zap.String("task", t.Name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		} else if err != nil {
			outcome = "error"
		}
		metrics.LoopIterationsTotal.WithLabelValues(t.Name, outcome).Inc()
		metrics.LoopDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())
		s.record(t.Name, start, err)
		tracing.EndSpan(span, err)
	}()

	return t.Run(ctx)
}

func (s *Supervisor) record(name string, at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status[name]
	st.Iterations++
	st.LastRun = at
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
	s.status[name] = st
}

// sleep waits d or until ctx is done. It reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
