// Package supervisor runs the supervision loop: the single owner of the worker
// controller and the restart throttle. Other goroutines reach it only through
// the trigger channel or the published Status snapshot.
package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loykin/watchdog/internal/history"
	"github.com/loykin/watchdog/internal/metrics"
	"github.com/loykin/watchdog/internal/notifier"
	"github.com/loykin/watchdog/internal/process"
	"github.com/loykin/watchdog/internal/throttle"
)

const (
	DefaultTick    = time.Second
	DefaultBackoff = 10 * time.Second
)

// Lifecycle is the worker controller driven by the loop.
type Lifecycle interface {
	Start() error
	Stop()
	IsRunning() bool
	PID() int
	Snapshot() process.Status
}

// Gate decides whether an automatic restart may happen now.
type Gate interface {
	CanRestart() bool
	Snapshot() throttle.Window
	Max() int
}

// EventRecorder receives lifecycle events. It must not block.
type EventRecorder interface {
	Record(e history.Event)
}

// Status is an immutable snapshot published after every pass.
type Status struct {
	Worker               process.Status  `json:"worker"`
	Window               throttle.Window `json:"restart_window"`
	MaxRestartsPerMinute int             `json:"max_restarts_per_minute"`
	RestartOnChange      bool            `json:"restart_on_change"`
	CrashRestarts        int             `json:"crash_restarts"`
	ChangeRestarts       int             `json:"change_restarts"`
	Denied               int             `json:"denied"`
	Triggers             int             `json:"triggers"`
	LastTriggerPath      string          `json:"last_trigger_path,omitempty"`
	LastTriggerAt        time.Time       `json:"last_trigger_at,omitzero"`
	BackoffUntil         time.Time       `json:"backoff_until,omitzero"`
	StartedAt            time.Time       `json:"started_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Supervisor owns the worker lifecycle. Run must be called from one goroutine.
type Supervisor struct {
	proc            Lifecycle
	gate            Gate
	triggers        <-chan notifier.Trigger
	restartOnChange bool
	tick            time.Duration
	backoff         time.Duration
	recorder        EventRecorder
	logger          *slog.Logger

	st     Status
	status atomic.Pointer[Status]
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithTick sets the pause between passes.
func WithTick(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithBackoff sets the extra pause after a denied restart.
func WithBackoff(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

// WithRestartOnChange makes file-change triggers restart the worker.
func WithRestartOnChange(on bool) Option {
	return func(s *Supervisor) { s.restartOnChange = on }
}

// WithRecorder sends lifecycle events to r.
func WithRecorder(r EventRecorder) Option {
	return func(s *Supervisor) { s.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Supervisor. triggers may be nil when change detection is off.
func New(proc Lifecycle, gate Gate, triggers <-chan notifier.Trigger, opts ...Option) *Supervisor {
	s := &Supervisor{
		proc:     proc,
		gate:     gate,
		triggers: triggers,
		tick:     DefaultTick,
		backoff:  DefaultBackoff,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	now := time.Now()
	s.st = Status{
		MaxRestartsPerMinute: gate.Max(),
		RestartOnChange:      s.restartOnChange,
		StartedAt:            now,
	}
	s.publish()
	return s
}

// Status returns the latest published snapshot. Safe for concurrent use.
func (s *Supervisor) Status() Status { return *s.status.Load() }

// WorkerPID returns the worker pid from the latest snapshot, or 0.
func (s *Supervisor) WorkerPID() int {
	st := s.status.Load()
	if !st.Worker.Running {
		return 0
	}
	return st.Worker.PID
}

// Run starts the worker and supervises it until ctx is cancelled, then stops
// the worker. It returns nil on shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("Supervisor starting",
		"max_restarts_per_minute", s.gate.Max(),
		"restart_on_change", s.restartOnChange,
		"change_detection", s.triggers != nil)
	s.start(metrics.ReasonInitial)
	s.publish()

	for {
		wait := s.step()
		if !sleep(ctx, wait) {
			break
		}
	}

	s.logger.Info("Supervisor shutting down")
	if s.proc.IsRunning() {
		s.stop("shutdown")
	}
	s.publish()
	return nil
}

// step runs one pass of the loop and returns how long to wait before the next.
func (s *Supervisor) step() time.Duration {
	defer s.publish()

	if t, ok := s.drainTriggers(); ok {
		s.st.Triggers++
		s.st.LastTriggerPath = t.Path
		s.st.LastTriggerAt = t.At
		if s.restartOnChange {
			s.logger.Info("Restarting worker due to file change", "path", t.Path)
			s.observeExit()
			s.stop(metrics.ReasonChange)
			if s.start(metrics.ReasonChange) {
				s.st.ChangeRestarts++
			}
		} else {
			s.logger.Debug("File change ignored, restart on change disabled", "path", t.Path)
		}
	}

	if s.observeExit() {
		return s.tick
	}

	if !s.gate.CanRestart() {
		w := s.gate.Snapshot()
		metrics.SetWindowCount(w.Count)
		metrics.IncRestartDenied()
		s.st.Denied++
		s.st.BackoffUntil = time.Now().Add(s.backoff)
		s.logger.Error("Too many restarts, waiting before next attempt",
			"attempts", w.Count, "max", s.gate.Max(), "backoff", s.backoff)
		s.record(history.Event{Type: history.EventThrottled, Reason: "restart limit reached"})
		return s.backoff + s.tick
	}
	metrics.SetWindowCount(s.gate.Snapshot().Count)
	s.logger.Warn("Worker not running, restarting")
	if s.start(metrics.ReasonCrash) {
		s.st.CrashRestarts++
	}
	return s.tick
}

// drainTriggers takes one pending trigger and discards the rest so a burst
// produces a single restart.
func (s *Supervisor) drainTriggers() (notifier.Trigger, bool) {
	if s.triggers == nil {
		return notifier.Trigger{}, false
	}
	var (
		first notifier.Trigger
		got   bool
		extra int
	)
	for {
		select {
		case t, ok := <-s.triggers:
			if !ok {
				s.triggers = nil
				return first, got
			}
			if !got {
				first, got = t, true
			} else {
				extra++
			}
		default:
			if extra > 0 {
				s.logger.Debug("Coalesced file change triggers", "discarded", extra)
			}
			return first, got
		}
	}
}

// observeExit checks liveness and records an exit it observes. It reports
// whether the worker is running.
func (s *Supervisor) observeExit() bool {
	pid := s.proc.PID()
	if s.proc.IsRunning() {
		return true
	}
	if pid != 0 {
		st := s.proc.Snapshot()
		metrics.IncExit()
		metrics.SetRunning(false)
		metrics.ResetWorker()
		s.logger.Warn("Worker process exited", "pid", pid, "exit", st.ExitErr)
		s.record(history.Event{Type: history.EventExit, PID: pid, Error: st.ExitErr})
	}
	return false
}

func (s *Supervisor) start(reason string) bool {
	if err := s.proc.Start(); err != nil {
		metrics.IncStartFailure()
		s.logger.Error("Failed to start worker", "reason", reason, "error", err)
		return false
	}
	pid := s.proc.PID()
	metrics.IncStart(reason)
	metrics.SetRunning(true)
	s.st.BackoffUntil = time.Time{}
	s.record(history.Event{Type: history.EventStart, PID: pid, Reason: reason})
	return true
}

func (s *Supervisor) stop(reason string) {
	pid := s.proc.PID()
	if pid == 0 {
		return
	}
	s.proc.Stop()
	metrics.IncStop()
	metrics.SetRunning(false)
	metrics.ResetWorker()
	st := s.proc.Snapshot()
	s.record(history.Event{Type: history.EventStop, PID: pid, Reason: reason, Error: st.ExitErr})
}

func (s *Supervisor) record(e history.Event) {
	if s.recorder == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if e.Name == "" {
		e.Name = s.proc.Snapshot().Name
	}
	s.recorder.Record(e)
}

func (s *Supervisor) publish() {
	st := s.st
	st.Worker = s.proc.Snapshot()
	st.Window = s.gate.Snapshot()
	st.UpdatedAt = time.Now()
	s.status.Store(&st)
}

// sleep waits for d or until ctx is done. It reports whether the loop should continue.
func sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
