package process

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/loykin/watchdog/internal/env"
)

// DefaultGracePeriod is how long Stop waits after SIGTERM before escalating to SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// OutputWaitDelay bounds how long the reaper waits for the worker's output
// pipes to close after the worker itself has exited. A background child that
// inherited the pipes would otherwise keep Wait from returning.
const OutputWaitDelay = time.Second

// handle is the single live worker: its PID plus what is needed to signal and
// wait on it. err is written by the reaper goroutine before done is closed.
type handle struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
	err       error
}

// Controller owns the supervised worker process. It is not safe for
// concurrent use: exactly one goroutine (the supervision loop) drives it.
type Controller struct {
	spec   Spec
	grace  time.Duration
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger

	h      *handle
	status Status
	starts int
}

// Option configures a Controller.
type Option func(*Controller)

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.grace = d
		}
	}
}

// WithOutput redirects the worker's stdout/stderr. By default the worker
// inherits the supervisor's own streams.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(c *Controller) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a controller for spec with no live worker.
func NewController(spec Spec, opts ...Option) *Controller {
	c := &Controller{
		spec:   spec,
		grace:  DefaultGracePeriod,
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.status.Name = spec.DisplayName()
	return c
}

// Spec returns the launch spec.
func (c *Controller) Spec() Spec { return c.spec }

// Start launches the worker and records its handle. It does not retry.
func (c *Controller) Start() error {
	if c.h != nil {
		if c.exited() {
			c.clear()
		} else {
			return ErrAlreadyRunning
		}
	}
	c.logger.Info("Starting worker process", "launcher", c.launcher(), "executable", c.spec.Executable)

	cmd := c.spec.BuildCommand()
	if len(c.spec.Env) > 0 {
		e := env.FromOS()
		e.Apply(c.spec.Env)
		cmd.Env = e.Expanded()
	}
	cmd.Stdin = nil
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr
	cmd.WaitDelay = OutputWaitDelay
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return &SpawnError{Launcher: c.launcher(), Executable: c.spec.Executable, Err: err}
	}

	h := &handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		if errors.Is(err, exec.ErrWaitDelay) {
			// clean exit; output pipes were still held open
			err = nil
		}
		h.err = err
		close(h.done)
	}()
	c.h = h
	c.starts++
	c.status = Status{
		Name:      c.spec.DisplayName(),
		Running:   true,
		PID:       h.pid,
		StartedAt: h.startedAt,
		Starts:    c.starts,
	}
	if err := WritePIDFile(c.spec.PIDFile, h.pid, c.spec); err != nil {
		c.logger.Warn("Failed to write pid file", "path", c.spec.PIDFile, "error", err)
	}
	c.logger.Info("Worker process started", "pid", h.pid)
	return nil
}

// Stop terminates the worker: SIGTERM, then SIGKILL if it is still alive once
// the grace period has passed. It is a no-op without a live handle and always
// clears the handle before returning.
func (c *Controller) Stop() {
	h := c.h
	if h == nil {
		return
	}
	if c.exited() {
		c.logger.Info("Worker process already exited", "pid", h.pid)
		c.clear()
		return
	}

	c.logger.Info("Stopping worker process", "pid", h.pid)
	if err := terminate(h.cmd.Process); err != nil {
		c.logger.Debug("Failed to signal worker", "pid", h.pid, "error", err)
	}
	if c.exited() {
		c.logger.Info("Worker process already exited", "pid", h.pid)
		c.clear()
		return
	}

	t := time.NewTimer(c.grace)
	defer t.Stop()
	select {
	case <-h.done:
	case <-t.C:
		if err := forceKill(h.cmd.Process); err != nil {
			c.logger.Warn("Failed to kill process (may have already exited)", "pid", h.pid, "error", err)
		}
		<-h.done
	}
	c.clear()
	c.logger.Info("Worker process stopped", "pid", h.pid)
}

// IsRunning reports whether the worker is alive without blocking. Observing
// an exit retires the handle, so a later call returns false and Start may be
// called again.
func (c *Controller) IsRunning() bool {
	if c.h == nil {
		return false
	}
	if c.exited() {
		c.clear()
		return false
	}
	return true
}

// PID returns the live worker's pid or 0.
func (c *Controller) PID() int {
	if c.h == nil {
		return 0
	}
	return c.h.pid
}

// Snapshot returns a copy of the current status.
func (c *Controller) Snapshot() Status { return c.status }

func (c *Controller) exited() bool {
	select {
	case <-c.h.done:
		return true
	default:
		return false
	}
}

// clear retires the handle. Callers must have observed h.done closed.
func (c *Controller) clear() {
	h := c.h
	c.h = nil
	c.status.Running = false
	c.status.StoppedAt = time.Now()
	c.status.ExitErr = ""
	if h.err != nil {
		c.status.ExitErr = h.err.Error()
	}
	RemovePIDFile(c.spec.PIDFile)
	c.logger.Info("Worker process exited", "pid", h.pid, "uptime", c.status.StoppedAt.Sub(h.startedAt).Round(time.Millisecond), "exit", c.status.ExitErr)
}

func (c *Controller) launcher() string {
	if c.spec.Launcher == "" {
		return DefaultLauncher
	}
	return c.spec.Launcher
}
