// Package tree runs the watchdog's background services under a suture
// supervisor so that a failing service is restarted without touching the
// supervision loop.
package tree

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// Config holds restart and shutdown parameters. Zero values use the defaults.
type Config struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultConfig returns suture's own defaults with a shorter shutdown timeout.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  5 * time.Second,
	}
}

// Tree groups services into layers:
//   - monitor: change notifier, heartbeat reporter, health log
//   - data: history recorder
//   - api: status server
type Tree struct {
	root    *suture.Supervisor
	monitor *suture.Supervisor
	data    *suture.Supervisor
	api     *suture.Supervisor
	count   int
}

// New builds an empty tree logging supervisor events to logger.
func New(logger *slog.Logger, cfg Config) *Tree {
	def := DefaultConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	// MustHook has a pointer receiver.
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := childSpec
	rootSpec.EventHook = hook

	t := &Tree{
		root:    suture.New("watchdog", rootSpec),
		monitor: suture.New("monitor", childSpec),
		data:    suture.New("data", childSpec),
		api:     suture.New("api", childSpec),
	}
	t.root.Add(t.monitor)
	t.root.Add(t.data)
	t.root.Add(t.api)
	return t
}

// AddMonitor adds a watcher or reporter service.
func (t *Tree) AddMonitor(svc suture.Service) suture.ServiceToken {
	t.count++
	return t.monitor.Add(svc)
}

// AddData adds a storage service such as the history recorder.
func (t *Tree) AddData(svc suture.Service) suture.ServiceToken {
	t.count++
	return t.data.Add(svc)
}

// AddAPI adds an HTTP service.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken {
	t.count++
	return t.api.Add(svc)
}

// Len returns the number of services added.
func (t *Tree) Len() int { return t.count }

// Serve runs the tree until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine. The channel yields the result.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
