package watchdog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	cfg "github.com/loykin/watchdog/internal/config"
	"github.com/loykin/watchdog/internal/heartbeat"
	"github.com/loykin/watchdog/internal/history"
	"github.com/loykin/watchdog/internal/history/factory"
	"github.com/loykin/watchdog/internal/metrics"
	"github.com/loykin/watchdog/internal/notifier"
	"github.com/loykin/watchdog/internal/process"
	iapi "github.com/loykin/watchdog/internal/server"
	"github.com/loykin/watchdog/internal/supervisor"
	"github.com/loykin/watchdog/internal/throttle"
	itls "github.com/loykin/watchdog/internal/tls"
	"github.com/loykin/watchdog/internal/tree"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = supervisor.Status

type Event = history.Event

type HistorySink = history.Sink

// Watchdog wires a worker controller, restart throttle, change notifier,
// heartbeat reporter and history recorder around one supervision loop.
type Watchdog struct {
	cfg      *Config
	logger   *slog.Logger
	proc     *process.Controller
	sup      *supervisor.Supervisor
	tree     *tree.Tree
	notifier *notifier.Notifier
	recorder *history.Recorder
	sink     history.Sink
	closers  []io.Closer

	closeOnce sync.Once
}

// Option configures New.
type Option func(*options)

type options struct {
	logger *slog.Logger
	sink   history.Sink
}

// WithLogger overrides the logger built from the config's log section.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithHistorySink records lifecycle events to s instead of history.dsn.
func WithHistorySink(s HistorySink) Option { return func(o *options) { o.sink = s } }

// LoadConfig reads defaults, the optional TOML file, WATCHDOG_* env vars and
// flags from fs (may be nil).
func LoadConfig(path string, fs *pflag.FlagSet) (*Config, error) { return cfg.Load(path, fs) }

// New validates c and builds every component. Nothing runs until Run.
func New(c *Config, opts ...Option) (*Watchdog, error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	lc := c.LoggerConfig()
	logger := o.logger
	if logger == nil {
		logger = lc.NewSlogger()
	}

	w := &Watchdog{cfg: c, logger: logger}

	spec, err := c.ProcessSpec()
	if err != nil {
		return nil, fmt.Errorf("worker spec: %w", err)
	}
	procOpts := []process.Option{process.WithGracePeriod(c.StopGrace), process.WithLogger(logger)}
	outW, errW, err := lc.ProcessWriters(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("worker log files: %w", err)
	}
	if outW != nil || errW != nil {
		var stdout, stderr io.Writer = os.Stdout, os.Stderr
		if outW != nil {
			stdout = outW
			w.closers = append(w.closers, outW)
		}
		if errW != nil {
			stderr = errW
			w.closers = append(w.closers, errW)
		}
		procOpts = append(procOpts, process.WithOutput(stdout, stderr))
	}
	w.proc = process.NewController(spec, procOpts...)
	gate := throttle.New(c.MaxRestartsPerMinute)
	w.tree = tree.New(logger, tree.Config{})

	var triggers <-chan notifier.Trigger
	if c.Watch.Dir != "" {
		ch := notifier.NewChannel()
		n, err := notifier.New(c.Watch.Dir, ch, logger)
		if err != nil {
			logger.Warn("Change detection disabled", "dir", c.Watch.Dir, "error", err)
		} else {
			triggers = ch
			w.notifier = n
			w.tree.AddMonitor(n)
			logger.Info("Watching for file changes", "dir", n.Root(), "directories", n.WatchedDirs())
		}
	}

	if c.Heartbeat.URL != "" {
		w.tree.AddMonitor(heartbeat.New(c.Heartbeat.URL,
			heartbeat.WithInterval(c.HeartbeatInterval()),
			heartbeat.WithLogger(logger)))
	}

	w.sink = o.sink
	if w.sink == nil && c.History.DSN != "" {
		s, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		w.sink = s
	}

	supOpts := []supervisor.Option{
		supervisor.WithTick(c.Loop.Tick),
		supervisor.WithBackoff(c.Loop.Backoff),
		supervisor.WithRestartOnChange(c.Watch.RestartOnChange),
		supervisor.WithLogger(logger),
	}
	if w.sink != nil {
		w.recorder = history.NewRecorder(w.sink, c.History.Queue, logger)
		w.tree.AddData(w.recorder)
		supOpts = append(supOpts, supervisor.WithRecorder(w.recorder))
	}
	w.sup = supervisor.New(w.proc, gate, triggers, supOpts...)

	if c.Health.Interval > 0 {
		w.tree.AddMonitor(heartbeat.NewHealthLogger(c.Health.Interval, w.sup.WorkerPID, logger))
	}
	if c.Server.Listen != "" {
		tlsCfg, err := itls.Setup(c.Server.TLS)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("status server tls: %w", err)
		}
		q, _ := w.sink.(history.Querier)
		srv := iapi.NewServer(c.Server.Listen, "", w.sup, q)
		srv.TLSConfig = tlsCfg
		w.tree.AddAPI(iapi.NewService(srv, 0))
		logger.Info("Status server enabled", "listen", c.Server.Listen, "tls", tlsCfg != nil)
	}
	return w, nil
}

// Run supervises the worker until ctx is cancelled. Background services keep
// running until the worker has been stopped so its final events are recorded.
func (w *Watchdog) Run(ctx context.Context) error {
	defer w.Close()

	treeCtx, cancelTree := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTree()
	treeDone := w.tree.ServeBackground(treeCtx)

	err := w.sup.Run(ctx)

	cancelTree()
	select {
	case <-treeDone:
	case <-time.After(tree.DefaultConfig().ShutdownTimeout + time.Second):
		if report, rerr := w.tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
			w.logger.Warn("Services did not stop in time", "count", len(report))
		}
	}
	w.logger.Info("Watchdog stopped")
	return err
}

// Status returns the latest supervision snapshot.
func (w *Watchdog) Status() Status { return w.sup.Status() }

// Handler returns the status/metrics HTTP handler for mounting in another server.
func (w *Watchdog) Handler(basePath string) http.Handler {
	q, _ := w.sink.(history.Querier)
	return iapi.NewRouter(w.sup, q, basePath).Handler()
}

// Close releases the notifier, history sink and worker log files. Run calls it.
func (w *Watchdog) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if w.notifier != nil {
			err = errors.Join(err, w.notifier.Close())
		}
		if w.recorder != nil {
			err = errors.Join(err, w.recorder.Close())
		} else if cl, ok := w.sink.(io.Closer); ok {
			err = errors.Join(err, cl.Close())
		}
		err = errors.Join(err, w.closeWriters())
	})
	return err
}

func (w *Watchdog) closeWriters() error {
	var err error
	for _, c := range w.closers {
		err = errors.Join(err, c.Close())
	}
	w.closers = nil
	return err
}

// NewHTTPServer builds a standalone status server for w. The caller runs it.
func NewHTTPServer(addr, basePath string, w *Watchdog) *http.Server {
	q, _ := w.sink.(history.Querier)
	return iapi.NewServer(addr, basePath, w.sup, q)
}

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics exposes /metrics on addr. It blocks like http.ListenAndServe.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return srv.ListenAndServe()
}

// ReadPIDFile reports the pid recorded in a worker or daemon PID file and
// whether that process is still alive.
func ReadPIDFile(path string) (int, bool, error) { return process.PIDFileAlive(path) }
