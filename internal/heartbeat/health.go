package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/watchdog/internal/metrics"
)

// DefaultHealthInterval is how often the supervisor logs its own health.
const DefaultHealthInterval = 60 * time.Minute

// HealthLogger periodically logs supervisor uptime and the worker's resource
// usage. pid returns the live worker pid or 0.
type HealthLogger struct {
	interval time.Duration
	started  time.Time
	pid      func() int
	logger   *slog.Logger
}

// NewHealthLogger creates a HealthLogger. A nil logger uses slog.Default.
func NewHealthLogger(interval time.Duration, pid func() int, logger *slog.Logger) *HealthLogger {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if pid == nil {
		pid = func() int { return 0 }
	}
	return &HealthLogger{interval: interval, started: time.Now(), pid: pid, logger: logger}
}

// Check logs one health line.
func (h *HealthLogger) Check() {
	attrs := []any{"uptime", time.Since(h.started).Round(time.Second)}
	pid := h.pid()
	if pid <= 0 {
		metrics.ResetWorker()
		h.logger.Info("Health check", append(attrs, "worker", "not running")...)
		return
	}
	attrs = append(attrs, "pid", pid)
	st, err := metrics.SampleWorker(pid)
	if err != nil {
		h.logger.Info("Health check", append(attrs, "sample_error", err)...)
		return
	}
	h.logger.Info("Health check", append(attrs,
		"cpu_percent", st.CPUPercent,
		"memory_mb", st.MemoryMB,
		"threads", st.NumThreads,
	)...)
}

// Serve runs Check every interval until ctx is cancelled.
func (h *HealthLogger) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Check()
		}
	}
}

func (h *HealthLogger) String() string { return "health-log" }
