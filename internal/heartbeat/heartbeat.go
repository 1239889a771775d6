// Package heartbeat reports supervisor liveness to an external HTTP endpoint.
// It only logs; nothing here touches the worker or the restart throttle.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/watchdog/internal/metrics"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// HeartbeatError describes a failed ping: either a transport failure (Err set)
// or a non-success HTTP status (StatusCode set).
type HeartbeatError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *HeartbeatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("heartbeat to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("heartbeat to %s returned status %d", e.URL, e.StatusCode)
}

func (e *HeartbeatError) Unwrap() error { return e.Err }

// Reporter sends GET url immediately and then every Interval.
type Reporter struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClient sets the HTTP client used for pings.
func WithClient(c *http.Client) Option {
	return func(r *Reporter) {
		if c != nil {
			r.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reporter for url.
func New(url string, opts ...Option) *Reporter {
	r := &Reporter{
		url:      url,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		client:   http.DefaultClient,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// URL returns the heartbeat endpoint.
func (r *Reporter) URL() string { return r.url }

// Interval returns the ping period.
func (r *Reporter) Interval() time.Duration { return r.interval }

// Ping sends a single heartbeat and returns a *HeartbeatError on failure.
func (r *Reporter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		metrics.ObserveHeartbeat(metrics.HeartbeatError, 0)
		return &HeartbeatError{URL: r.url, Err: err}
	}
	resp, err := r.client.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.ObserveHeartbeat(metrics.HeartbeatError, elapsed)
		return &HeartbeatError{URL: r.url, Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveHeartbeat(metrics.HeartbeatBadStatus, elapsed)
		return &HeartbeatError{URL: r.url, StatusCode: resp.StatusCode}
	}
	metrics.ObserveHeartbeat(metrics.HeartbeatOK, elapsed)
	return nil
}

// Serve pings until ctx is cancelled. It never returns an error of its own;
// it implements suture.Service.
func (r *Reporter) Serve(ctx context.Context) error {
	r.logger.Info("Heartbeat reporter started", "url", r.url, "interval", r.interval)
	r.beat(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

func (r *Reporter) beat(ctx context.Context) {
	err := r.Ping(ctx)
	if err == nil {
		r.logger.Debug("Heartbeat sent", "url", r.url)
		return
	}
	if ctx.Err() != nil {
		return
	}
	level := slog.LevelWarn
	var he *HeartbeatError
	if errors.As(err, &he) && he.Err != nil {
		level = slog.LevelError
	}
	r.logger.Log(ctx, level, "Heartbeat failed", "error", err)
}

func (r *Reporter) String() string { return "heartbeat" }
