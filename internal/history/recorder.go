package history

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	DefaultQueueSize = 256
	sendTimeout      = 5 * time.Second
	flushTimeout     = 2 * time.Second
)

// Recorder decouples the supervision loop from sink I/O: Record never blocks,
// and Serve delivers queued events to the sink. A nil *Recorder discards events.
type Recorder struct {
	sink    Sink
	queue   chan Event
	logger  *slog.Logger
	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewRecorder creates a Recorder with a bounded queue.
func NewRecorder(sink Sink, size int, logger *slog.Logger) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, queue: make(chan Event, size), logger: logger}
}

// Record enqueues e. When the queue is full the event is dropped.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
		r.logger.Warn("History queue full, dropping event", "type", e.Type, "pid", e.PID)
	}
}

// Sink returns the underlying sink.
func (r *Recorder) Sink() Sink {
	if r == nil {
		return nil
	}
	return r.sink
}

// Stats returns delivered, failed and dropped counts.
func (r *Recorder) Stats() (sent, failed, dropped int64) {
	if r == nil {
		return 0, 0, 0
	}
	return r.sent.Load(), r.failed.Load(), r.dropped.Load()
}

// Serve delivers events until ctx is done, then flushes what is still queued.
// It implements suture.Service.
func (r *Recorder) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return ctx.Err()
		case e := <-r.queue:
			r.deliver(ctx, e)
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case e := <-r.queue:
			r.deliver(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) deliver(ctx context.Context, e Event) {
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := r.sink.Send(sctx, e); err != nil {
		r.failed.Add(1)
		r.logger.Warn("Failed to record history event", "type", e.Type, "error", err)
		return
	}
	r.sent.Add(1)
}

// Close closes the sink if it holds resources.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	if c, ok := r.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *Recorder) String() string { return "history-recorder" }
