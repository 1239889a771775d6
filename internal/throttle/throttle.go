// Package throttle caps how often the supervisor may restart its worker.
package throttle

import "time"

const (
	// DefaultMaxPerWindow mirrors the CLI default of five restarts per minute.
	DefaultMaxPerWindow = 5
	// WindowLength is the rolling window the budget applies to.
	WindowLength = 60 * time.Second
)

// Window is the restart budget state: attempts counted since Start.
type Window struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Throttle is a fixed-length window counter. It is not safe for concurrent
// use; the supervision loop is its only caller.
type Throttle struct {
	max    int
	length time.Duration
	now    func() time.Time
	win    Window
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) {
		if now != nil {
			t.now = now
		}
	}
}

// New returns a throttle allowing max attempts per window. The first window
// starts at construction time.
func New(max int, opts ...Option) *Throttle {
	if max < 0 {
		max = 0
	}
	t := &Throttle{max: max, length: WindowLength, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	t.win.Start = t.now()
	return t
}

// CanRestart records one restart attempt and reports whether it is allowed.
// The attempt is counted even when denied, so callers must call it exactly
// once per considered restart.
func (t *Throttle) CanRestart() bool {
	now := t.now()
	if now.Sub(t.win.Start) > t.length {
		t.win.Count = 0
		t.win.Start = now
	}
	t.win.Count++
	return t.win.Count <= t.max
}

// Max returns the per-window ceiling.
func (t *Throttle) Max() int { return t.max }

// Snapshot returns a copy of the current window.
func (t *Throttle) Snapshot() Window { return t.win }
