package throttle

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFake() *fakeClock { return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func TestCanRestart_NthCallWithinWindow(t *testing.T) {
	for _, max := range []int{0, 1, 3, 5, 10} {
		clk := newFake()
		th := New(max, WithClock(clk.Now))
		for n := 1; n <= max+5; n++ {
			clk.Advance(100 * time.Millisecond)
			got := th.CanRestart()
			want := n <= max
			if got != want {
				t.Fatalf("max=%d call %d: got %v want %v", max, n, got, want)
			}
		}
	}
}

func TestCanRestart_FiveThenDenied(t *testing.T) {
	clk := newFake()
	th := New(5, WithClock(clk.Now))
	for i := 1; i <= 5; i++ {
		if !th.CanRestart() {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if th.CanRestart() {
		t.Fatalf("sixth call should be denied")
	}
	if c := th.Snapshot().Count; c != 6 {
		t.Fatalf("denied call must still consume budget, count=%d", c)
	}
}

func TestCanRestart_ResetsAfterWindow(t *testing.T) {
	clk := newFake()
	th := New(5, WithClock(clk.Now))
	for i := 0; i < 6; i++ {
		th.CanRestart()
	}
	clk.Advance(61 * time.Second)
	if !th.CanRestart() {
		t.Fatalf("call after 61s should be allowed")
	}
	w := th.Snapshot()
	if w.Count != 1 {
		t.Fatalf("count after reset = %d, want 1", w.Count)
	}
	if !w.Start.Equal(clk.Now()) {
		t.Fatalf("window start not advanced to now: %v", w.Start)
	}
}

func TestCanRestart_ExactlySixtySecondsDoesNotReset(t *testing.T) {
	clk := newFake()
	th := New(1, WithClock(clk.Now))
	start := th.Snapshot().Start
	if !th.CanRestart() {
		t.Fatal("first call should be allowed")
	}
	clk.Advance(60 * time.Second)
	if th.CanRestart() {
		t.Fatalf("window must only reset when more than 60s elapsed")
	}
	if !th.Snapshot().Start.Equal(start) {
		t.Fatalf("window start must not move without a reset")
	}
}

func TestCanRestart_DenialsKeepConsumingUntilReset(t *testing.T) {
	clk := newFake()
	th := New(2, WithClock(clk.Now))
	for i := 0; i < 10; i++ {
		clk.Advance(time.Second)
		th.CanRestart()
	}
	if c := th.Snapshot().Count; c != 10 {
		t.Fatalf("count = %d, want 10", c)
	}
	clk.Advance(55 * time.Second) // 65s since window start
	if !th.CanRestart() {
		t.Fatalf("expected fresh window")
	}
}

func TestNew_NegativeMaxDeniesEverything(t *testing.T) {
	th := New(-3)
	if th.Max() != 0 {
		t.Fatalf("max = %d", th.Max())
	}
	if th.CanRestart() {
		t.Fatalf("expected denial")
	}
}
