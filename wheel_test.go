package reactor

import (
	"errors"
	"testing"
	"time"
)

func newTestWheel(tick time.Duration, size int) (*timerWheel[string], time.Time) {
	w := newTimerWheel[string](tick, size, 0)
	base := time.Unix(1000, 0)
	w.start(base)
	return w, base
}

func TestWheelFiresInDeadlineOrder(t *testing.T) {
	w, base := newTestWheel(10*time.Millisecond, 64)

	// Schedule out of order; expiration must come back sorted.
	if _, err := w.schedule(base, 30*time.Millisecond, "c"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.schedule(base, 10*time.Millisecond, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.schedule(base, 20*time.Millisecond, "b"); err != nil {
		t.Fatal(err)
	}

	fired := w.advance(base.Add(50*time.Millisecond), nil)
	if len(fired) != 3 {
		t.Fatalf("fired %d timers, want 3", len(fired))
	}
	for i, want := range []string{"a", "b", "c"} {
		if fired[i].payload != want {
			t.Errorf("fired[%d] = %q, want %q", i, fired[i].payload, want)
		}
	}
	if w.pending() != 0 {
		t.Errorf("pending() = %d after all fired", w.pending())
	}
}

func TestWheelFIFOWithinSameTick(t *testing.T) {
	w, base := newTestWheel(100*time.Millisecond, 64)

	// All three quantize to the same tick; delivery follows schedule
	// order.
	for _, p := range []string{"first", "second", "third"} {
		if _, err := w.schedule(base, 50*time.Millisecond, p); err != nil {
			t.Fatal(err)
		}
	}
	fired := w.advance(base.Add(150*time.Millisecond), nil)
	if len(fired) != 3 {
		t.Fatalf("fired %d timers, want 3", len(fired))
	}
	for i, want := range []string{"first", "second", "third"} {
		if fired[i].payload != want {
			t.Errorf("fired[%d] = %q, want %q", i, fired[i].payload, want)
		}
	}
}

func TestWheelQuantizesUp(t *testing.T) {
	w, base := newTestWheel(100*time.Millisecond, 64)

	// 101ms rounds up to 2 ticks: not yet due at tick 1.
	if _, err := w.schedule(base, 101*time.Millisecond, "late"); err != nil {
		t.Fatal(err)
	}
	if fired := w.advance(base.Add(100*time.Millisecond), nil); len(fired) != 0 {
		t.Fatalf("timer fired a tick early: %v", fired)
	}
	if fired := w.advance(base.Add(200*time.Millisecond), nil); len(fired) != 1 {
		t.Fatalf("fired %d timers at tick 2, want 1", len(fired))
	}
}

func TestWheelZeroDelayFiresNextTick(t *testing.T) {
	w, base := newTestWheel(10*time.Millisecond, 64)
	if _, err := w.schedule(base, 0, "now-ish"); err != nil {
		t.Fatal(err)
	}
	fired := w.advance(base.Add(10*time.Millisecond), nil)
	if len(fired) != 1 || fired[0].payload != "now-ish" {
		t.Fatalf("zero-delay timer did not fire on the next tick: %v", fired)
	}
}

func TestWheelRangeExceeded(t *testing.T) {
	w, base := newTestWheel(10*time.Millisecond, 16) // span 16 ticks

	if _, err := w.schedule(base, time.Second, "far"); !errors.Is(err, ErrTimerRangeExceeded) {
		t.Errorf("schedule beyond span err = %v, want ErrTimerRangeExceeded", err)
	}
	// The span is wheel size minus one tick: 15 ticks schedule, 16 do
	// not.
	if _, err := w.schedule(base, 150*time.Millisecond, "edge"); err != nil {
		t.Errorf("schedule at span edge failed: %v", err)
	}
	if _, err := w.schedule(base, 160*time.Millisecond, "over"); !errors.Is(err, ErrTimerRangeExceeded) {
		t.Errorf("schedule one past the span err = %v, want ErrTimerRangeExceeded", err)
	}
}

func TestWheelCancel(t *testing.T) {
	w, base := newTestWheel(10*time.Millisecond, 64)

	id, err := w.schedule(base, 20*time.Millisecond, "doomed")
	if err != nil {
		t.Fatal(err)
	}
	keep, err := w.schedule(base, 20*time.Millisecond, "kept")
	if err != nil {
		t.Fatal(err)
	}

	if !w.cancel(id) {
		t.Fatal("cancel of pending timer returned false")
	}
	if w.cancel(id) {
		t.Error("second cancel returned true")
	}

	fired := w.advance(base.Add(time.Second), nil)
	if len(fired) != 1 || fired[0].payload != "kept" {
		t.Fatalf("fired = %v, want only the kept timer", fired)
	}
	if fired[0].id != keep {
		t.Errorf("fired id = %v, want %v", fired[0].id, keep)
	}
	if w.cancel(keep) {
		t.Error("cancel after fire returned true")
	}
}

// When scheduling happens while the wheel lags the clock, a bucket can
// hold an entry whose deadline is a lap ahead of the tick being
// processed; it must stay put rather than fire early.
func TestWheelLaterLapStaysPut(t *testing.T) {
	w, base := newTestWheel(10*time.Millisecond, 8) // mask 7

	// deadline tick 1, bucket 1.
	if _, err := w.schedule(base, 10*time.Millisecond, "near"); err != nil {
		t.Fatal(err)
	}
	// Scheduled from wall tick 10 while lastTick is still 0: deadline
	// tick 17, which also hashes to bucket 1.
	if _, err := w.schedule(base.Add(100*time.Millisecond), 70*time.Millisecond, "far"); err != nil {
		t.Fatal(err)
	}

	fired := w.advance(base.Add(100*time.Millisecond), nil)
	if len(fired) != 1 || fired[0].payload != "near" {
		t.Fatalf("advance to tick 10 fired %v, want only near", fired)
	}
	fired = w.advance(base.Add(170*time.Millisecond), nil)
	if len(fired) != 1 || fired[0].payload != "far" {
		t.Fatalf("advance to tick 17 fired %v, want only far", fired)
	}
}

func TestWheelNextDelay(t *testing.T) {
	w, base := newTestWheel(10*time.Millisecond, 64)

	if _, ok := w.nextDelay(base); ok {
		t.Error("nextDelay with no timers reported a deadline")
	}

	if _, err := w.schedule(base, 50*time.Millisecond, "x"); err != nil {
		t.Fatal(err)
	}
	d, ok := w.nextDelay(base)
	if !ok {
		t.Fatal("nextDelay found nothing")
	}
	if d != 50*time.Millisecond {
		t.Errorf("nextDelay = %v, want 50ms", d)
	}

	// Overdue clamps to zero rather than going negative.
	d, ok = w.nextDelay(base.Add(time.Second))
	if !ok || d != 0 {
		t.Errorf("overdue nextDelay = %v, %v; want 0, true", d, ok)
	}
}

func TestWheelSizeRoundsToPowerOfTwo(t *testing.T) {
	w := newTimerWheel[int](time.Millisecond, 100, 0)
	if len(w.buckets) != 128 {
		t.Errorf("bucket count = %d, want 128", len(w.buckets))
	}
	if w.mask != 127 {
		t.Errorf("mask = %d, want 127", w.mask)
	}
}
