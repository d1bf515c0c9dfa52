//go:build linux || darwin

package reactor

import (
	"errors"
	"sync"
	"testing"
)

func newTestNotify[M any](t *testing.T, capacity int) *notifyChannel[M] {
	t.Helper()
	r, w, err := createWakeFd()
	if err != nil {
		t.Fatalf("createWakeFd failed: %v", err)
	}
	t.Cleanup(func() {
		_ = closeFD(r)
		if w != r {
			_ = closeFD(w)
		}
	})
	return newNotifyChannel[M](capacity, w)
}

func TestNotifyFIFO(t *testing.T) {
	ch := newTestNotify[int](t, 16)
	for i := 0; i < 10; i++ {
		if err := ch.send(i); err != nil {
			t.Fatalf("send(%d) failed: %v", i, err)
		}
	}
	if ch.length() != 10 {
		t.Fatalf("length = %d, want 10", ch.length())
	}

	out := ch.drainInto(nil, 100)
	if len(out) != 10 {
		t.Fatalf("drained %d, want 10", len(out))
	}
	for i, v := range out {
		if v != i {
			t.Errorf("out[%d] = %d, want %d", i, v, i)
		}
	}
	if ch.length() != 0 {
		t.Errorf("length after drain = %d", ch.length())
	}
}

func TestNotifyCapacityBound(t *testing.T) {
	const capacity = 4
	ch := newTestNotify[int](t, capacity)
	ch.metrics = newMetricsCollector()

	for i := 0; i < capacity; i++ {
		if err := ch.send(i); err != nil {
			t.Fatalf("send %d within capacity failed: %v", i, err)
		}
	}
	// The N+1th send fails and the message is not committed.
	if err := ch.send(99); !errors.Is(err, ErrNotifyFull) {
		t.Fatalf("over-capacity send err = %v, want ErrNotifyFull", err)
	}
	if got := ch.metrics.snapshot().NotifiesRejected; got != 1 {
		t.Errorf("NotifiesRejected = %d, want 1", got)
	}

	out := ch.drainInto(nil, capacity+1)
	if len(out) != capacity {
		t.Fatalf("drained %d, want %d", len(out), capacity)
	}
	for i, v := range out {
		if v != i {
			t.Errorf("rejected message leaked into the queue: out[%d] = %d", i, v)
		}
	}

	// Draining frees capacity for new sends.
	if err := ch.send(100); err != nil {
		t.Errorf("send after drain failed: %v", err)
	}
}

func TestNotifyDrainBudget(t *testing.T) {
	ch := newTestNotify[int](t, 64)
	for i := 0; i < 20; i++ {
		_ = ch.send(i)
	}

	out := ch.drainInto(nil, 7)
	if len(out) != 7 {
		t.Fatalf("drained %d, want 7 (budget)", len(out))
	}
	if out[0] != 0 || out[6] != 6 {
		t.Errorf("budgeted drain broke FIFO: %v", out)
	}
	if ch.length() != 13 {
		t.Errorf("leftover length = %d, want 13", ch.length())
	}

	out = ch.drainInto(out[:0], 100)
	if len(out) != 13 || out[0] != 7 {
		t.Errorf("second drain = %v", out)
	}
}

func TestNotifyClosed(t *testing.T) {
	ch := newTestNotify[string](t, 8)
	_ = ch.send("queued")
	ch.close()

	if err := ch.send("late"); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("send after close err = %v, want ErrLoopStopped", err)
	}
	// close discards queued messages.
	if got := ch.drainInto(nil, 10); len(got) != 0 {
		t.Errorf("drained %v from closed channel", got)
	}
}

func TestNotifyWakeCoalescing(t *testing.T) {
	ch := newTestNotify[int](t, 64)

	_ = ch.send(1)
	_ = ch.send(2)
	_ = ch.send(3)
	if ch.wakePending.Load() != 1 {
		t.Fatal("wakePending not set after sends")
	}

	// The consumer clears the flag before draining; the next send must
	// raise a fresh wake.
	ch.clearWake()
	if ch.wakePending.Load() != 0 {
		t.Fatal("clearWake did not clear")
	}
	_ = ch.send(4)
	if ch.wakePending.Load() != 1 {
		t.Error("send after clearWake did not re-raise the wake")
	}
}

// Once close has run, no path may touch the wake fd again: the loop
// releases the fds right after closing the channel.
func TestNotifyNoWakeAfterClose(t *testing.T) {
	ch := newTestNotify[int](t, 8)
	_ = ch.send(1)
	ch.clearWake()
	ch.close()

	ch.wake()
	if ch.wakePending.Load() != 0 {
		t.Error("wake on a closed channel armed the wake flag")
	}
	if err := ch.send(2); err == nil {
		t.Error("send on a closed channel succeeded")
	}
	if ch.wakePending.Load() != 0 {
		t.Error("send on a closed channel armed the wake flag")
	}
}

func TestNotifyConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 500
	ch := newTestNotify[[2]int](t, producers*perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := ch.send([2]int{p, i}); err != nil {
					t.Errorf("send(%d, %d) failed: %v", p, i, err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	out := ch.drainInto(nil, producers*perProducer)
	if len(out) != producers*perProducer {
		t.Fatalf("drained %d, want %d", len(out), producers*perProducer)
	}

	// Exactly-once, and per-producer order is preserved.
	next := make([]int, producers)
	for _, m := range out {
		p, i := m[0], m[1]
		if next[p] != i {
			t.Fatalf("producer %d delivered %d, want %d", p, i, next[p])
		}
		next[p]++
	}
	for p, n := range next {
		if n != perProducer {
			t.Errorf("producer %d delivered %d messages, want %d", p, n, perProducer)
		}
	}
}
