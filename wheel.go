package reactor

import (
	"time"
)

// TimerID identifies a scheduled timer within one Loop instance. Like
// Token it is generation-tagged, so an ID retained past firing or
// cancellation is detectably stale.
type TimerID uint64

// firedTimer is one expired entry returned by advance.
type firedTimer[T any] struct {
	id      TimerID
	payload T
}

// timerEntry is a scheduled (deadline, payload) pair. Entries are
// one-shot: they are removed when fired, and periodic timers are built by
// re-scheduling from the fired callback.
type timerEntry[T any] struct {
	payload  T
	deadline uint64 // absolute tick
}

// timerWheel is a hashed timer wheel: a power-of-two array of buckets,
// each holding the entries whose deadline hashes onto it. Insertion and
// per-tick expiration are O(1) in the number of non-expired entries,
// trading accuracy (deadlines quantize up to whole ticks) for not paying
// O(log n) per operation.
//
// Entries live in a Slab and buckets hold their tokens, so cancellation
// is O(1): remove from the slab and let advance skip the stale token.
//
// Owned by the loop goroutine; not safe for concurrent use.
type timerWheel[T any] struct {
	entries  *Slab[timerEntry[T]]
	buckets  [][]Token
	mask     uint64
	tick     time.Duration
	anchor   time.Time
	lastTick uint64
}

// newTimerWheel sizes the wheel. wheelSize is rounded up to a power of
// two; the span (the farthest schedulable delay) is wheelSize-1 ticks,
// which keeps every pending deadline's bucket unambiguous, and delays
// beyond the span are rejected rather than truncated. capacity is a
// preallocation hint for the entry slab.
func newTimerWheel[T any](tick time.Duration, wheelSize, capacity int) *timerWheel[T] {
	size := 1
	for size < wheelSize {
		size <<= 1
	}
	return &timerWheel[T]{
		entries: NewSlab[timerEntry[T]](capacity),
		buckets: make([][]Token, size),
		mask:    uint64(size - 1),
		tick:    tick,
	}
}

// start anchors tick zero at now. Called once when the loop starts
// running; scheduling before start quantizes against the zero anchor set
// here retroactively, so the loop must start before time advances
// meaningfully.
func (w *timerWheel[T]) start(now time.Time) {
	w.anchor = now
}

// tickAt converts a wall instant to an absolute tick count.
func (w *timerWheel[T]) tickAt(now time.Time) uint64 {
	if w.anchor.IsZero() {
		return 0
	}
	elapsed := now.Sub(w.anchor)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / w.tick)
}

// schedule inserts a timer firing delay from now, quantized up to whole
// ticks (a zero or sub-tick delay fires on the next processed tick).
// Fails with ErrTimerRangeExceeded when the quantized delay reaches the
// wheel span.
func (w *timerWheel[T]) schedule(now time.Time, delay time.Duration, payload T) (TimerID, error) {
	ticks := uint64((delay + w.tick - 1) / w.tick)
	if ticks == 0 {
		ticks = 1
	}
	if ticks > w.mask {
		return 0, ErrTimerRangeExceeded
	}

	deadline := w.tickAt(now) + ticks
	if deadline <= w.lastTick {
		// The caller's clock lags the wheel; fire on the next tick
		// rather than never.
		deadline = w.lastTick + 1
	}

	tok := w.entries.Insert(timerEntry[T]{payload: payload, deadline: deadline})
	slot := deadline & w.mask
	w.buckets[slot] = append(w.buckets[slot], tok)
	return TimerID(tok), nil
}

// cancel removes a pending timer. It returns false when the timer has
// already fired, was already cancelled, or is unknown.
func (w *timerWheel[T]) cancel(id TimerID) bool {
	_, err := w.entries.Remove(Token(id))
	return err == nil
}

// advance fires every entry whose deadline is at or before now's tick,
// appending to out in non-decreasing deadline order with FIFO ordering
// among equal deadlines.
func (w *timerWheel[T]) advance(now time.Time, out []firedTimer[T]) []firedTimer[T] {
	target := w.tickAt(now)
	for w.lastTick < target {
		w.lastTick++
		slot := w.lastTick & w.mask
		bucket := w.buckets[slot]
		if len(bucket) == 0 {
			continue
		}

		// Entries for later laps of the wheel stay in the bucket.
		keep := bucket[:0]
		for _, tok := range bucket {
			e, err := w.entries.Get(tok)
			if err != nil {
				continue // cancelled
			}
			if e.deadline > w.lastTick {
				keep = append(keep, tok)
				continue
			}
			out = append(out, firedTimer[T]{id: TimerID(tok), payload: e.payload})
			_, _ = w.entries.Remove(tok)
		}
		w.buckets[slot] = keep
	}
	return out
}

// pending returns the number of scheduled, unfired timers.
func (w *timerWheel[T]) pending() int {
	return w.entries.Len()
}

// nextDelay returns the duration from now until the earliest pending
// deadline, or false when no timers are pending. An overdue deadline
// yields zero.
func (w *timerWheel[T]) nextDelay(now time.Time) (time.Duration, bool) {
	if w.entries.Len() == 0 {
		return 0, false
	}
	earliest := uint64(0)
	found := false
	w.entries.Range(func(_ Token, e *timerEntry[T]) bool {
		if !found || e.deadline < earliest {
			earliest = e.deadline
			found = true
		}
		return true
	})
	if !found {
		return 0, false
	}
	due := w.anchor.Add(time.Duration(earliest) * w.tick)
	delay := due.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return delay, true
}
