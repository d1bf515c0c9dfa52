//go:build linux || darwin

package reactor

import (
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/atomic"
)

// notifyChannel is the bounded multi-producer, single-consumer queue
// through which other goroutines inject messages into the loop. Producers
// synchronize on a mutex around a ring-backed FIFO; the consumer side is
// touched only by the loop goroutine, via drainInto.
//
// Enqueuing also signals the loop's wake fd so a blocked poll returns
// promptly. The wake is coalesced through wakePending: any number of
// sends between two drains cause at most one wake write, and the pending
// flag is cleared by the loop before it drains the queue, so a send can
// never be left both enqueued and unsignalled.
type notifyChannel[M any] struct {
	mu       sync.Mutex
	q        *queue.Queue
	capacity int
	closed   bool

	wakeWriteFd int
	wakePending atomic.Uint32

	// metrics is set by the loop when collection is enabled; rejected
	// sends are the one statistic produced on the producer side.
	metrics *metricsCollector
}

// wakeBuf is the 8-byte nonzero value an eventfd write requires; a pipe
// wake (Darwin) just sees it as opaque bytes.
var wakeBuf = [8]byte{1}

func newNotifyChannel[M any](capacity, wakeWriteFd int) *notifyChannel[M] {
	return &notifyChannel[M]{
		q:           queue.New(),
		capacity:    capacity,
		wakeWriteFd: wakeWriteFd,
	}
}

// send enqueues msg without ever blocking the caller. When the queue is
// at capacity the message is returned uncommitted with ErrNotifyFull.
func (c *notifyChannel[M]) send(msg M) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrLoopStopped
	}
	if c.q.Length() >= c.capacity {
		c.mu.Unlock()
		c.metrics.observeRejectedSend()
		return ErrNotifyFull
	}
	c.q.Add(msg)
	c.wakeLocked()
	c.mu.Unlock()
	return nil
}

// wake signals the loop's wake fd unless a wake is already pending or
// the channel has closed.
func (c *notifyChannel[M]) wake() {
	c.mu.Lock()
	c.wakeLocked()
	c.mu.Unlock()
}

// wakeLocked performs the coalesced wake write. Caller holds mu; the
// closed check under the lock is what makes close() a barrier, so no
// wake write can land after the loop has released the wake fds. Write
// errors are deliberately dropped: the message (or state change) the
// wake advertises is already committed.
func (c *notifyChannel[M]) wakeLocked() {
	if c.closed {
		return
	}
	if c.wakePending.CompareAndSwap(0, 1) {
		_, _, _ = writeFD(c.wakeWriteFd, wakeBuf[:])
	}
}

// clearWake re-arms the coalesced wake. The loop calls this after
// draining the wake fd itself and before draining messages, so a
// producer racing with the drain either lands its message in the batch
// being drained or wins the CAS and triggers a fresh wake.
func (c *notifyChannel[M]) clearWake() {
	c.wakePending.Store(0)
}

// drainInto pops up to max messages in FIFO order, appending to out.
// Loop goroutine only.
func (c *notifyChannel[M]) drainInto(out []M, max int) []M {
	c.mu.Lock()
	for max > 0 && c.q.Length() > 0 {
		out = append(out, c.q.Remove().(M))
		max--
	}
	c.mu.Unlock()
	return out
}

// length returns the number of queued messages.
func (c *notifyChannel[M]) length() int {
	c.mu.Lock()
	n := c.q.Length()
	c.mu.Unlock()
	return n
}

// close marks the channel closed; subsequent sends fail with
// ErrLoopStopped. Queued messages are discarded; a stopped loop reports
// undeliverable messages by failing sends.
func (c *notifyChannel[M]) close() {
	c.mu.Lock()
	c.closed = true
	for c.q.Length() > 0 {
		c.q.Remove()
	}
	c.mu.Unlock()
}

// Sender is the cloneable producer handle for a Loop's notify channel.
// The zero value is not usable; obtain one from [Loop.Sender]. A Sender
// is safe for concurrent use by any number of goroutines, and copies
// share the same channel.
type Sender[M any] struct {
	ch *notifyChannel[M]
}

// Send enqueues msg for delivery to the loop's OnNotify callback. It
// never blocks: when the channel is saturated it fails fast with
// [ErrNotifyFull] and the message is not committed, leaving retry, drop,
// or backpressure policy to the caller. After the loop has stopped it
// fails with [ErrLoopStopped].
func (s Sender[M]) Send(msg M) error {
	return s.ch.send(msg)
}
