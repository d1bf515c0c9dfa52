//go:build linux || darwin

package reactor

import (
	"context"
	"fmt"
	"time"
)

// resource is one resource-table entry: the fd bound to the poller, the
// owner-supplied state, and the currently requested interest set.
//
// Entries are stored by pointer so the state survives table growth; the
// loop hands the state value back out through Resource, Deregister, and
// OnRemoved.
type resource[S any] struct {
	state    S
	fd       int
	interest Interest
	opt      PollOpt
}

// Loop is a single-threaded readiness reactor over stream sockets.
//
// Type parameters: S is the per-resource state type, T the timer payload
// type, M the notify message type. All three are fixed per instance.
//
// Exactly one goroutine, the one inside Run, executes the dispatch
// loop and all Handler callbacks, so the resource table and timer wheel
// need no locking. Register, Reregister, Deregister, ScheduleTimer,
// CancelTimer, and Shutdown are loop-goroutine operations (callbacks, or
// setup before Run); the only cross-goroutine surfaces are Sender,
// Metrics, State, and context cancellation.
type Loop[S, T, M any] struct {
	cfg       *config
	state     *loopState
	poller    *poller
	resources *Slab[*resource[S]]
	wheel     *timerWheel[T]
	notify    *notifyChannel[M]
	metrics   *metricsCollector // nil unless WithMetrics

	wakeReadFd  int
	wakeWriteFd int
	wakeReadBuf [64]byte

	handler Handler[S, T, M] // set for the duration of Run

	// Reused per-iteration buffers.
	eventBuf  []pollEvent
	timerBuf  []firedTimer[T]
	notifyBuf []M

	tickTime time.Time // clock cached once per iteration
}

// New creates a reactor with the given options applied over defaults.
// The wake fd is created and registered with the poller immediately, as
// just another (reserved-token) readable resource.
func New[S, T, M any](opts ...Option) (*Loop[S, T, M], error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	p, err := newPoller()
	if err != nil {
		return nil, err
	}

	wakeRead, wakeWrite, err := createWakeFd()
	if err != nil {
		_ = p.close()
		return nil, &PollError{Op: "wake", Err: err}
	}
	// Edge-triggered without oneshot: the loop drains the fd on every
	// delivery, so each later wake write is a fresh edge. No rearm
	// needed, ever.
	if err := p.register(wakeRead, noToken, Readable, Edge); err != nil {
		_ = p.close()
		_ = closeFD(wakeRead)
		if wakeWrite != wakeRead {
			_ = closeFD(wakeWrite)
		}
		return nil, err
	}

	l := &Loop[S, T, M]{
		cfg:         cfg,
		state:       newLoopState(),
		poller:      p,
		resources:   NewSlab[*resource[S]](0),
		wheel:       newTimerWheel[T](cfg.timerTick, cfg.timerWheelSize, cfg.timerCapacity),
		notify:      newNotifyChannel[M](cfg.notifyCapacity, wakeWrite),
		wakeReadFd:  wakeRead,
		wakeWriteFd: wakeWrite,
		eventBuf:    make([]pollEvent, 0, maxEventsPerPoll),
		notifyBuf:   make([]M, 0, cfg.messagesPerTick),
	}
	if cfg.metricsEnabled {
		l.metrics = newMetricsCollector()
		l.notify.metrics = l.metrics
	}
	return l, nil
}

// Register binds fd for readiness notification, stores state in the
// resource table, and returns the assigned Token. Tokens are dense and
// recycled lowest-first, so the first two registrations receive tokens
// 0 and 1.
func (l *Loop[S, T, M]) Register(fd int, state S, interest Interest, opt PollOpt) (Token, error) {
	token := l.resources.Insert(&resource[S]{state: state, fd: fd, interest: interest, opt: opt})
	if err := l.poller.register(fd, token, interest, opt); err != nil {
		_, _ = l.resources.Remove(token)
		return 0, err
	}
	return token, nil
}

// Reregister updates the interest set and trigger mode for a registered
// resource. Under Edge|Oneshot this is the mandatory rearm: a readable or
// writable callback that wants further notifications must call it (or
// Rearm) before returning, even with an unchanged interest set.
func (l *Loop[S, T, M]) Reregister(token Token, interest Interest, opt PollOpt) error {
	res, err := l.resources.Get(token)
	if err != nil {
		return err
	}
	r := *res
	if err := l.poller.reregister(r.fd, token, interest, opt); err != nil {
		return err
	}
	r.interest = interest
	r.opt = opt
	return nil
}

// Rearm reregisters token with its current interest set and trigger mode
// unchanged, making the mandatory oneshot rearm a one-liner.
func (l *Loop[S, T, M]) Rearm(token Token) error {
	res, err := l.resources.Get(token)
	if err != nil {
		return err
	}
	r := *res
	return l.poller.reregister(r.fd, token, r.interest, r.opt)
}

// Deregister removes the binding and drops the table entry, invalidating
// the token. The handler's OnRemoved receives the removed state so the
// owner can close the underlying resource. Safe to call from within a
// dispatch: the loop finishes the current event before the removal takes
// effect on the batch, and later events for the dead token are skipped.
func (l *Loop[S, T, M]) Deregister(token Token) error {
	res, err := l.resources.Remove(token)
	if err != nil {
		return err
	}
	err = l.poller.deregister(res.fd)
	if l.handler != nil {
		l.handler.OnRemoved(l, token, res.state)
	}
	return err
}

// Resource returns the state stored under token. Use a pointer type for
// S when callbacks mutate the state.
func (l *Loop[S, T, M]) Resource(token Token) (S, error) {
	res, err := l.resources.Get(token)
	if err != nil {
		var zero S
		return zero, err
	}
	return (*res).state, nil
}

// ScheduleTimer schedules payload for delivery to OnTimeout after delay,
// quantized up to the wheel's tick granularity. Delays at or beyond the
// wheel span fail with ErrTimerRangeExceeded.
func (l *Loop[S, T, M]) ScheduleTimer(delay time.Duration, payload T) (TimerID, error) {
	return l.wheel.schedule(l.Now(), delay, payload)
}

// CancelTimer cancels a pending timer, reporting false when it already
// fired, was already cancelled, or is unknown.
func (l *Loop[S, T, M]) CancelTimer(id TimerID) bool {
	return l.wheel.cancel(id)
}

// Sender returns a producer handle for the notify channel, safe to use
// from any goroutine and freely copyable.
func (l *Loop[S, T, M]) Sender() Sender[M] {
	return Sender[M]{ch: l.notify}
}

// Shutdown requests a cooperative stop. Called from a callback (the
// common case) it takes effect once the current dispatch batch finishes,
// with no further poll calls issued; in-flight callbacks always run to
// completion. Called from another goroutine it additionally wakes a
// blocked poll. Idempotent; a no-op once stopping is underway.
func (l *Loop[S, T, M]) Shutdown() {
	if l.state.TryTransition(StateRunning, StateDraining) {
		l.notify.wake()
		return
	}
	if l.state.TryTransition(StateInitialized, StateStopped) {
		// Never ran: release the fds directly.
		l.notify.close()
		_ = l.poller.close()
		l.closeWakeFds()
	}
}

// State returns the loop's lifecycle state.
func (l *Loop[S, T, M]) State() LoopState {
	return l.state.Load()
}

// Metrics returns a snapshot of runtime statistics. Zero unless the loop
// was created with WithMetrics(true).
func (l *Loop[S, T, M]) Metrics() Metrics {
	return l.metrics.snapshot()
}

// Now returns the clock value cached at the start of the current
// iteration. Timer deadlines are computed against it, so timers
// scheduled within one batch share a consistent base.
func (l *Loop[S, T, M]) Now() time.Time {
	if l.tickTime.IsZero() {
		return time.Now()
	}
	return l.tickTime
}

// Run executes the dispatch loop until Shutdown is called, ctx is
// cancelled, or the poller fails. Only one Run may be active per
// instance, and a stopped loop cannot be rerun.
//
// Cancellation is cooperative and surfaces as ctx.Err(); a poller
// failure surfaces as a *PollError. Shutdown yields a nil return. In
// every case the loop tears down before returning: all resource entries
// are dropped (with OnRemoved callbacks), then the poller and wake fds
// are closed and further Sends fail.
func (l *Loop[S, T, M]) Run(ctx context.Context, handler Handler[S, T, M]) error {
	if handler == nil {
		return fmt.Errorf("reactor: nil handler")
	}
	if !l.state.TryTransition(StateInitialized, StateRunning) {
		if l.state.Load() == StateStopped {
			return ErrLoopStopped
		}
		return ErrLoopRunning
	}

	l.handler = handler
	l.tickTime = time.Now()
	l.wheel.start(l.tickTime)

	// Wake the loop when the context is cancelled so a blocked poll
	// notices promptly.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			l.Shutdown()
		case <-watcherDone:
		}
	}()

	l.cfg.logger.Info().
		Int("notify_capacity", l.cfg.notifyCapacity).
		Dur("poll_timeout", l.cfg.pollTimeout).
		Dur("timer_tick", l.cfg.timerTick).
		Log("reactor running")

	var runErr error
	for l.state.Load() == StateRunning {
		if err := l.tick(); err != nil {
			runErr = err
			break
		}
	}
	l.teardown()

	if runErr == nil {
		runErr = ctx.Err()
	}
	return runErr
}

// tick is one loop iteration: poll, dispatch readiness, advance timers,
// drain notifications. Readiness is serviced before timers and
// notifications so an adversarial burst of cross-thread messages can
// never starve I/O.
func (l *Loop[S, T, M]) tick() error {
	l.tickTime = time.Now()

	events, err := l.poller.wait(l.pollTimeoutMs(), l.eventBuf[:0])
	l.eventBuf = events
	if err != nil {
		l.cfg.logger.Err().Err(err).Log("poller wait failed, stopping reactor")
		return err
	}

	readiness := 0
	for _, ev := range events {
		if ev.token == noToken {
			l.drainWake()
			continue
		}
		// Skip events for tokens removed earlier in this same batch; the
		// generation tag also protects against a recycled slot.
		if !l.resources.Contains(ev.token) {
			continue
		}
		readiness++
		if ev.readiness.IsReadable() {
			l.dispatch("readable", func() error { return l.handler.OnReadable(l, ev.token) })
		}
		if ev.readiness.IsWritable() && l.resources.Contains(ev.token) {
			l.dispatch("writable", func() error { return l.handler.OnWritable(l, ev.token) })
		}
	}

	l.timerBuf = l.wheel.advance(l.tickTime, l.timerBuf[:0])
	for i := range l.timerBuf {
		payload := l.timerBuf[i].payload
		l.dispatch("timeout", func() error { return l.handler.OnTimeout(l, payload) })
	}

	l.notifyBuf = l.notify.drainInto(l.notifyBuf[:0], l.cfg.messagesPerTick)
	for i := range l.notifyBuf {
		msg := l.notifyBuf[i]
		l.dispatch("notify", func() error { return l.handler.OnNotify(l, msg) })
	}
	clear(l.notifyBuf)

	l.metrics.observeTick(readiness, len(l.timerBuf), len(l.notifyBuf))
	return nil
}

// pollTimeoutMs computes the blocking bound for the next poll: the
// configured idle timeout, capped by the next timer deadline, forced to
// zero when undelivered notify messages are already queued.
func (l *Loop[S, T, M]) pollTimeoutMs() int {
	timeout := l.cfg.pollTimeout
	if d, ok := l.wheel.nextDelay(l.tickTime); ok && d < timeout {
		timeout = d
	}
	if l.notify.length() > 0 {
		timeout = 0
	}
	if timeout <= 0 {
		return 0
	}
	ms := int((timeout + time.Millisecond - 1) / time.Millisecond)
	return ms
}

// drainWake empties the wake fd and re-arms the coalesced wake flag.
// Clearing the flag before messages are drained is what guarantees a
// racing producer either lands in this iteration's drain or triggers a
// fresh wake.
func (l *Loop[S, T, M]) drainWake() {
	for {
		_, wouldBlock, err := readFD(l.wakeReadFd, l.wakeReadBuf[:])
		if wouldBlock || err != nil {
			break
		}
	}
	l.notify.clearWake()
}

// dispatch runs one handler callback with panic containment. Errors and
// panics stop at this boundary: they are logged, handed to the error
// observer, and the loop carries on with the resource still registered.
func (l *Loop[S, T, M]) dispatch(kind string, fn func() error) {
	var start time.Time
	if l.metrics != nil {
		start = time.Now()
	}
	err := l.safeCall(fn)
	if l.metrics != nil {
		l.metrics.observeCallback(time.Since(start), err != nil)
	}
	if err != nil {
		l.cfg.logger.Warning().Err(err).Str("callback", kind).Log("handler callback failed")
		if l.cfg.errorObserver != nil {
			l.cfg.errorObserver(err)
		}
	}
}

func (l *Loop[S, T, M]) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reactor: handler panic: %v", r)
		}
	}()
	return fn()
}

// teardown drops every resource entry (releasing owned resources via
// OnRemoved), closes the poller and wake fds, and fails all future
// sends. Runs on the loop goroutine after the final dispatch batch.
func (l *Loop[S, T, M]) teardown() {
	l.state.Store(StateDraining)

	for _, token := range l.resources.tokens() {
		res, err := l.resources.Remove(token)
		if err != nil {
			continue
		}
		_ = l.poller.deregister(res.fd)
		if l.handler != nil {
			l.handler.OnRemoved(l, token, res.state)
		}
	}

	l.notify.close()
	_ = l.poller.close()
	l.closeWakeFds()

	l.state.Store(StateStopped)
	l.cfg.logger.Info().Log("reactor stopped")
}

func (l *Loop[S, T, M]) closeWakeFds() {
	_ = closeFD(l.wakeReadFd)
	if l.wakeWriteFd != l.wakeReadFd {
		_ = closeFD(l.wakeWriteFd)
	}
}
