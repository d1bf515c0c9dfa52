package reactor

import (
	"sync"
	"time"
)

// Metrics is a point-in-time snapshot of a loop's runtime statistics,
// returned by [Loop.Metrics]. Collection is off by default; enable it
// with [WithMetrics].
type Metrics struct {
	// Ticks is the number of completed loop iterations.
	Ticks uint64
	// ReadinessEvents counts readiness events dispatched to handler
	// readable/writable callbacks.
	ReadinessEvents uint64
	// TimersFired counts timer entries dispatched to OnTimeout.
	TimersFired uint64
	// NotifiesDelivered counts messages dispatched to OnNotify.
	NotifiesDelivered uint64
	// NotifiesRejected counts Send calls that failed with ErrNotifyFull.
	NotifiesRejected uint64
	// HandlerErrors counts errors returned by handler callbacks.
	HandlerErrors uint64
	// Callback summarizes handler callback latency.
	Callback LatencySummary
}

// LatencySummary holds streaming percentile estimates over callback
// execution time.
type LatencySummary struct {
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count uint64
}

// metricsCollector accumulates loop statistics. The loop goroutine is
// the only writer for everything except rejected-send counts; the mutex
// exists so Metrics() snapshots are consistent from any goroutine.
type metricsCollector struct {
	mu sync.Mutex

	ticks     uint64
	readiness uint64
	timers    uint64
	notifies  uint64
	rejected  uint64
	errors    uint64

	latCount uint64
	latSum   float64
	latMax   float64
	p50      *pSquare
	p90      *pSquare
	p99      *pSquare
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		p50: newPSquare(0.50),
		p90: newPSquare(0.90),
		p99: newPSquare(0.99),
	}
}

// observeTick folds one completed loop iteration into the counters.
func (m *metricsCollector) observeTick(readiness, timers, notifies int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ticks++
	m.readiness += uint64(readiness)
	m.timers += uint64(timers)
	m.notifies += uint64(notifies)
	m.mu.Unlock()
}

// observeCallback records one handler callback's execution time.
func (m *metricsCollector) observeCallback(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	x := float64(d)
	m.mu.Lock()
	m.latCount++
	m.latSum += x
	if x > m.latMax {
		m.latMax = x
	}
	m.p50.observe(x)
	m.p90.observe(x)
	m.p99.observe(x)
	if failed {
		m.errors++
	}
	m.mu.Unlock()
}

// observeRejectedSend records a Send that failed with ErrNotifyFull.
// Called from producer goroutines.
func (m *metricsCollector) observeRejectedSend() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.rejected++
	m.mu.Unlock()
}

// snapshot returns a consistent copy of the collected statistics.
func (m *metricsCollector) snapshot() Metrics {
	if m == nil {
		return Metrics{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Metrics{
		Ticks:             m.ticks,
		ReadinessEvents:   m.readiness,
		TimersFired:       m.timers,
		NotifiesDelivered: m.notifies,
		NotifiesRejected:  m.rejected,
		HandlerErrors:     m.errors,
		Callback: LatencySummary{
			P50:   time.Duration(m.p50.estimate()),
			P90:   time.Duration(m.p90.estimate()),
			P99:   time.Duration(m.p99.estimate()),
			Max:   time.Duration(m.latMax),
			Count: m.latCount,
		},
	}
	if m.latCount > 0 {
		out.Callback.Mean = time.Duration(m.latSum / float64(m.latCount))
	}
	return out
}
