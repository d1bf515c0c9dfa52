package reactor

// Handler is the callback surface application code implements. Every
// method is invoked on the loop goroutine, never concurrently; the
// reactor is agnostic to what the handler does beyond the readiness
// contract (rearm or starve).
//
// The type parameters match the Loop's: S is the per-resource state
// stored in the resource table, T the timer payload type, M the notify
// message type.
//
// A returned error is an application-level failure: the loop logs it and
// hands it to the configured error observer, and the resource stays
// registered; deciding whether to deregister is the handler's job.
// Errors never unwind past the dispatch boundary.
type Handler[S, T, M any] interface {
	// OnReadable is invoked when the resource identified by token is
	// ready for reading (including peer hangup, which a read observes as
	// EOF). Under Edge|Oneshot the readable interest is now disarmed;
	// rearm before returning to receive further notifications.
	OnReadable(loop *Loop[S, T, M], token Token) error

	// OnWritable is invoked when the resource identified by token can
	// accept a write. The same rearm obligation applies.
	OnWritable(loop *Loop[S, T, M], token Token) error

	// OnNotify is invoked once per message injected through a Sender, in
	// FIFO order.
	OnNotify(loop *Loop[S, T, M], msg M) error

	// OnTimeout is invoked when a scheduled timer fires, with the payload
	// passed to ScheduleTimer. Timers are one-shot; re-schedule from here
	// for periodic behavior.
	OnTimeout(loop *Loop[S, T, M], payload T) error

	// OnRemoved is invoked after a resource's table entry is dropped,
	// either by Deregister or during final teardown when the loop stops.
	// The token is already invalid; state is the removed entry's value,
	// handed over so the owner can release the underlying resource.
	OnRemoved(loop *Loop[S, T, M], token Token, state S)
}

// BaseHandler is a no-op Handler for embedding, so applications implement
// only the callbacks they care about.
type BaseHandler[S, T, M any] struct{}

// OnReadable implements Handler.
func (BaseHandler[S, T, M]) OnReadable(*Loop[S, T, M], Token) error { return nil }

// OnWritable implements Handler.
func (BaseHandler[S, T, M]) OnWritable(*Loop[S, T, M], Token) error { return nil }

// OnNotify implements Handler.
func (BaseHandler[S, T, M]) OnNotify(*Loop[S, T, M], M) error { return nil }

// OnTimeout implements Handler.
func (BaseHandler[S, T, M]) OnTimeout(*Loop[S, T, M], T) error { return nil }

// OnRemoved implements Handler.
func (BaseHandler[S, T, M]) OnRemoved(*Loop[S, T, M], Token, S) {}
