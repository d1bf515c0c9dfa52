// Package reactor provides a single-threaded, readiness-based I/O event
// loop for TCP and Unix-domain stream sockets, built on edge-triggered,
// oneshot readiness notification.
//
// # Architecture
//
// A [Loop] owns four satellite structures:
//
//   - a platform poller (epoll on Linux, kqueue on Darwin) delivering
//     readiness batches for registered file descriptors;
//   - a [Slab]-backed resource table assigning stable, generation-tagged
//     [Token] identifiers to registered resources;
//   - a hashed timer wheel providing tick-granularity one-shot timers;
//   - a bounded notify channel letting other goroutines inject messages
//     into the loop, paired with an eventfd/pipe wake mechanism.
//
// Exactly one goroutine executes [Loop.Run] and every [Handler] callback.
// All loop-owned state is therefore accessed without locking; the notify
// channel is the only cross-goroutine boundary.
//
// # Readiness Contract
//
// Registrations default to edge-triggered oneshot mode: after a readiness
// notification is delivered for an interest, that interest is disarmed
// until the owner calls [Loop.Reregister] (or [Loop.Rearm]). A callback
// that wants further notifications MUST rearm before returning, even if
// the interest set is unchanged. Omitting the rearm permanently starves
// the resource; rearming without consuming the readiness busy-loops.
//
// # Tokens
//
// Tokens are dense small integers assigned at registration, recycled
// lowest-first after deregistration, and tagged with a generation counter
// so a stale Token fails with [ErrInvalidToken] instead of silently
// aliasing a new occupant. The first two registrations receive tokens 0
// and 1, preserving the conventional "listener" and "client" slots.
//
// # Usage
//
//	loop, err := reactor.New[*connState, string, string]()
//	if err != nil {
//		...
//	}
//	tok, err := loop.Register(fd, state, reactor.Readable, reactor.EdgeOneshot())
//	...
//	err = loop.Run(context.Background(), handler)
//
// The type parameters select the per-resource state type, the timer
// payload type, and the notify message type for the loop instance.
package reactor
