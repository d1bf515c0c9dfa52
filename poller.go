// Package reactor: poller abstraction.
//
// The poller binds file descriptors to Tokens for readiness notification.
// Platform implementations live in poller_linux.go (epoll) and
// poller_darwin.go (kqueue); both expose the same unexported surface:
//
//	newPoller() (*poller, error)
//	register(fd, token, interest, opt)    ErrAlreadyRegistered on rebind
//	reregister(fd, token, interest, opt)  ErrNotRegistered if unbound
//	deregister(fd)                        ErrNotRegistered if unbound
//	wait(timeoutMs, batch)                blocking readiness batch
//	close()
//
// Under Edge|Oneshot, delivering readiness for an interest disarms it at
// the OS level until reregister is called. That is a hard contract the
// loop relies on, not an implementation detail.
//
// The poller is owned by the loop goroutine and is deliberately
// lock-free: the notify channel is the only structure in this package
// that other goroutines touch.
package reactor

// pollEvent is one entry of a readiness batch: the Token bound at
// registration plus the readiness kinds observed. Error conditions are
// folded into readable, matching the "read it and find out" model the
// dispatch contract is written for; Hangup is additionally flagged when
// the peer closed.
type pollEvent struct {
	token     Token
	readiness Interest
}

// pollerEntry is the per-fd registration record, indexed directly by fd
// in a dense table.
type pollerEntry struct {
	token    Token
	interest Interest
	opt      PollOpt
	active   bool
}

// initialPollerFDs is the initial size of the fd-indexed registration
// table; it grows on demand.
const initialPollerFDs = 1024

// maxPollerFDs bounds the registration table so a bogus fd cannot force
// an enormous allocation.
const maxPollerFDs = 1 << 24

// maxEventsPerPoll is the size of the preallocated OS event buffer; one
// wait call returns at most this many events. Events beyond it are
// delivered by the following poll cycle.
const maxEventsPerPoll = 256
