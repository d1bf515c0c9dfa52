package reactor

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrInvalidToken is returned when a stale or unknown Token is passed
	// to the resource table or to Reregister/Deregister. It signals a
	// caller logic error (typically a Token retained past removal) and is
	// always recoverable.
	ErrInvalidToken = errors.New("reactor: invalid token")

	// ErrAlreadyRegistered is returned when registering a file descriptor
	// that is already bound to the poller.
	ErrAlreadyRegistered = errors.New("reactor: resource already registered")

	// ErrNotRegistered is returned when reregistering or deregistering a
	// file descriptor that is not bound to the poller.
	ErrNotRegistered = errors.New("reactor: resource not registered")

	// ErrNotifyFull is returned by Sender.Send when the notify channel is
	// saturated. The message is returned to the caller uncommitted; retry,
	// drop, and backpressure policy is the caller's decision.
	ErrNotifyFull = errors.New("reactor: notify channel full")

	// ErrTimerRangeExceeded is returned when a timer's deadline lies
	// beyond the wheel's configured span. The caller must re-plan with a
	// coarser multi-tick strategy; the deadline is never silently
	// truncated.
	ErrTimerRangeExceeded = errors.New("reactor: timer deadline exceeds wheel span")

	// ErrLoopRunning is returned when Run is called on a loop that is
	// already running. Only one Run may be active per instance.
	ErrLoopRunning = errors.New("reactor: loop is already running")

	// ErrLoopStopped is returned when operations are attempted on a loop
	// that has finished running.
	ErrLoopStopped = errors.New("reactor: loop has stopped")
)

// PollError wraps a failure of the underlying OS polling primitive. It is
// fatal to the current Run invocation: the failure mode (for example a
// corrupted poll set) is not generally self-healing, so it is propagated
// to Run's caller rather than retried.
type PollError struct {
	// Op is the poller operation that failed ("wait", "register", ...).
	Op string
	// Err is the underlying OS error.
	Err error
}

// Error implements the error interface.
func (e *PollError) Error() string {
	return fmt.Sprintf("reactor: poll %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying OS error for use with [errors.Is] and
// [errors.As].
func (e *PollError) Unwrap() error {
	return e.Err
}
