//go:build linux || darwin

package reactor

import (
	"golang.org/x/sys/unix"
)

// The transport boundary the reactor consumes: non-blocking read/write
// returning either a byte count, a would-block indicator, or an error,
// plus close. Callbacks must treat would-block as ordinary flow, stopping
// until the next readiness edge, never as an error.

// closeFD closes a file descriptor.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// readFD performs a non-blocking read. wouldBlock is true when the
// resource has no data available right now; n == 0 with a nil error and
// wouldBlock false means the peer closed.
func readFD(fd int, buf []byte) (n int, wouldBlock bool, err error) {
	n, err = unix.Read(fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, true, nil
	}
	if n < 0 {
		n = 0
	}
	return n, false, err
}

// writeFD performs a non-blocking write. wouldBlock is true when the
// kernel buffer cannot accept any bytes right now.
func writeFD(fd int, buf []byte) (n int, wouldBlock bool, err error) {
	n, err = unix.Write(fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, true, nil
	}
	if n < 0 {
		n = 0
	}
	return n, false, err
}
