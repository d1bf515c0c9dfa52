//go:build darwin

package reactor

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates the wake mechanism for the notify channel (Darwin:
// a non-blocking pipe; no eventfd equivalent).
func createWakeFd() (readFd, writeFd int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}
