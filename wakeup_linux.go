//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates the wake mechanism for the notify channel (Linux:
// a single eventfd serving as both read and write end).
func createWakeFd() (readFd, writeFd int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	return fd, fd, err
}
