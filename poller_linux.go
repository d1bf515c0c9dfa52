//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// poller is the epoll-backed readiness poller.
//
// Registrations are tracked in a dense fd-indexed table rather than a
// map: fd values are small dense integers by construction, and the table
// doubles as the fd→Token translation for events coming back from
// epoll_wait (the epoll user data field only carries the fd).
type poller struct {
	epfd     int
	fds      []pollerEntry
	eventBuf [maxEventsPerPoll]unix.EpollEvent
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &PollError{Op: "create", Err: err}
	}
	return &poller{
		epfd: epfd,
		fds:  make([]pollerEntry, initialPollerFDs),
	}, nil
}

func (p *poller) register(fd int, token Token, interest Interest, opt PollOpt) error {
	e, err := p.entry(fd, true)
	if err != nil {
		return err
	}
	if e.active {
		return ErrAlreadyRegistered
	}
	ev := unix.EpollEvent{Events: epollMask(interest, opt), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		if err == unix.EEXIST {
			return ErrAlreadyRegistered
		}
		return &PollError{Op: "register", Err: err}
	}
	*e = pollerEntry{token: token, interest: interest, opt: opt, active: true}
	return nil
}

func (p *poller) reregister(fd int, token Token, interest Interest, opt PollOpt) error {
	e, err := p.entry(fd, false)
	if err != nil {
		return err
	}
	if !e.active {
		return ErrNotRegistered
	}
	ev := unix.EpollEvent{Events: epollMask(interest, opt), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		if err == unix.ENOENT {
			return ErrNotRegistered
		}
		return &PollError{Op: "reregister", Err: err}
	}
	*e = pollerEntry{token: token, interest: interest, opt: opt, active: true}
	return nil
}

func (p *poller) deregister(fd int) error {
	e, err := p.entry(fd, false)
	if err != nil {
		return err
	}
	if !e.active {
		return ErrNotRegistered
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		if err == unix.ENOENT {
			*e = pollerEntry{}
			return ErrNotRegistered
		}
		// The kernel registration survives; keep the table entry in
		// agreement so a retry is possible.
		return &PollError{Op: "deregister", Err: err}
	}
	*e = pollerEntry{}
	return nil
}

// wait blocks until readiness, timeout, or wake. timeoutMs < 0 blocks
// indefinitely. The returned slice aliases batch; it is valid until the
// next wait call. EINTR yields an empty batch, not an error.
func (p *poller) wait(timeoutMs int, batch []pollEvent) ([]pollEvent, error) {
	batch = batch[:0]
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return batch, nil
		}
		return batch, &PollError{Op: "wait", Err: err}
	}
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= len(p.fds) || !p.fds[fd].active {
			continue
		}
		batch = append(batch, pollEvent{
			token:     p.fds[fd].token,
			readiness: epollReadiness(p.eventBuf[i].Events),
		})
	}
	return batch, nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}

// entry returns the registration slot for fd, growing the table when grow
// is set.
func (p *poller) entry(fd int, grow bool) (*pollerEntry, error) {
	if fd < 0 || fd >= maxPollerFDs {
		return nil, ErrNotRegistered
	}
	if fd >= len(p.fds) {
		if !grow {
			return nil, ErrNotRegistered
		}
		size := len(p.fds)
		for size <= fd {
			size *= 2
		}
		if size > maxPollerFDs {
			size = maxPollerFDs
		}
		grown := make([]pollerEntry, size)
		copy(grown, p.fds)
		p.fds = grown
	}
	return &p.fds[fd], nil
}

func epollMask(interest Interest, opt PollOpt) uint32 {
	var mask uint32
	if interest.IsReadable() {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest.IsWritable() {
		mask |= unix.EPOLLOUT
	}
	if interest.IsHangup() {
		mask |= unix.EPOLLRDHUP
	}
	if opt.IsEdge() {
		mask |= unix.EPOLLET
	}
	if opt.IsOneshot() {
		mask |= unix.EPOLLONESHOT
	}
	return mask
}

func epollReadiness(events uint32) Interest {
	var r Interest
	// Errors and hangup are surfaced as readable: the owner's read will
	// observe EOF or the error directly.
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		r |= Readable
	}
	if events&unix.EPOLLOUT != 0 {
		r |= Writable
	}
	if events&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
		r |= Hangup
	}
	return r
}
