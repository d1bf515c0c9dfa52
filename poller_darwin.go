//go:build darwin

package reactor

import (
	"golang.org/x/sys/unix"
)

// poller is the kqueue-backed readiness poller.
//
// kqueue registers readable and writable interest as separate filters, so
// register/reregister translate one Interest set into up to two changelist
// entries. Edge maps to EV_CLEAR and Oneshot to EV_ONESHOT; a fired
// oneshot filter is removed by the kernel, which is why reregister always
// uses EV_ADD (it re-creates or updates as needed).
type poller struct {
	kq       int
	fds      []pollerEntry
	eventBuf [maxEventsPerPoll]unix.Kevent_t
}

func newPoller() (*poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, &PollError{Op: "create", Err: err}
	}
	unix.CloseOnExec(kq)
	return &poller{
		kq:  kq,
		fds: make([]pollerEntry, initialPollerFDs),
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
	if err := p.apply(fd, interest, 0, opt); err != nil {
		return err
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
	if err := p.apply(fd, interest, e.interest, opt); err != nil {
		return err
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
	if err := p.apply(fd, 0, e.interest, 0); err != nil {
		// The kernel filters survive; keep the table entry in agreement
		// so a retry is possible.
		return err
	}
	*e = pollerEntry{}
	return nil
}

// apply reconciles the kernel filter set for fd from old to next. Filters
// dropped from the interest set are deleted; ENOENT on delete is ignored
// because a fired oneshot filter has already been removed by the kernel.
func (p *poller) apply(fd int, next, old Interest, opt PollOpt) error {
	flags := uint16(unix.EV_ADD)
	if opt.IsEdge() {
		flags |= unix.EV_CLEAR
	}
	if opt.IsOneshot() {
		flags |= unix.EV_ONESHOT
	}

	var changes [2]unix.Kevent_t
	n := 0
	add := func(filter int16) {
		unix.SetKevent(&changes[n], fd, int(filter), int(flags))
		n++
	}
	del := func(filter int16) {
		unix.SetKevent(&changes[n], fd, int(filter), unix.EV_DELETE)
		n++
	}

	if next.IsReadable() {
		add(unix.EVFILT_READ)
	} else if old.IsReadable() {
		del(unix.EVFILT_READ)
	}
	if next.IsWritable() {
		add(unix.EVFILT_WRITE)
	} else if old.IsWritable() {
		del(unix.EVFILT_WRITE)
	}
	if n == 0 {
		return nil
	}

	// Flush one change at a time so an ENOENT from a stale delete never
	// masks the result of the other filter's change.
	for i := 0; i < n; i++ {
		if _, err := unix.Kevent(p.kq, changes[i:i+1], nil, nil); err != nil {
			if err == unix.ENOENT && changes[i].Flags&unix.EV_DELETE != 0 {
				continue
			}
			return &PollError{Op: "register", Err: err}
		}
	}
	return nil
}

// wait blocks until readiness, timeout, or wake. timeoutMs < 0 blocks
// indefinitely. EINTR yields an empty batch, not an error.
func (p *poller) wait(timeoutMs int, batch []pollEvent) ([]pollEvent, error) {
	batch = batch[:0]

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		v := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &v
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return batch, nil
		}
		return batch, &PollError{Op: "wait", Err: err}
	}
	for i := 0; i < n; i++ {
		ev := &p.eventBuf[i]
		fd := int(ev.Ident)
		if fd < 0 || fd >= len(p.fds) || !p.fds[fd].active {
			continue
		}
		var r Interest
		switch ev.Filter {
		case unix.EVFILT_READ:
			r |= Readable
			if ev.Flags&unix.EV_EOF != 0 {
				r |= Hangup
			}
		case unix.EVFILT_WRITE:
			r |= Writable
		default:
			continue
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			r |= Readable
		}
		batch = append(batch, pollEvent{token: p.fds[fd].token, readiness: r})
	}
	return batch, nil
}

func (p *poller) close() error {
	return unix.Close(p.kq)
}

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
