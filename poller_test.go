//go:build linux || darwin

package reactor

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

// socketPair returns a connected non-blocking AF_UNIX stream pair,
// closed on test cleanup.
func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair failed: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("SetNonblock failed: %v", err)
		}
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestPoller(t *testing.T) *poller {
	t.Helper()
	p, err := newPoller()
	if err != nil {
		t.Fatalf("newPoller failed: %v", err)
	}
	t.Cleanup(func() { _ = p.close() })
	return p
}

// waitFor polls until an event for token arrives or attempts run out.
func waitFor(t *testing.T, p *poller, token Token) pollEvent {
	t.Helper()
	for attempt := 0; attempt < 50; attempt++ {
		events, err := p.wait(100, nil)
		if err != nil {
			t.Fatalf("wait failed: %v", err)
		}
		for _, ev := range events {
			if ev.token == token {
				return ev
			}
		}
	}
	t.Fatalf("no event for %v", token)
	return pollEvent{}
}

func TestPollerRegisterProtocol(t *testing.T) {
	p := newTestPoller(t)
	a, _ := socketPair(t)

	if err := p.register(a, makeToken(0, 0), Readable, EdgeOneshot()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := p.register(a, makeToken(1, 0), Readable, EdgeOneshot()); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate register err = %v, want ErrAlreadyRegistered", err)
	}
	if err := p.deregister(a); err != nil {
		t.Fatalf("deregister failed: %v", err)
	}
	if err := p.deregister(a); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("double deregister err = %v, want ErrNotRegistered", err)
	}
	if err := p.reregister(a, makeToken(0, 0), Readable, EdgeOneshot()); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("reregister of unbound fd err = %v, want ErrNotRegistered", err)
	}
}

// A deregister whose OS call fails must leave the registration record in
// place, keeping the table in agreement with the kernel.
func TestPollerDeregisterFailureKeepsEntry(t *testing.T) {
	p := newTestPoller(t)
	a, _ := socketPair(t)

	if err := p.register(a, makeToken(0, 0), Readable, EdgeOneshot()); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Close the fd out from under the poller so the removal call fails
	// with EBADF rather than ENOENT.
	_ = unix.Close(a)

	err := p.deregister(a)
	if err == nil {
		t.Fatal("deregister of a closed fd succeeded")
	}
	if errors.Is(err, ErrNotRegistered) {
		t.Fatalf("deregister err = %v, want an OS-level failure", err)
	}
	var pe *PollError
	if !errors.As(err, &pe) {
		t.Fatalf("deregister err = %T, want *PollError", err)
	}

	// The entry must survive the failure: a retry reaches the OS again
	// instead of reporting the fd as unregistered.
	err = p.deregister(a)
	if err == nil || errors.Is(err, ErrNotRegistered) {
		t.Errorf("retry err = %v, want the same OS-level failure", err)
	}
}

func TestPollerReadableEvent(t *testing.T) {
	p := newTestPoller(t)
	a, b := socketPair(t)
	tok := makeToken(3, 1)

	if err := p.register(a, tok, Readable, EdgeOneshot()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := unix.Write(b, []byte("PING")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ev := waitFor(t, p, tok)
	if !ev.readiness.IsReadable() {
		t.Errorf("readiness = %v, want readable", ev.readiness)
	}
}

func TestPollerWritableEvent(t *testing.T) {
	p := newTestPoller(t)
	a, _ := socketPair(t)
	tok := makeToken(0, 0)

	// A fresh socket's send buffer is empty, so writability is
	// immediate.
	if err := p.register(a, tok, Writable, EdgeOneshot()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	ev := waitFor(t, p, tok)
	if !ev.readiness.IsWritable() {
		t.Errorf("readiness = %v, want writable", ev.readiness)
	}
}

// One readiness notification per arm: after an Edge|Oneshot delivery the
// interest is disarmed until reregister.
func TestPollerOneshotDisarms(t *testing.T) {
	p := newTestPoller(t)
	a, b := socketPair(t)
	tok := makeToken(0, 0)

	if err := p.register(a, tok, Readable, EdgeOneshot()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := unix.Write(b, []byte("x")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, p, tok)

	// Unread data still pending, more data arriving; neither may
	// produce a second event while disarmed.
	if _, err := unix.Write(b, []byte("y")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	events, err := p.wait(50, nil)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	for _, ev := range events {
		if ev.token == tok {
			t.Fatal("disarmed registration delivered a second event")
		}
	}

	// Rearming delivers again.
	if err := p.reregister(a, tok, Readable, EdgeOneshot()); err != nil {
		t.Fatalf("reregister failed: %v", err)
	}
	ev := waitFor(t, p, tok)
	if !ev.readiness.IsReadable() {
		t.Errorf("post-rearm readiness = %v, want readable", ev.readiness)
	}
}

func TestPollerInterestSwitch(t *testing.T) {
	p := newTestPoller(t)
	a, b := socketPair(t)
	tok := makeToken(0, 0)

	if err := p.register(a, tok, Writable, EdgeOneshot()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	waitFor(t, p, tok)

	// Switch to readable interest; pending data must now surface.
	if _, err := unix.Write(b, []byte("z")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := p.reregister(a, tok, Readable, EdgeOneshot()); err != nil {
		t.Fatalf("reregister failed: %v", err)
	}
	ev := waitFor(t, p, tok)
	if !ev.readiness.IsReadable() {
		t.Errorf("readiness = %v, want readable after interest switch", ev.readiness)
	}
}

func TestPollerHangup(t *testing.T) {
	p := newTestPoller(t)
	a, b := socketPair(t)
	tok := makeToken(0, 0)

	if err := p.register(a, tok, Readable|Hangup, EdgeOneshot()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_ = unix.Close(b)

	// Peer close surfaces as readable (a read would observe EOF).
	ev := waitFor(t, p, tok)
	if !ev.readiness.IsReadable() {
		t.Errorf("readiness on hangup = %v, want readable", ev.readiness)
	}
}

func TestPollerWaitTimeout(t *testing.T) {
	p := newTestPoller(t)
	events, err := p.wait(0, nil)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("idle wait returned %d events", len(events))
	}
}
