package reactor

import "fmt"

// Token identifies a registered resource within one Loop instance.
//
// A Token packs a dense slot index with a generation counter. Slot indexes
// are recycled lowest-first after removal, but the generation is bumped on
// every removal, so a Token retained past Deregister is detectably stale
// rather than aliasing the slot's next occupant.
//
// Tokens are process-local and only meaningful to the Loop (or Slab) that
// issued them.
type Token uint64

const (
	tokenIndexBits = 32
	tokenIndexMask = 1<<tokenIndexBits - 1

	// noToken is the reserved sentinel used for loop-internal resources
	// (the wake fd). It is never issued by a Slab.
	noToken Token = 1<<64 - 1
)

func makeToken(index, generation uint32) Token {
	return Token(generation)<<tokenIndexBits | Token(index)
}

// index returns the slot index encoded in the token.
func (t Token) index() uint32 { return uint32(t & tokenIndexMask) }

// generation returns the generation tag encoded in the token.
func (t Token) generation() uint32 { return uint32(t >> tokenIndexBits) }

// String formats the token as index.generation for diagnostics.
func (t Token) String() string {
	if t == noToken {
		return "Token(internal)"
	}
	return fmt.Sprintf("Token(%d.%d)", t.index(), t.generation())
}

// Interest is a bitset of readiness conditions a registration subscribes
// to. Hangup is always reported when it occurs, whether requested or not;
// including it merely documents that the owner handles it.
type Interest uint8

const (
	// Readable requests notification when the resource can be read
	// without blocking. Peer hangup is also delivered as readable.
	Readable Interest = 1 << iota
	// Writable requests notification when the resource can accept a
	// write without blocking.
	Writable
	// Hangup marks interest in peer-closed notification.
	Hangup
)

// IsReadable reports whether the set includes Readable.
func (i Interest) IsReadable() bool { return i&Readable != 0 }

// IsWritable reports whether the set includes Writable.
func (i Interest) IsWritable() bool { return i&Writable != 0 }

// IsHangup reports whether the set includes Hangup.
func (i Interest) IsHangup() bool { return i&Hangup != 0 }

// String returns a compact representation such as "r|w".
func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	var b [5]byte
	s := b[:0]
	if i.IsReadable() {
		s = append(s, 'r')
	}
	if i.IsWritable() {
		if len(s) > 0 {
			s = append(s, '|')
		}
		s = append(s, 'w')
	}
	if i.IsHangup() {
		if len(s) > 0 {
			s = append(s, '|')
		}
		s = append(s, 'h')
	}
	return string(s)
}

// PollOpt selects the trigger mode for a registration.
//
// The zero value is level-triggered without the oneshot modifier. The
// dominant mode in this design is Edge|Oneshot: one notification per
// readiness transition, after which the interest is disarmed until the
// owner reregisters.
type PollOpt uint8

const (
	// Edge requests edge-triggered notification: readiness is reported
	// once per state transition, not once per poll while it holds.
	Edge PollOpt = 1 << iota
	// Oneshot disarms the registration's interests after a single
	// notification, until Reregister is called.
	Oneshot
)

// EdgeOneshot returns Edge|Oneshot, the mode the readiness contract in
// the package documentation is written for.
func EdgeOneshot() PollOpt { return Edge | Oneshot }

// IsEdge reports whether edge-triggered mode is selected.
func (o PollOpt) IsEdge() bool { return o&Edge != 0 }

// IsOneshot reports whether the oneshot modifier is selected.
func (o PollOpt) IsOneshot() bool { return o&Oneshot != 0 }

// String returns a representation such as "edge|oneshot".
func (o PollOpt) String() string {
	switch {
	case o.IsEdge() && o.IsOneshot():
		return "edge|oneshot"
	case o.IsEdge():
		return "edge"
	case o.IsOneshot():
		return "level|oneshot"
	default:
		return "level"
	}
}
