package reactor

import "container/heap"

// Slab is a dense, Token-addressed store with O(1) insert, lookup, and
// removal. Freed slots are recycled lowest-index-first to keep the Token
// space dense, and each slot carries a generation counter so lookups with
// a stale Token fail with [ErrInvalidToken] rather than returning the
// slot's new occupant.
//
// A Loop uses a Slab internally for its registration table; applications
// typically use their own Slab to map connection Tokens to per-connection
// state, instead of dispatching over well-known token values.
//
// A Slab is not safe for concurrent use. Within a reactor this is free:
// only the loop goroutine touches it.
type Slab[T any] struct {
	entries []slabEntry[T]
	free    freeSlots
	count   int
}

type slabEntry[T any] struct {
	value T
	// generation of the current (or, if vacant, the next) occupancy.
	generation uint32
	occupied   bool
}

// NewSlab returns an empty slab. The capacity is a preallocation hint
// only; the slab grows as needed.
func NewSlab[T any](capacity int) *Slab[T] {
	s := &Slab[T]{}
	if capacity > 0 {
		s.entries = make([]slabEntry[T], 0, capacity)
	}
	return s
}

// Insert stores value and returns its Token. The lowest-numbered free
// slot is reused when one exists; otherwise a fresh slot is appended.
func (s *Slab[T]) Insert(value T) Token {
	s.count++
	if s.free.Len() > 0 {
		idx := heap.Pop(&s.free).(uint32)
		e := &s.entries[idx]
		e.value = value
		e.occupied = true
		return makeToken(idx, e.generation)
	}
	idx := uint32(len(s.entries))
	s.entries = append(s.entries, slabEntry[T]{value: value, occupied: true})
	return makeToken(idx, 0)
}

// Get returns a pointer to the value stored under token. It fails with
// ErrInvalidToken if the token is stale, removed, or was never issued.
func (s *Slab[T]) Get(token Token) (*T, error) {
	e := s.lookup(token)
	if e == nil {
		return nil, ErrInvalidToken
	}
	return &e.value, nil
}

// Contains reports whether token denotes a live entry.
func (s *Slab[T]) Contains(token Token) bool {
	return s.lookup(token) != nil
}

// Remove deletes the entry under token and returns ownership of the
// stored value, so the caller can perform orderly teardown (for example
// closing an underlying socket). The slot becomes free for reuse under a
// new generation; the removed token never resolves again.
func (s *Slab[T]) Remove(token Token) (T, error) {
	e := s.lookup(token)
	if e == nil {
		var zero T
		return zero, ErrInvalidToken
	}
	value := e.value
	var zero T
	e.value = zero
	e.occupied = false
	e.generation++
	s.count--
	heap.Push(&s.free, token.index())
	return value, nil
}

// Len returns the number of live entries.
func (s *Slab[T]) Len() int { return s.count }

// Range calls fn for each live entry until fn returns false. Insertion
// and removal from within fn is not supported.
func (s *Slab[T]) Range(fn func(Token, *T) bool) {
	for i := range s.entries {
		e := &s.entries[i]
		if !e.occupied {
			continue
		}
		if !fn(makeToken(uint32(i), e.generation), &e.value) {
			return
		}
	}
}

// tokens returns the tokens of all live entries in slot order. Used for
// teardown, where removal during Range would be awkward.
func (s *Slab[T]) tokens() []Token {
	out := make([]Token, 0, s.count)
	for i := range s.entries {
		if s.entries[i].occupied {
			out = append(out, makeToken(uint32(i), s.entries[i].generation))
		}
	}
	return out
}

func (s *Slab[T]) lookup(token Token) *slabEntry[T] {
	idx := token.index()
	if token == noToken || uint64(idx) >= uint64(len(s.entries)) {
		return nil
	}
	e := &s.entries[idx]
	if !e.occupied || e.generation != token.generation() {
		return nil
	}
	return e
}

// freeSlots is a min-heap of vacant slot indexes, so Insert always
// recycles the lowest-numbered free slot.
type freeSlots []uint32

func (h freeSlots) Len() int { return len(h) }

func (h freeSlots) Less(i, j int) bool { return h[i] < h[j] }

func (h freeSlots) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *freeSlots) Push(x any) { *h = append(*h, x.(uint32)) }
func (h *freeSlots) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
