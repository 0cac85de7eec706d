package usart

import "time"

// buffer is a fixed-capacity circular byte buffer over an arena window.
// head is the next byte to pop, tail the next slot to push; both are
// absolute offsets into the arena and always lie in [base, base+length).
// A full buffer overwrites its oldest byte on push: a silent data-loss
// event visible only through the high-water mark staying at capacity.
//
// The guard is a cooperative mutex with a bounded acquisition wait. It is
// only ever taken from goroutine context (API callers and the service
// loop); interrupt handlers never touch a buffer.
type buffer struct {
	arena     *arena
	base      int
	length    int
	head      int
	tail      int
	fillLevel int
	highWater int
	guard     chan struct{}
	timeout   time.Duration
}

func newBuffer(a *arena, capacity int, timeout time.Duration) (*buffer, error) {
	base, err := a.alloc(capacity)
	if err != nil {
		return nil, err
	}
	return &buffer{
		arena:   a,
		base:    base,
		length:  capacity,
		head:    base,
		tail:    base,
		guard:   make(chan struct{}, 1),
		timeout: timeout,
	}, nil
}

// acquire takes the guard, waiting at most the configured timeout.
func (b *buffer) acquire() bool {
	select {
	case b.guard <- struct{}{}:
		return true
	case <-time.After(b.timeout):
		return false
	}
}

func (b *buffer) release() {
	<-b.guard
}

// wrap folds an offset that ran past the window back to its start.
// Valid for offsets advanced by at most length.
func (b *buffer) wrap(i int) int {
	if i >= b.base+b.length {
		i -= b.length
	}
	return i
}

// push stores one byte, overwriting the oldest byte if the buffer is full.
// It is called from the trusted service path after hardware data has been
// accepted, so failing to take the guard means the byte would be silently
// lost: that is treated as a fault, not an error result.
func (b *buffer) push(v byte) {
	if !b.acquire() {
		panic("usart: buffer guard starved on push")
	}
	b.pushLocked(v)
	b.release()
}

// pushLocked is push with the guard already held.
func (b *buffer) pushLocked(v byte) {
	b.arena.storage[b.tail] = v
	b.tail = b.wrap(b.tail + 1)
	if b.fillLevel == b.length {
		// Full: the byte just written replaced the oldest one, so the
		// head follows the tail and the fill level stays pinned.
		b.head = b.tail
	} else {
		b.fillLevel++
	}
	if b.fillLevel > b.highWater {
		b.highWater = b.fillLevel
	}
}

// pop removes and returns the oldest byte. ok is false when the buffer is
// empty or the guard could not be taken in time.
func (b *buffer) pop() (v byte, ok bool) {
	if !b.acquire() {
		return 0, false
	}
	defer b.release()
	if b.fillLevel == 0 {
		return 0, false
	}
	v = b.arena.storage[b.head]
	b.head = b.wrap(b.head + 1)
	b.fillLevel--
	return v, true
}

// peek returns the byte offset positions ahead of the head without
// consuming it.
func (b *buffer) peek(offset int) (v byte, ok bool) {
	if !b.acquire() {
		return 0, false
	}
	defer b.release()
	if offset < 0 || offset >= b.fillLevel {
		return 0, false
	}
	return b.arena.storage[b.wrap(b.head+offset)], true
}

// available returns the current fill level, or 0 if the guard could not be
// taken in time.
func (b *buffer) available() int {
	if !b.acquire() {
		return 0
	}
	defer b.release()
	return b.fillLevel
}

// The block operations below assume the caller holds the guard for the
// whole logical operation; splitting them per byte would let a concurrent
// mutator interleave and corrupt head/tail/fillLevel.

// copyIn writes p at the tail as a multi-byte push: one copy if it fits
// before the end of the window, otherwise split at the wrap boundary.
func (b *buffer) copyIn(p []byte) {
	s := b.arena.storage
	tailRoom := b.base + b.length - b.tail
	if len(p) <= tailRoom {
		copy(s[b.tail:], p)
	} else {
		copy(s[b.tail:b.base+b.length], p[:tailRoom])
		copy(s[b.base:], p[tailRoom:])
	}
	b.advanceTail(len(p))
}

// copyInString is copyIn for string payloads, avoiding a []byte conversion.
func (b *buffer) copyInString(p string) {
	s := b.arena.storage
	tailRoom := b.base + b.length - b.tail
	if len(p) <= tailRoom {
		copy(s[b.tail:], p)
	} else {
		copy(s[b.tail:b.base+b.length], p[:tailRoom])
		copy(s[b.base:], p[tailRoom:])
	}
	b.advanceTail(len(p))
}

func (b *buffer) advanceTail(n int) {
	b.tail = b.wrap(b.tail + n)
	if b.fillLevel+n > b.length {
		// Overrun: the oldest bytes were overwritten and the buffer is
		// now exactly full.
		b.fillLevel = b.length
		b.head = b.tail
	} else {
		b.fillLevel += n
	}
	if b.fillLevel > b.highWater {
		b.highWater = b.fillLevel
	}
}

// copyOut copies n buffered bytes into dst and consumes them, splitting at
// the wrap boundary when needed. n must not exceed the fill level.
func (b *buffer) copyOut(dst []byte, n int) {
	s := b.arena.storage
	headRoom := b.base + b.length - b.head
	if n <= headRoom {
		copy(dst, s[b.head:b.head+n])
	} else {
		copy(dst, s[b.head:b.base+b.length])
		copy(dst[headRoom:], s[b.base:b.base+n-headRoom])
	}
	b.head = b.wrap(b.head + n)
	b.fillLevel -= n
}

// discard consumes n buffered bytes without copying them out.
func (b *buffer) discard(n int) {
	b.head = b.wrap(b.head + n)
	b.fillLevel -= n
}

// findTerminator returns the offset of the first line terminator within
// the buffered data.
func (b *buffer) findTerminator() (offset int, found bool) {
	p := b.head
	for i := 0; i < b.fillLevel; i++ {
		if b.arena.storage[p] == lineTerminator {
			return i, true
		}
		p = b.wrap(p + 1)
	}
	return 0, false
}
