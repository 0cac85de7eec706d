package usart

// arena is the single contiguous region all ring buffers are carved from.
// It is written only during Init (single-threaded phase) and allocation is
// monotonic: windows are handed out in order and never returned.
type arena struct {
	storage   []byte
	allocated int
}

func newArena(size int) *arena {
	return &arena{storage: make([]byte, size)}
}

// alloc reserves n bytes and returns their base offset.
func (a *arena) alloc(n int) (int, error) {
	if n > len(a.storage)-a.allocated {
		return 0, ErrArenaExhausted
	}
	base := a.allocated
	a.allocated += n
	return base, nil
}

func (a *arena) remaining() int {
	return len(a.storage) - a.allocated
}
