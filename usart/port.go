package usart

// Port is one buffered U(S)ART channel: a peripheral handle plus a transmit
// and a receive ring buffer. The two buffers are independent; their guards
// are never held together and never cross-released.
//
// All methods are safe to call from any goroutine. Calls on a disabled port
// return zero/empty results and never block.
type Port struct {
	periph  Periph
	enabled bool
	tx      *buffer
	rx      *buffer
	wake    chan struct{}
}

// Enabled reports whether the port was activated at Init.
func (p *Port) Enabled() bool {
	return p != nil && p.enabled
}

// WriteBytes queues data for transmission and enables the transmit-empty
// interrupt so the service loop starts draining. The whole copy happens
// under one guard acquisition. It returns len(data), or 0 if data exceeds
// the transmit buffer capacity, the guard timed out, or the port is
// disabled. Queueing more than the free space overwrites the oldest queued
// bytes (visible only through the high-water mark).
func (p *Port) WriteBytes(data []byte) int {
	if !p.Enabled() || len(data) == 0 {
		return 0
	}
	// A single call may never exceed total buffer capacity; there is no
	// partial acceptance of oversized writes.
	if len(data) > p.tx.length {
		return 0
	}
	if !p.tx.acquire() {
		return 0
	}
	p.tx.copyIn(data)
	p.tx.release()
	p.periph.EnableIRQ(EventTxEmpty)
	return len(data)
}

// WriteLine queues line followed by a single '\n' terminator, under one
// guard acquisition, and enables the transmit-empty interrupt. It returns
// len(line) on success and 0 on rejection or guard timeout.
func (p *Port) WriteLine(line string) int {
	if !p.Enabled() {
		return 0
	}
	if len(line) > p.tx.length {
		return 0
	}
	if !p.tx.acquire() {
		return 0
	}
	p.tx.copyInString(line)
	p.tx.pushLocked(lineTerminator)
	p.tx.release()
	p.periph.EnableIRQ(EventTxEmpty)
	return len(line)
}

// WriteByte queues a single byte for transmission.
func (p *Port) WriteByte(b byte) error {
	if !p.Enabled() {
		return ErrPortDisabled
	}
	if !p.tx.acquire() {
		return ErrGuardTimeout
	}
	p.tx.pushLocked(b)
	p.tx.release()
	p.periph.EnableIRQ(EventTxEmpty)
	return nil
}

// BytesAvailable returns the number of received bytes waiting to be read.
func (p *Port) BytesAvailable() int {
	if !p.Enabled() {
		return 0
	}
	return p.rx.available()
}

// ReadBytes copies up to len(buf) received bytes into buf and returns how
// many were copied. It never blocks beyond the bounded guard wait; fewer
// bytes than requested (including zero) is a normal outcome.
func (p *Port) ReadBytes(buf []byte) int {
	if !p.Enabled() || len(buf) == 0 {
		return 0
	}
	if !p.rx.acquire() {
		return 0
	}
	defer p.rx.release()
	n := min(len(buf), p.rx.fillLevel)
	if n > 0 {
		p.rx.copyOut(buf, n)
	}
	return n
}

// ReadByte returns a single received byte, or ErrBufferEmpty when none is
// buffered yet.
func (p *Port) ReadByte() (byte, error) {
	if !p.Enabled() {
		return 0, ErrPortDisabled
	}
	b, ok := p.rx.pop()
	if !ok {
		return 0, ErrBufferEmpty
	}
	return b, nil
}

// ReadLine returns the bytes preceding the first '\n' in the receive
// buffer and consumes them together with the terminator. If no complete
// line is buffered yet it returns (nil, false) and leaves the buffer
// untouched; callers poll rather than block. An empty line yields an empty
// slice with ok true.
func (p *Port) ReadLine() ([]byte, bool) {
	if !p.Enabled() {
		return nil, false
	}
	if !p.rx.acquire() {
		return nil, false
	}
	defer p.rx.release()
	n, found := p.rx.findTerminator()
	if !found {
		return nil, false
	}
	line := make([]byte, n)
	if n > 0 {
		p.rx.copyOut(line, n)
	}
	p.rx.discard(1) // terminator
	return line, true
}

// ReadLineTruncate behaves like ReadLine but caps the returned payload at
// maxLen bytes. The whole line, including any truncated excess and the
// terminator, is consumed so the next call starts at the following line.
func (p *Port) ReadLineTruncate(maxLen int) ([]byte, bool) {
	if !p.Enabled() || maxLen < 0 {
		return nil, false
	}
	if !p.rx.acquire() {
		return nil, false
	}
	defer p.rx.release()
	lineLen, found := p.rx.findTerminator()
	if !found {
		return nil, false
	}
	n := min(lineLen, maxLen)
	line := make([]byte, n)
	if n > 0 {
		p.rx.copyOut(line, n)
	}
	p.rx.discard(lineLen - n + 1) // truncated excess plus terminator
	return line, true
}

// Peek returns the received byte offset positions ahead of the read
// position without consuming anything.
func (p *Port) Peek(offset int) (byte, bool) {
	if !p.Enabled() {
		return 0, false
	}
	return p.rx.peek(offset)
}

// Stats is a snapshot of a port's buffer occupancy. A high-water mark
// pinned at the buffer capacity is the only trace an overrun leaves.
type Stats struct {
	TxFillLevel int
	TxHighWater int
	RxFillLevel int
	RxHighWater int
}

// Stats samples both buffers. Each side is read under its own guard; a
// guard timeout leaves that side's fields zero.
func (p *Port) Stats() Stats {
	var s Stats
	if !p.Enabled() {
		return s
	}
	if p.tx.acquire() {
		s.TxFillLevel = p.tx.fillLevel
		s.TxHighWater = p.tx.highWater
		p.tx.release()
	}
	if p.rx.acquire() {
		s.RxFillLevel = p.rx.fillLevel
		s.RxHighWater = p.rx.highWater
		p.rx.release()
	}
	return s
}

// ISR is the interrupt-context half of the synchronization protocol and is
// the only driver code that may run in interrupt context. It disables the
// interrupt source(s) that fired so they cannot re-enter before the service
// loop has acted, clears a spurious receive flag otherwise, and wakes the
// service loop exactly once. It never touches the buffers.
func (p *Port) ISR() {
	if !p.Enabled() {
		return
	}
	if p.periph.Status(EventTxEmpty) {
		p.periph.DisableIRQ(EventTxEmpty)
	}
	if p.periph.Status(EventRxNotEmpty) {
		p.periph.DisableIRQ(EventRxNotEmpty)
	} else {
		p.periph.ClearPending(EventRxNotEmpty)
	}
	// Coalesced wake: a full channel already guarantees a service pass.
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
