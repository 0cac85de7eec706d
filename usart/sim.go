package usart

import "sync"

// SimPeriph is an in-memory Periph for host builds. It models the two
// hardware conditions the driver cares about: the transmit register is
// always ready (an infinite sink), and receive-not-empty follows an
// injectable pending queue. Interrupt delivery is modelled by invoking the
// bound handler whenever an enabled event's condition holds, mirroring a
// level-triggered interrupt line.
type SimPeriph struct {
	mu      sync.Mutex
	pending []byte // bytes "on the wire" towards us, not yet in the data register sense
	sent    []byte // bytes handed to Send, oldest first
	irq     [2]bool

	isr func()

	// OnSend, when set, observes every transmitted byte. It runs outside
	// the simulator's lock, so it may safely Inject into another
	// SimPeriph (loopback wiring).
	OnSend func(b byte)
}

func NewSimPeriph() *SimPeriph {
	return &SimPeriph{}
}

// Bind registers the interrupt handler, normally the owning Port's ISR.
func (s *SimPeriph) Bind(isr func()) {
	s.mu.Lock()
	s.isr = isr
	s.mu.Unlock()
}

// Inject queues data on the simulated wire and raises the receive
// interrupt if it is enabled.
func (s *SimPeriph) Inject(data []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, data...)
	fire := s.irq[EventRxNotEmpty] && len(s.pending) > 0
	isr := s.isr
	s.mu.Unlock()
	if fire && isr != nil {
		isr()
	}
}

// Output returns a copy of everything transmitted so far.
func (s *SimPeriph) Output() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *SimPeriph) Status(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e {
	case EventTxEmpty:
		return true
	case EventRxNotEmpty:
		return len(s.pending) > 0
	}
	return false
}

func (s *SimPeriph) Send(b byte) {
	s.mu.Lock()
	s.sent = append(s.sent, b)
	onSend := s.OnSend
	// Send empties the transmit register immediately, so an enabled
	// transmit interrupt fires again straight away.
	fire := s.irq[EventTxEmpty]
	isr := s.isr
	s.mu.Unlock()
	if onSend != nil {
		onSend(b)
	}
	if fire && isr != nil {
		isr()
	}
}

func (s *SimPeriph) Receive() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return 0
	}
	b := s.pending[0]
	s.pending = s.pending[1:]
	return b
}

func (s *SimPeriph) EnableIRQ(e Event) {
	s.mu.Lock()
	s.irq[e] = true
	fire := s.conditionLocked(e)
	isr := s.isr
	s.mu.Unlock()
	if fire && isr != nil {
		isr()
	}
}

func (s *SimPeriph) DisableIRQ(e Event) {
	s.mu.Lock()
	s.irq[e] = false
	s.mu.Unlock()
}

func (s *SimPeriph) ClearPending(Event) {
	// Level-modelled conditions; nothing latched to clear.
}

func (s *SimPeriph) conditionLocked(e Event) bool {
	switch e {
	case EventTxEmpty:
		return true
	case EventRxNotEmpty:
		return len(s.pending) > 0
	}
	return false
}

// irqEnabled reports the interrupt gate state; used by tests to verify the
// enable/disable protocol.
func (s *SimPeriph) irqEnabled(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.irq[e]
}
