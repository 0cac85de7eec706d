package usart

import "context"

// Driver owns the port registry and the shared wake signal. All interrupt
// sources funnel into the one signal; a wake therefore only means "at least
// one port needs service", and the loop rescans the whole table each time.
type Driver struct {
	arena *arena
	ports [NumPorts]Port
	wake  chan struct{}
}

// Port returns the channel for id, or nil when id is out of range. The
// returned port may be disabled; its methods then yield zero/empty results.
func (d *Driver) Port(id PortID) *Port {
	if id < USART1 || id > USART6 {
		return nil
	}
	return &d.ports[id-1]
}

// Notify wakes the service loop. It is safe from interrupt context: the
// send is non-blocking and a full channel already guarantees a pass.
// Port.ISR calls this implicitly; Notify is for exceptional callers such
// as diagnostics.
func (d *Driver) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run is the service loop. It blocks on the shared wake signal and, on
// each wake, services every enabled port once: bursts of interrupts across
// ports coalesce into a single pass, and worst-case service latency is
// bounded by one scan of the table. Run returns when ctx is done. It is
// intended to run on its own low-priority goroutine.
func (d *Driver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
			d.serviceAll()
		}
	}
}

func (d *Driver) serviceAll() {
	for i := range d.ports {
		d.ports[i].service()
	}
}

// service performs one hardware handshake cycle for the port.
func (p *Port) service() {
	if !p.enabled {
		return
	}
	if p.periph.Status(EventTxEmpty) {
		if b, ok := p.tx.pop(); ok {
			p.periph.Send(b)
			// More data may follow; keep transmit interrupts coming.
			p.periph.EnableIRQ(EventTxEmpty)
		} else {
			// Nothing to send until the next write re-enables it.
			p.periph.DisableIRQ(EventTxEmpty)
		}
	}
	if p.periph.Status(EventRxNotEmpty) {
		// push faults on guard starvation rather than dropping a byte
		// the hardware already handed over.
		p.rx.push(p.periph.Receive())
		// The interrupt entry disabled the source to stop re-entrant
		// floods; arm it again now the byte is buffered.
		p.periph.EnableIRQ(EventRxNotEmpty)
	}
}
