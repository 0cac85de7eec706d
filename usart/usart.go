// Package usart provides a buffered, interrupt-driven serial driver that
// multiplexes up to six U(S)ART channels behind a uniform byte/line API.
// All buffer storage is carved from a single arena at Init time; nothing is
// allocated afterwards. Interrupt handlers never touch the buffers directly:
// they disable their own interrupt source and wake a single service loop,
// which moves bytes between the hardware and the per-port ring buffers.
// Application code and the service loop serialise buffer access through
// per-buffer guards with a bounded acquisition wait.
package usart

import (
	"errors"
	"fmt"
	"time"
)

// NumPorts is the number of U(S)ART channels the driver supports.
const NumPorts = 6

// PortID identifies a physical U(S)ART. IDs match the device numbering;
// the registry index is always id-1.
type PortID uint8

const (
	USART1 PortID = iota + 1
	USART2
	USART3
	UART4
	UART5
	USART6
)

// Event identifies a hardware condition a peripheral can report and
// interrupt on.
type Event uint8

const (
	// EventTxEmpty: the transmit data register is empty and can accept a byte.
	EventTxEmpty Event = iota
	// EventRxNotEmpty: the receive data register holds an unread byte.
	EventRxNotEmpty
)

// Periph is the surface the driver needs from a configured U(S)ART
// peripheral. Pin, clock and interrupt-controller setup happen elsewhere;
// once a port is enabled its Periph must be live and must raise the
// corresponding interrupt on each hardware condition.
type Periph interface {
	// Status reports whether the hardware condition for e is currently set.
	Status(e Event) bool
	// Send hands one byte to the transmit data register.
	Send(b byte)
	// Receive reads one byte from the receive data register.
	Receive() byte
	// EnableIRQ and DisableIRQ gate the interrupt source for e.
	EnableIRQ(e Event)
	DisableIRQ(e Event)
	// ClearPending clears a spurious pending flag for e without
	// servicing it.
	ClearPending(e Event)
}

const (
	// DefaultArenaSize is the arena capacity used when Config.ArenaSize
	// is zero. The arena is the main determinant of the driver's RAM use.
	DefaultArenaSize = 2048

	// DefaultGuardTimeout bounds how long an operation waits for a
	// buffer guard before giving up.
	DefaultGuardTimeout = 10 * time.Millisecond

	lineTerminator = '\n'
)

var (
	// ErrBufferEmpty is returned by ReadByte when no data is buffered.
	ErrBufferEmpty = errors.New("usart: buffer empty")

	// ErrPortDisabled is returned for operations on a port that was not
	// enabled at Init.
	ErrPortDisabled = errors.New("usart: port not enabled")

	// ErrGuardTimeout is returned when a buffer guard could not be
	// acquired within the bounded wait.
	ErrGuardTimeout = errors.New("usart: buffer guard timeout")

	// ErrArenaExhausted is returned by Init when the requested buffer
	// capacities exceed the arena.
	ErrArenaExhausted = errors.New("usart: arena exhausted")

	// ErrMissingPeriph is returned by Init when an enabled port has no
	// peripheral handle.
	ErrMissingPeriph = errors.New("usart: enabled port has no peripheral")

	// ErrBufferSize is returned by Init when an enabled port requests a
	// zero or negative buffer capacity.
	ErrBufferSize = errors.New("usart: invalid buffer size")
)

// PortConfig describes one U(S)ART channel to Init.
type PortConfig struct {
	// Enable activates the port. Disabled ports accept API calls but
	// return zero/empty results.
	Enable bool

	// Periph is the hardware handle for the port. Required when Enable
	// is set.
	Periph Periph

	// TxBufferSize and RxBufferSize are the ring buffer capacities in
	// bytes, allocated from the arena.
	TxBufferSize int
	RxBufferSize int
}

// Config carries the whole-driver configuration for Init.
type Config struct {
	// ArenaSize is the total buffer arena capacity in bytes.
	// Zero selects DefaultArenaSize.
	ArenaSize int

	// GuardTimeout is the bounded wait for buffer guard acquisition.
	// Zero selects DefaultGuardTimeout.
	GuardTimeout time.Duration

	// Ports holds the per-channel configuration, indexed by id-1.
	Ports [NumPorts]PortConfig
}

// Port returns the configuration slot for id, so callers can write
// cfg.Port(usart.USART2).Enable = true rather than index arithmetic.
func (c *Config) Port(id PortID) *PortConfig {
	return &c.Ports[id-1]
}

// Init validates cfg, carves all ring buffers from the arena and activates
// the enabled ports. It fails atomically: on error no port is activated and
// no interrupt source is touched. On success the caller owns scheduling of
// the returned driver's service loop, typically `go drv.Run(ctx)`.
func Init(cfg Config) (*Driver, error) {
	arenaSize := cfg.ArenaSize
	if arenaSize == 0 {
		arenaSize = DefaultArenaSize
	}
	timeout := cfg.GuardTimeout
	if timeout == 0 {
		timeout = DefaultGuardTimeout
	}

	// Validate everything up front so a failure cannot leave a subset of
	// ports activated.
	total := 0
	for i := range cfg.Ports {
		pc := &cfg.Ports[i]
		if !pc.Enable {
			continue
		}
		if pc.Periph == nil {
			return nil, fmt.Errorf("usart%d: %w", i+1, ErrMissingPeriph)
		}
		if pc.TxBufferSize <= 0 || pc.RxBufferSize <= 0 {
			return nil, fmt.Errorf("usart%d: %w", i+1, ErrBufferSize)
		}
		total += pc.TxBufferSize + pc.RxBufferSize
	}
	if total > arenaSize {
		return nil, fmt.Errorf("requested %d buffer bytes from a %d byte arena: %w",
			total, arenaSize, ErrArenaExhausted)
	}

	d := &Driver{
		arena: newArena(arenaSize),
		wake:  make(chan struct{}, 1),
	}
	for i := range cfg.Ports {
		pc := &cfg.Ports[i]
		if !pc.Enable {
			continue
		}
		tx, err := newBuffer(d.arena, pc.TxBufferSize, timeout)
		if err != nil {
			return nil, fmt.Errorf("usart%d tx: %w", i+1, err)
		}
		rx, err := newBuffer(d.arena, pc.RxBufferSize, timeout)
		if err != nil {
			return nil, fmt.Errorf("usart%d rx: %w", i+1, err)
		}
		d.ports[i] = Port{
			periph:  pc.Periph,
			enabled: true,
			tx:      tx,
			rx:      rx,
			wake:    d.wake,
		}
		// Receive interrupts are live from the start; transmit
		// interrupts are enabled by the write path when there is data.
		pc.Periph.EnableIRQ(EventRxNotEmpty)
	}
	return d, nil
}
