package usart

import (
	"time"

	"tinygo.org/x/drivers"
)

// Serial adapts a Port to the drivers.UART interface (io.Reader, io.Writer,
// Buffered), so a channel can be handed to any TinyGo device driver that
// speaks serial. Reads keep the port's non-blocking semantics; writes
// larger than the transmit buffer are split into capacity-sized chunks.
// ReadByte and WriteByte are provided on the concrete type for drivers
// that want byte granularity.
type Serial struct {
	port *Port
}

var _ drivers.UART = (*Serial)(nil)

// Serial returns the drivers.UART adapter for id.
func (d *Driver) Serial(id PortID) *Serial {
	return &Serial{port: d.Port(id)}
}

func (s *Serial) Buffered() int {
	return s.port.BytesAvailable()
}

func (s *Serial) ReadByte() (byte, error) {
	return s.port.ReadByte()
}

func (s *Serial) Read(p []byte) (int, error) {
	return s.port.ReadBytes(p), nil
}

func (s *Serial) WriteByte(c byte) error {
	return s.port.WriteByte(c)
}

// Write queues p, splitting it into transmit-buffer-sized chunks and
// waiting for queue room between chunks so a large write never overwrites
// data it queued earlier. It relies on the driver's service loop running;
// without it a write larger than the free queue space will not complete.
func (s *Serial) Write(p []byte) (int, error) {
	if !s.port.Enabled() {
		return 0, ErrPortDisabled
	}
	written := 0
	for written < len(p) {
		chunk := p[written:]
		if len(chunk) > s.port.tx.length {
			chunk = chunk[:s.port.tx.length]
		}
		if err := s.awaitRoom(len(chunk)); err != nil {
			return written, err
		}
		if s.port.WriteBytes(chunk) == 0 {
			return written, ErrGuardTimeout
		}
		written += len(chunk)
	}
	return written, nil
}

// awaitRoom polls until the transmit queue has space for n more bytes.
// The fill level is read under an explicit guard acquisition: available()
// reports 0 both for an empty queue and for a guard timeout, and the
// latter must not admit a chunk.
func (s *Serial) awaitRoom(n int) error {
	for {
		if !s.port.tx.acquire() {
			return ErrGuardTimeout
		}
		room := s.port.tx.length - s.port.tx.fillLevel
		s.port.tx.release()
		if room >= n {
			return nil
		}
		time.Sleep(50 * time.Microsecond)
	}
}
