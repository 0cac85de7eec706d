//go:build stm32f4

package usart

import "device/stm32"

// STM32Periph binds a port to an STM32F4 U(S)ART peripheral block. It
// covers only the status/data/interrupt-mask surface the service loop
// needs; pin muxing, clock enables and NVIC priorities stay with the board
// setup code, which must have run before the port is enabled.
type STM32Periph struct {
	Bus *stm32.USART_Type
}

func (h *STM32Periph) Status(e Event) bool {
	switch e {
	case EventTxEmpty:
		return h.Bus.SR.HasBits(stm32.USART_SR_TXE)
	case EventRxNotEmpty:
		return h.Bus.SR.HasBits(stm32.USART_SR_RXNE)
	}
	return false
}

func (h *STM32Periph) Send(b byte) {
	h.Bus.DR.Set(uint32(b))
}

func (h *STM32Periph) Receive() byte {
	return byte(h.Bus.DR.Get())
}

func (h *STM32Periph) EnableIRQ(e Event) {
	h.Bus.CR1.SetBits(irqMask(e))
}

func (h *STM32Periph) DisableIRQ(e Event) {
	h.Bus.CR1.ClearBits(irqMask(e))
}

func (h *STM32Periph) ClearPending(e Event) {
	if e == EventRxNotEmpty {
		// RXNE clears on a data register read.
		_ = h.Bus.DR.Get()
	}
}

func irqMask(e Event) uint32 {
	if e == EventTxEmpty {
		return stm32.USART_CR1_TXEIE
	}
	return stm32.USART_CR1_RXNEIE
}
