// Package ps2 implements the 8042 PS/2 controller protocol (§4.13) shared
// by the keyboard (IRQ1) and mouse (IRQ12): polled send/receive through the
// status/data ports, and the fixed-batch dispatch loop an IRQ handler uses
// to drain its device's FIFO without looping forever under a flood.
package ps2

import "github.com/icarius-os/icarius/internal/fifo"

// Ports the controller is programmed through (§4.13).
const (
	DataPort          uint16 = 0x60
	StatusCommandPort uint16 = 0x64
)

// Status register bits polled by Send/Receive: bit 0 is output-buffer-full
// (a byte is waiting to be read), bit 1 is input-buffer-full (the
// controller hasn't yet consumed the last byte written to it).
const (
	BufferOutputFull byte = 0b00000001
	BufferInputFull  byte = 0b00000010
)

// PackageDispatch bounds how many queued bytes Dispatch drains in one call,
// so an IRQ-fed FIFO flooded faster than its consumer can't starve every
// other interrupt source (§4.13; ps2_dispatch's package-count bound).
const PackageDispatch = 16

// Ports is the narrow machine surface the controller needs.
type Ports interface {
	In8(port uint16) uint8
	Out8(port uint16, v uint8)
}

// Send writes byte to port, first polling the status register until the
// input buffer is clear (§4.13; ps2_send).
func Send(p Ports, port uint16, b byte) {
	for p.In8(StatusCommandPort)&BufferInputFull != 0 {
	}
	p.Out8(port, b)
}

// Receive polls the status register until a byte is available and returns
// it from the data port (§4.13; ps2_receive).
func Receive(p Ports) byte {
	for p.In8(StatusCommandPort)&BufferOutputFull == 0 {
	}
	return p.In8(DataPort)
}

// Dispatch drains up to PackageDispatch bytes from f, calling handler for
// each, mirroring ps2_dispatch's bounded loop (§4.13).
func Dispatch(f *fifo.FIFO, handler func(byte)) {
	for packages := 0; packages < PackageDispatch; packages++ {
		b, ok := f.Dequeue()
		if !ok {
			return
		}
		handler(b)
	}
}
