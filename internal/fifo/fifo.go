// Package fifo implements the bounded circular byte buffer used by the
// interrupt-fed device queues (keyboard, mouse) to hand bytes from ISR
// context to whatever later drains them (§4.4). Capacity is rounded up to
// a power of two so index wraparound is a mask instead of a modulo.
package fifo

import "github.com/icarius-os/icarius/internal/kerr"

// FIFO is a fixed-capacity ring buffer. Not safe for concurrent use; the
// caller (an IRQ handler and its single consumer) supplies its own
// synchronization, same as the teacher's circular buffer is documented
// "not safe for concurrent use" and relies on its one daemon owner.
type FIFO struct {
	buf  []byte
	mask uint32
	head uint32 // next write index
	tail uint32 // next read index
}

func nextPow2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

// New creates a FIFO with capacity at least sz bytes.
func New(sz int) *FIFO {
	cap := nextPow2(uint32(sz))
	return &FIFO{buf: make([]byte, cap), mask: cap - 1}
}

// Cap returns the buffer's actual (power-of-two) capacity.
func (f *FIFO) Cap() int { return len(f.buf) }

// Used returns the number of queued bytes.
func (f *FIFO) Used() int { return int(f.head - f.tail) }

// Full reports whether the buffer cannot accept another byte.
func (f *FIFO) Full() bool { return f.Used() == len(f.buf) }

// Empty reports whether the buffer holds no bytes.
func (f *FIFO) Empty() bool { return f.head == f.tail }

// Enqueue appends a single byte, called from interrupt context (§4.13 IRQ1
// keyboard, IRQ12 mouse). Returns EAGAIN if the buffer is full: the byte is
// dropped rather than blocking an ISR.
func (f *FIFO) Enqueue(b byte) kerr.Errno {
	if f.Full() {
		return kerr.EAGAIN
	}
	f.buf[f.head&f.mask] = b
	f.head++
	return kerr.OK
}

// Dequeue removes and returns the oldest byte. ok is false if the buffer
// was empty.
func (f *FIFO) Dequeue() (b byte, ok bool) {
	if f.Empty() {
		return 0, false
	}
	b = f.buf[f.tail&f.mask]
	f.tail++
	return b, true
}

// Peek returns the oldest byte without removing it.
func (f *FIFO) Peek() (b byte, ok bool) {
	if f.Empty() {
		return 0, false
	}
	return f.buf[f.tail&f.mask], true
}

// Drain empties the buffer, discarding its contents.
func (f *FIFO) Drain() {
	f.head, f.tail = 0, 0
}
