// Package irq implements PIC remapping and IRQ dispatch (§4.14): the
// 8259 init command word sequence that relocates IRQ0..15 to vectors
// 0x20..0x2F, and a 16-line dispatch table that sends exactly one EOI per
// entry regardless of whether a device driver is registered on that line
// (§8 "For every IRQ entry, exactly one EOI is emitted before returning").
package irq

import "github.com/icarius-os/icarius/internal/spinlock"

// PIC command/data ports and initialization bytes (§4.14), grounded on
// pic.c/pic.h's PIC_1_CTRL/PIC_1_DATA/PIC_2_CTRL/PIC_2_DATA/ICW_1/
// MODE_8086 and idt.c's PIC_ACK.
const (
	MasterCommand uint16 = 0x20
	MasterData    uint16 = 0x21
	SlaveCommand  uint16 = 0xA0
	SlaveData     uint16 = 0xA1

	icw1Init  byte = 0x11 // initialize, expect ICW4
	mode8086  byte = 0x01
	masterEOI byte = 0x20 // PIC_ACK
)

// VectorBase/SlaveVectorBase are where IRQ0..7 and IRQ8..15 land after
// Remap (§4.14; pic.c's IRQ_0=0x20, IRQ_8=0x28).
const (
	VectorBase      = 0x20
	SlaveVectorBase = 0x28
)

// Ports is the narrow machine surface the PIC needs: the port writes
// Remap/EOI issue, plus the xchg primitive Table.Dispatch's spinlock
// guards its critical section with (§5 names "PIC programming" as one of
// the critical sections that must not interleave with itself).
type Ports interface {
	Out8(port uint16, v uint8)
	spinlock.Xchger
}

// Remap reprograms both PICs so IRQ0..7 map to vectors 0x20..0x27 and
// IRQ8..15 map to 0x28..0x2F, cascading the slave off the master's IRQ2
// line (§4.14; pic_remap1/pic_remap2's exact ICW1-4 sequence). The real
// source never writes an OCW1 mask afterward, so this doesn't either:
// every line is left enabled, same as pic_init.
func Remap(p Ports) {
	p.Out8(MasterCommand, icw1Init)
	p.Out8(SlaveCommand, icw1Init)

	p.Out8(MasterData, VectorBase)
	p.Out8(SlaveData, SlaveVectorBase)

	p.Out8(MasterData, 0x04) // slave cascaded on master's IRQ2
	p.Out8(SlaveData, 0x02)  // slave's own cascade identity

	p.Out8(MasterData, mode8086)
	p.Out8(SlaveData, mode8086)
}

// EOI acknowledges IRQ line (0..15): lines 0..7 send EOI to the master
// only; lines 8..15 send EOI to both the slave and the master, since the
// master also sees the cascaded signal (§4.14).
func EOI(p Ports, line int) {
	if line >= 8 {
		p.Out8(SlaveCommand, masterEOI)
	}
	p.Out8(MasterCommand, masterEOI)
}

// Handler services one IRQ line's device work; EOI is sent by Table
// regardless of whether a Handler is registered.
type Handler func()

// Table dispatches IRQ lines 0..15 to registered device handlers.
type Table struct {
	p        Ports
	handlers [16]Handler
	lock     spinlock.Spinlock
}

// NewTable builds an IRQ dispatch table that sends EOI through p.
func NewTable(p Ports) *Table {
	return &Table{p: p}
}

// Register installs h on line (0..15), the PIT on line 0, the keyboard
// on line 1, the mouse on line 12, and so on (§4.13/§4.14).
func (t *Table) Register(line int, h Handler) {
	t.handlers[line] = h
}

// Dispatch runs line's registered handler, if any, and then sends exactly
// one EOI — the "default handler" behavior §4.14 describes for any IRQ
// line without a specific driver bound to it. The handler-plus-EOI
// sequence is wrapped in t.lock, the PIC-programming critical section §5
// names; on today's single-CPU kernel this only matters if a handler were
// to re-enter Dispatch itself, but it's the same primitive SMP dispatch
// off a second core would need to not step on the first core's EOI.
func (t *Table) Dispatch(line int) {
	t.lock.Acquire(t.p)
	defer t.lock.Release()

	if h := t.handlers[line]; h != nil {
		h()
	}
	EOI(t.p, line)
}
