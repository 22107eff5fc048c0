// Package idt implements the Interrupt Descriptor Table (§4.14): a
// 256-entry vector table, the fixed exception handlers 0..31 (print a
// diagnostic and halt), the syscall gate at vector 0x80, and a default
// handler for every other entry.
//
// There is no real lidt/interrupt-gate byte layout here, unlike idt.c's
// packed IDTDescriptor: this kernel's simulated CPU dispatches a vector by
// calling straight into Go (the same reason internal/syscall's dispatch
// table is a plain Go array of Handler funcs rather than a byte-encoded
// ABI), so a literal descriptor encoding would have no reader. Table plays
// the role idt_init/idt_set play, minus the bytes nothing in this module
// would ever fetch back out.
package idt

import (
	"github.com/icarius-os/icarius/internal/klog"
	"github.com/icarius-os/icarius/internal/task"
)

// NumVectors is the IDT size (§4.14 "256 entries").
const NumVectors = 256

// SyscallVector is the int 0x80 gate (§4.12, §4.14; DPL=3).
const SyscallVector = 0x80

// IRQVectorBase/IRQVectorEnd are the remapped IRQ0..15 range (§4.14
// "IRQs 0x20..0x2F map to device-specific handlers").
const (
	IRQVectorBase = 0x20
	IRQVectorEnd  = 0x2F
)

// PageFaultVector is called out separately from the other exceptions
// (§4.14 "page fault... is a designated future growth point for demand
// paging"): same diagnostic-and-halt behavior today, but its own Handler
// slot so a later demand-paging implementation replaces just this one
// entry instead of threading a special case through the generic loop.
const PageFaultVector = 14

// messages are the per-vector diagnostic strings for exceptions 0..31 and
// IRQs 0x20..0x2F (§4.14), grounded on idt.c's interrupt_messages table.
var messages = [...]string{
	"Division by Zero (INT 0)",
	"Debug Exception (INT 1)",
	"Non-Maskable Interrupt (NMI - INT 2)",
	"Breakpoint Exception (INT 3)",
	"Overflow (INT 4)",
	"BOUND Range Exceeded (INT 5)",
	"Invalid Opcode (INT 6)",
	"Device Not Available (INT 7)",
	"Double Fault (INT 8)",
	"Coprocessor Segment Overrun (INT 9)",
	"Invalid TSS (INT 10)",
	"Segment Not Present (INT 11)",
	"Stack-Segment Fault (INT 12)",
	"General Protection Fault (INT 13)",
	"Page Fault (INT 14)",
	"Reserved (INT 15)",
	"x87 Floating-Point Exception (INT 16)",
	"Alignment Check (INT 17)",
	"Machine Check (INT 18)",
	"SIMD Floating-Point Exception (INT 19)",
	"Virtualization Exception (INT 20)",
	"Control Protection Exception (INT 21)",
	"Reserved (INT 22)",
	"Reserved (INT 23)",
	"Reserved (INT 24)",
	"Reserved (INT 25)",
	"Reserved (INT 26)",
	"Reserved (INT 27)",
	"Reserved (INT 28)",
	"Reserved (INT 29)",
	"Security Exception (INT 30)",
	"Reserved (INT 31)",
	"Timer (IRQ0)",
	"Keyboard (IRQ1)",
	"Cascade (IRQ2)",
	"COM2 (IRQ3)",
	"COM1 (IRQ4)",
	"LPT2 (IRQ5)",
	"Floppy (IRQ6)",
	"LPT1 (IRQ7)",
	"CMOS RTC (IRQ8)",
	"Free (IRQ9)",
	"Free (IRQ10)",
	"Free (IRQ11)",
	"PS2 Mouse (IRQ12)",
	"FPU / Coprocessor / Inter-Processor (IRQ13)",
	"Primary ATA Hard Disk (IRQ14)",
	"Secondary ATA Hard Disk (IRQ15)",
}

// Message returns the diagnostic string for vector, or a generic fallback
// for vectors outside the named table.
func Message(vector int) string {
	if vector >= 0 && vector < len(messages) {
		return messages[vector]
	}
	return "Unknown interrupt"
}

// Handler services one vector given the task whose frame was captured at
// entry (§4.14, §4.10 Frame).
type Handler func(t *task.Task)

// Table is the 256-entry dispatch table (§4.14).
type Table struct {
	handlers    [NumVectors]Handler
	irqDispatch func(line int)
}

// New builds a Table with every exception vector (0..31) wired to the
// diagnostic-and-halt handler and everything else left to the default
// (no-op) behavior until Register/RegisterIRQRange wire real handlers in.
func New() *Table {
	tb := &Table{}
	for v := 0; v < 32; v++ {
		tb.handlers[v] = exceptionHandler(v)
	}
	tb.handlers[PageFaultVector] = pageFaultHandler
	return tb
}

// Register installs h at vector, overriding whatever was there (used for
// the syscall gate and, in tests, to observe exception dispatch without
// actually halting).
func (tb *Table) Register(vector int, h Handler) {
	tb.handlers[vector] = h
}

// RegisterIRQRange wires the IRQ0..15 vectors (0x20..0x2F) to dispatch,
// the irq package's Table.Dispatch, which is itself the "default handler
// that sends EOI" §4.14 describes for every IRQ line regardless of
// whether a device driver is registered on it.
func (tb *Table) RegisterIRQRange(dispatch func(line int)) {
	tb.irqDispatch = dispatch
}

// Dispatch runs vector's handler against t. Vectors in the IRQ range with
// no handler registered via Register fall through to the IRQ dispatcher
// installed by RegisterIRQRange; any other unregistered vector is the
// default handler, a no-op, matching "all other entries go to a default
// handler that sends EOI and returns" once no device claims the vector
// (there is nothing to acknowledge for a vector the PIC never raised).
func (tb *Table) Dispatch(vector int, t *task.Task) {
	if h := tb.handlers[vector]; h != nil {
		h(t)
		return
	}
	if vector >= IRQVectorBase && vector <= IRQVectorEnd && tb.irqDispatch != nil {
		tb.irqDispatch(vector - IRQVectorBase)
		return
	}
}

// exceptionHandler returns the fixed diagnostic-and-halt handler for a
// CPU exception vector (§4.14, §7 "Exceptions 0..31 are not recoverable:
// the handler prints CPU state and panics").
func exceptionHandler(vector int) Handler {
	return func(t *task.Task) {
		panicFrame(vector, t)
	}
}

// pageFaultHandler is exception 14's own slot (see PageFaultVector):
// today it behaves exactly like any other exception, but a later
// demand-paging implementation replaces only this function.
func pageFaultHandler(t *task.Task) {
	panicFrame(PageFaultVector, t)
}

func panicFrame(vector int, t *task.Task) {
	pid := -1
	if t != nil && t.Process != nil {
		pid = t.Process.ID
	}
	r := task.Frame{}
	if t != nil {
		r = t.Registers
	}
	klog.Panic("idt: %s eip=0x%x cs=0x%x eflags=0x%x esp=0x%x pid=%d",
		Message(vector), r.EIP, r.CS, r.EFlags, r.UserESP, pid)
}
