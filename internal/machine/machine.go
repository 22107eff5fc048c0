// Package machine defines the hardware surface the CORE kernel packages are
// written against: port I/O, flat physical RAM, the CR3 register, and PIC
// command registers. It plays the role biscuit's mem.Page_i and fs.Disk_i
// interfaces play for that kernel — a narrow seam that lets every higher
// layer's algorithm run unmodified against either real hardware (a
// freestanding build talking to actual I/O ports, not implemented in this
// repository) or the in-process simulation in machine/host (used by every
// _test.go file in this module, exactly as biscuit's ufs package runs FAT
// logic against a file-backed ahci_disk_t).
package machine

// Ports abstracts inb/outb/inw/outw, the only way the spec's drivers (ATA,
// PIT, PS/2, CMOS, PIC) talk to devices.
type Ports interface {
	In8(port uint16) uint8
	Out8(port uint16, v uint8)
	In16(port uint16) uint16
	Out16(port uint16, v uint16)
}

// CPU abstracts the handful of privileged instructions the boot/paging/gdt
// packages issue: disabling interrupts around critical sections (§5),
// loading CR3 on an address-space switch (§4.2), and halting when idle.
type CPU interface {
	// DisableInterrupts executes cli and returns whether interrupts were
	// previously enabled, so the caller can restore prior state.
	DisableInterrupts() (wasEnabled bool)
	// RestoreInterrupts executes sti iff enable is true.
	RestoreInterrupts(enable bool)
	// Halt executes hlt; it returns when the next interrupt fires.
	Halt()
	// LoadCR3 switches the active page directory's physical address.
	LoadCR3(physAddr uint32)
	// ReadCR3 returns the currently loaded page-directory physical
	// address.
	ReadCR3() uint32
	// InvalidatePage flushes a single TLB entry (invlpg).
	InvalidatePage(virtAddr uint32)
	// LoadGDT / LoadIDT install the GDT/IDT pointer (lgdt/lidt).
	LoadGDT(base uint32, limit uint16)
	LoadIDT(base uint32, limit uint16)
	// LoadTSS loads the task register (ltr) with a GDT selector.
	LoadTSS(selector uint16)
	// Xchg performs an atomic exchange, the primitive the spinlock
	// package builds on (§4, "Spinlock").
	Xchg(addr *uint32, newVal uint32) (old uint32)
}

// RAM abstracts flat physical memory as a byte array indexed by physical
// address, the substrate the PFA bitmap, page tables, and kernel heap are
// all built on top of.
type RAM interface {
	// Size returns the total addressable physical memory in bytes.
	Size() uint32
	// Bytes returns a slice view of [addr, addr+n) in physical RAM.
	// Callers must not retain the slice past the next RAM mutation that
	// could invalidate backing storage; the host implementation never
	// reallocates, so in practice slices remain valid for the process
	// lifetime.
	Bytes(addr uint32, n uint32) []byte
}

// Machine bundles the three surfaces a freestanding build would wire to
// real hardware; every CORE package that needs hardware access takes a
// Machine (or the narrower interface it actually uses) rather than reaching
// for globals, so tests can substitute machine/host's simulation.
type Machine interface {
	Ports
	CPU
	RAM
}
