// Package host is a purely in-process simulation of the machine.Machine
// surface, grounded on biscuit's ufs/driver.go ahci_disk_t (a disk backed by
// a plain *os.File so filesystem code runs, untouched, in a regular Go
// process). Every _test.go file in this module imports host instead of
// talking to real ports; production (freestanding) builds would supply a
// different machine.Machine implementation, not shown here per spec.md's
// scope (bootloader handoff and MMIO details beyond the Multiboot2 info
// block are explicitly out of CORE scope).
package host

import (
	"sync"
	"sync/atomic"

	"github.com/icarius-os/icarius/internal/klog"
)

// PortDevice is implemented by a simulated device attached to one or more
// I/O ports (ATA, PIT, PS/2 controller, CMOS, PIC).
type PortDevice interface {
	In8(port uint16) uint8
	Out8(port uint16, v uint8)
}

// PortDevice16 is implemented by devices that also serve 16-bit transfers
// (the ATA data register, read/written a word at a time per §4.5).
type PortDevice16 interface {
	In16(port uint16) uint16
	Out16(port uint16, v uint16)
}

// PortDevice32 is implemented by devices that serve 32-bit transfers (the
// PCI configuration address/data port pair, §4.13 — pci_read16/write16
// issue a single dword outl/inl and then slice the 16-bit field out of it).
type PortDevice32 interface {
	In32(port uint16) uint32
	Out32(port uint16, v uint32)
}

// Machine is the simulated implementation of machine.Machine.
type Machine struct {
	mu   sync.Mutex
	ram  []byte
	cr3  uint32
	gdt  struct{ base uint32; limit uint16 }
	idt  struct{ base uint32; limit uint16 }
	tss  uint16
	intr bool

	ports map[uint16]PortDevice
}

// New creates a simulated machine with ramSize bytes of physical RAM,
// zero-initialized (the bring-up code is responsible for marking used
// frames, §4.1).
func New(ramSize uint32) *Machine {
	return &Machine{
		ram:   make([]byte, ramSize),
		ports: make(map[uint16]PortDevice),
	}
}

// RegisterPort attaches dev to port; a single port may only have one
// device, mirroring real hardware where a port address uniquely names a
// device register.
func (m *Machine) RegisterPort(port uint16, dev PortDevice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ports[port] = dev
}

// RegisterPortRange attaches dev to every port in [start, start+n).
func (m *Machine) RegisterPortRange(start uint16, n int, dev PortDevice) {
	for i := 0; i < n; i++ {
		m.RegisterPort(start+uint16(i), dev)
	}
}

func (m *Machine) deviceAt(port uint16) PortDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ports[port]
}

// In8 implements machine.Ports.
func (m *Machine) In8(port uint16) uint8 {
	if d := m.deviceAt(port); d != nil {
		return d.In8(port)
	}
	return 0xFF
}

// Out8 implements machine.Ports.
func (m *Machine) Out8(port uint16, v uint8) {
	if d := m.deviceAt(port); d != nil {
		d.Out8(port, v)
	}
}

// In16 implements machine.Ports.
func (m *Machine) In16(port uint16) uint16 {
	if d := m.deviceAt(port); d != nil {
		if d16, ok := d.(PortDevice16); ok {
			return d16.In16(port)
		}
		lo := d.In8(port)
		return uint16(lo)
	}
	return 0xFFFF
}

// Out16 implements machine.Ports.
func (m *Machine) Out16(port uint16, v uint16) {
	if d := m.deviceAt(port); d != nil {
		if d16, ok := d.(PortDevice16); ok {
			d16.Out16(port, v)
			return
		}
		d.Out8(port, uint8(v))
	}
}

// In32 reads a 32-bit value from port, for devices that register a
// PortDevice32 (PCI config data).
func (m *Machine) In32(port uint16) uint32 {
	if d := m.deviceAt(port); d != nil {
		if d32, ok := d.(PortDevice32); ok {
			return d32.In32(port)
		}
	}
	return 0xFFFFFFFF
}

// Out32 writes a 32-bit value to port.
func (m *Machine) Out32(port uint16, v uint32) {
	if d := m.deviceAt(port); d != nil {
		if d32, ok := d.(PortDevice32); ok {
			d32.Out32(port, v)
		}
	}
}

// DisableInterrupts implements machine.CPU.
func (m *Machine) DisableInterrupts() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.intr
	m.intr = false
	return was
}

// RestoreInterrupts implements machine.CPU.
func (m *Machine) RestoreInterrupts(enable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intr = enable
}

// InterruptsEnabled reports the simulated IF flag, for tests asserting that
// a critical section disabled interrupts (§5).
func (m *Machine) InterruptsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intr
}

// Halt implements machine.CPU as a no-op: the simulation has no real idle
// loop to suspend. Callers (the idle kernel thread) rely on the scheduler,
// not on Halt blocking, to yield control in tests.
func (m *Machine) Halt() {}

// LoadCR3 implements machine.CPU.
func (m *Machine) LoadCR3(phys uint32) { atomic.StoreUint32(&m.cr3, phys) }

// ReadCR3 implements machine.CPU.
func (m *Machine) ReadCR3() uint32 { return atomic.LoadUint32(&m.cr3) }

// InvalidatePage implements machine.CPU as a no-op (no TLB to model).
func (m *Machine) InvalidatePage(uint32) {}

// LoadGDT implements machine.CPU.
func (m *Machine) LoadGDT(base uint32, limit uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gdt.base, m.gdt.limit = base, limit
}

// LoadIDT implements machine.CPU.
func (m *Machine) LoadIDT(base uint32, limit uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idt.base, m.idt.limit = base, limit
}

// LoadTSS implements machine.CPU.
func (m *Machine) LoadTSS(selector uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tss = selector
}

// TSSSelector returns the most recently loaded TSS selector, for tests.
func (m *Machine) TSSSelector() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tss
}

// Xchg implements machine.CPU, the primitive internal/spinlock builds on.
func (m *Machine) Xchg(addr *uint32, newVal uint32) uint32 {
	return atomic.SwapUint32(addr, newVal)
}

// Size implements machine.RAM.
func (m *Machine) Size() uint32 { return uint32(len(m.ram)) }

// Bytes implements machine.RAM. It panics via klog.Panic on an out-of-range
// access: a kernel touching physical memory outside its reserved window is
// an unrecoverable invariant violation (§7), not a recoverable Errno.
func (m *Machine) Bytes(addr uint32, n uint32) []byte {
	if uint64(addr)+uint64(n) > uint64(len(m.ram)) {
		klog.Panic("machine: out-of-range physical access addr=0x%x n=%d ram=%d", addr, n, len(m.ram))
	}
	return m.ram[addr : addr+n]
}
