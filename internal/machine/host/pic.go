package host

import "sync/atomic"

// Pic simulates both 8259 PICs far enough to observe irq.Remap's ICW
// sequence and irq.EOI's acknowledgment writes in tests: every Out8 is
// just logged per-port, since the simulation needs no actual interrupt
// delivery (Dispatch is driven directly in this module, not by a real
// asserted IRQ line).
type Pic struct {
	MasterWrites []byte
	SlaveWrites  []byte
	MasterEOIs   int
	SlaveEOIs    int
}

// NewPic builds an empty simulated PIC pair.
func NewPic() *Pic { return &Pic{} }

func (p *Pic) In8(port uint16) uint8 { return 0 }

// Xchg implements irq.Ports' spinlock.Xchger requirement, the same atomic
// exchange host.Machine provides for machine.CPU.
func (p *Pic) Xchg(addr *uint32, newVal uint32) uint32 {
	return atomic.SwapUint32(addr, newVal)
}

func (p *Pic) Out8(port uint16, v uint8) {
	switch port {
	case 0x20:
		if v == 0x20 {
			p.MasterEOIs++
		}
		p.MasterWrites = append(p.MasterWrites, v)
	case 0x21:
		p.MasterWrites = append(p.MasterWrites, v)
	case 0xA0:
		if v == 0x20 {
			p.SlaveEOIs++
		}
		p.SlaveWrites = append(p.SlaveWrites, v)
	case 0xA1:
		p.SlaveWrites = append(p.SlaveWrites, v)
	}
}
