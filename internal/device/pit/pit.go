// Package pit implements the Programmable Interval Timer driver (§4.13):
// channel-0 programming and the IRQ0 tick counter that drives preemption.
package pit

import "github.com/icarius-os/icarius/internal/bootcfg"

// Ports the driver writes (§4.13).
const (
	DataPortChannel0    uint16 = 0x40
	ModeCommandRegister uint16 = 0x43
)

// Command-byte fields (bits 0, 1-3, 4-5, 6-7 respectively). Configure takes
// the merged byte directly rather than these four pieces separately, so a
// caller can select any channel/access/operating mode combination the chip
// supports, not just the boot-time channel-0 square-wave setup.
const (
	BinaryMode    byte = 0b00000000 // bit 0: 16-bit binary counter
	OperatingMode byte = 0b00000110 // bits 1-3: mode 3, square wave generator
	AccessMode    byte = 0b00110000 // bits 4-5: lo/hi byte access
	Channel0      byte = 0b00000000 // bits 6-7: channel 0

	// DefaultCommand is the command byte the boot sequence programs
	// channel 0 with: 16-bit binary, mode 3, lo/hi access, channel 0.
	DefaultCommand = Channel0 | AccessMode | OperatingMode | BinaryMode
)

// Ports is the narrow machine surface the driver needs.
type Ports interface {
	Out8(port uint16, v uint8)
}

// Driver owns the PIT's tick counter, incremented from IRQ0 (§4.13, §4.11
// "the timer IRQ0 handler ... calls scheduler.yield").
type Driver struct {
	ticks uint64
	hz    uint32
}

// New builds a driver and programs channel 0 at hz via DefaultCommand,
// mirroring timer_init's fixed command byte.
func New(p Ports, hz uint32) *Driver {
	d := &Driver{}
	d.Configure(p, DefaultCommand, hz)
	return d
}

// Configure writes command to the mode/command register and the divisor
// (PITDivisorBase/hz) lo-byte then hi-byte to the channel's data port
// (§4.13; timer_init's exact outb sequence). Any command byte is accepted,
// not just DefaultCommand, so a caller can reprogram a different channel or
// access mode.
func (d *Driver) Configure(p Ports, command byte, hz uint32) {
	d.hz = hz
	divisor := bootcfg.PITDivisorBase / hz
	p.Out8(ModeCommandRegister, command)
	p.Out8(DataPortChannel0, uint8(divisor&0xFF))
	p.Out8(DataPortChannel0, uint8((divisor>>8)&0xFF))
}

// Tick increments the tick counter; the IRQ0 handler calls this once per
// interrupt before deciding whether to reschedule.
func (d *Driver) Tick() uint64 {
	d.ticks++
	return d.ticks
}

// Ticks returns the number of IRQ0 interrupts observed since New;
// Configure does not reset the counter.
func (d *Driver) Ticks() uint64 { return d.ticks }

// Hz returns the configured interrupt frequency.
func (d *Driver) Hz() uint32 { return d.hz }
