// Package gdtseg implements the GDT + TSS layer (§2 "GDT + TSS": flat
// segmentation, ring-0 stack for ring-3->ring-0 traps): the fixed
// selector layout already named in bootcfg, and the TSS fields a
// ring-3->ring-0 transition actually consults.
package gdtseg

import (
	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/machine"
)

// entryCount is the flat segmentation layout's descriptor count: null,
// kernel code, kernel data, user code, user data, TSS (§2; gdt.c's
// gdt_entries[6] built by six gdt_set_entry calls).
const entryCount = 6
const entrySize = 8 // bytes per GDT descriptor, real hardware layout

// TSS models the handful of task-state-segment fields a ring-3->ring-0
// transition actually consults (§4.10, §4.14 glossary "TSS"): the kernel
// stack pointer and segment loaded on entry. tss.c's tss_t carries a full
// saved-register snapshot, but nothing in this kernel ever restores a
// ring transition from those fields — general-purpose register save and
// restore is task.Frame's job — so only esp0/ss0 are modeled, the same
// narrowing idt already applies to the packed IDTDescriptor layout.
type TSS struct {
	ESP0 uint32
	SS0  uint16
}

// SetKernelStack installs esp0 as the stack pointer loaded on the next
// ring-3->ring-0 transition, disabling interrupts around the update:
// §5 names "TSS update on ring transitions" as a critical section that
// must explicitly disable interrupts.
func (t *TSS) SetKernelStack(m machine.CPU, esp0 uint32) {
	was := m.DisableInterrupts()
	t.ESP0 = esp0
	t.SS0 = bootcfg.KernelDS
	m.RestoreInterrupts(was)
}

// Builder constructs the flat GDT + TSS selector layout and loads it
// into the machine.
type Builder struct {
	TSS *TSS
}

// New creates a Builder with a zeroed TSS; callers set the kernel stack
// with SetKernelStack once one is allocated (§4.10).
func New() *Builder {
	return &Builder{TSS: &TSS{}}
}

// Install loads the GDT and TSS selectors (§2, §4.10's KernelCS/
// KernelDS/UserCS/UserDS/TSSSel, already fixed in bootcfg). There is no
// literal packed gdt_entry_t table here, the same decision idt makes for
// IDTDescriptor: this kernel's simulated CPU never re-parses a
// descriptor's base/limit/access bytes back out of RAM, so only the
// selector values and the TSS's operationally meaningful fields are
// modeled; gdt_set_entry's bit-packing has no reader to be faithful to.
func (b *Builder) Install(m machine.CPU) {
	m.LoadGDT(0, entryCount*entrySize-1)
	m.LoadTSS(bootcfg.TSSSel)
}
