// Package bootcfg centralizes the tunable constants §2-§4 of the
// specification name, the way biscuit's limits.Syslimit_t centralizes
// system-wide resource limits in one struct instead of scattering magic
// numbers through each subsystem.
package bootcfg

const (
	// PageSize is a physical/virtual page: 4096 bytes (§4.2, GLOSSARY).
	PageSize = 4096

	// PseSize is a PSE (4 MiB) page, the unit the kernel directory and
	// kernel heap expand by.
	PseSize = 4 * 1024 * 1024

	// MaxFrames bounds the PFA bitmap: 4 GiB of physical address space
	// divided into 4 KiB frames (§4.1).
	MaxFrames = 0x100000000 / PageSize

	// KernelHeapStart is the virtual address the kernel heap arena grows
	// from (within the 0xC0000000-0xC2FFFFFF kernel window, §3).
	KernelHeapStart = 0xC1000000

	// MinBlockSize is the smallest heap block the allocator will produce
	// after a split (§4.3).
	MinBlockSize = 32

	// HeapAlignment is the byte alignment every heap allocation is
	// rounded up to (§4.3).
	HeapAlignment = 8

	// MaxTasks is the maximum number of tasks per process (§3 Process).
	MaxTasks = 16

	// MaxProcesses bounds the process table.
	MaxProcesses = 64

	// MaxFilesystems bounds the VFS filesystem-vtable table (§4.8).
	MaxFilesystems = 8

	// MaxOpenFiles bounds the global file-descriptor table (§3).
	MaxOpenFiles = 512

	// MaxSyscall bounds the syscall dispatch table (§4.12).
	MaxSyscall = 256

	// UserCodeStart is the virtual address user code/bss is loaded at.
	UserCodeStart = 0x00000000
	// UserCodeEnd is the end of the user code+bss window (1 GiB).
	UserCodeEnd = 0x3FFFFFFF
	// UserHeapStart is the lowest address of user heap (grows up).
	UserHeapStart = 0x40000000
	// UserHeapEnd is the highest address of user heap.
	UserHeapEnd = 0xBFBFFFFF
	// UserStackStart is the lowest address of the per-process stack slice
	// region (grows down from UserStackEnd).
	UserStackStart = 0xBFC00000
	// UserStackEnd is the top of the user address space.
	UserStackEnd = 0xBFFFFFFF
	// UserStackSize is the total stack region shared by all tasks of a
	// process; each task receives UserStackSize/MaxTasks (§4.10).
	UserStackSize = UserStackEnd - UserStackStart + 1

	// KernelVirtualStart is the boundary the syscall layer rejects user
	// pointers at or above (§4.12, §3).
	KernelVirtualStart = 0xC0000000

	// FramebufferVirtualStart is the MMIO window for the linear
	// framebuffer (§3).
	FramebufferVirtualStart = 0xE0000000

	// DefaultTimerHz is the PIT IRQ0 rate used to program the scheduler
	// tick (§4.13).
	DefaultTimerHz = 100

	// PITDivisorBase is the PIT input clock frequency in Hz, used to
	// compute the channel-0 reload value: divisor = PITDivisorBase / hz.
	PITDivisorBase = 1193180

	// ATASectorSize is the fixed PIO sector size (§4.5).
	ATASectorSize = 512

	// PartitionOffsetBytes is the fixed byte offset of the FAT16
	// partition on the ATA master disk (§6).
	PartitionOffsetBytes = 0x100000

	// KeyboardFIFOSize and MouseFIFOSize must be powers of two (§4.4).
	KeyboardFIFOSize = 256
	MouseFIFOSize    = 64

	// GDT selectors (§2 "GDT + TSS", §4.10): flat segmentation, one code
	// and one data descriptor per privilege level plus the TSS. The
	// ring-3 selectors carry RPL 3 in their low two bits at the point a
	// register frame is seeded (CS = UserCS|3), not baked into the
	// constant itself, matching how a real seed_registers call ORs the
	// RPL on.
	KernelCS = 0x08
	KernelDS = 0x10
	UserCS   = 0x18
	UserDS   = 0x20
	TSSSel   = 0x28

	// KernelStackSize is the size of a kernel thread's heap-allocated
	// stack (§4.10: "stack is a heap-allocated 4 KiB region").
	KernelStackSize = 4096

	// UserEFlags / KernelEFlags seed a fresh task's register frame
	// (§4.10): bit 9 is IF in both; KernelEFlags also sets reserved bit 1,
	// UserEFlags leaves it clear.
	UserEFlags   = 0x200
	KernelEFlags = 0x202

	// AtaPrimaryBase / AtaPrimaryControl are the conventional primary-
	// channel ATA PIO ports bring-up programs the disk driver with
	// (§4.5; ata.go's New doc comment).
	AtaPrimaryBase    = 0x1F0
	AtaPrimaryControl = 0x3F6

	// KernelImagePhysBase/KernelImageWindowSize bound the physical frames
	// bring-up reserves for the kernel image (§7 "kernel image
	// overflowing its reserved 16 MiB window"). This module has no
	// linker script to read real section boundaries from, so the
	// reservation is a fixed window at the conventional 1 MiB mark
	// rather than linker symbols (kernel.c's _text_start.._bss_end via
	// KERNEL_PHYS_BASE/KERNEL_PHYS_END).
	KernelImagePhysBase   = 0x00100000
	KernelImageWindowSize = 16 * 1024 * 1024

	// IdleEntry is the nominal EIP the always-resident idle kernel task
	// is seeded with (§4.11). No Go-level instruction fetch ever reads
	// this back — the simulated scheduler treats a task's Registers as
	// the live CPU state directly — so it is a symbolic kernel-space
	// address in the same convention task package tests already use.
	IdleEntry = KernelVirtualStart + 0x00100000
)
