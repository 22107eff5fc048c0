// Package kernel wires every CORE subsystem into one running system: the
// bring-up order a freestanding build's kmain follows (§6 "Control Flow",
// §7 fatal-condition list), grounded on original_source/src/kernel.c's
// kmain — parse Multiboot2, build the frame allocator and kernel directory,
// stand up the heap, mount the VFS and its console sink, install the
// interrupt/GDT layer, bring up the ATA/FAT16 storage stack, program the
// timer and PS/2 devices, enumerate PCI, spawn the idle kernel task and the
// initial shell process, and hand back a running Kernel.
package kernel

import (
	"io"

	"github.com/icarius-os/icarius/internal/ata"
	"github.com/icarius-os/icarius/internal/boot"
	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/device/cmos"
	"github.com/icarius-os/icarius/internal/device/console"
	"github.com/icarius-os/icarius/internal/device/pci"
	"github.com/icarius-os/icarius/internal/device/pit"
	"github.com/icarius-os/icarius/internal/device/ps2"
	"github.com/icarius-os/icarius/internal/fat16"
	"github.com/icarius-os/icarius/internal/fifo"
	"github.com/icarius-os/icarius/internal/gdtseg"
	"github.com/icarius-os/icarius/internal/idt"
	"github.com/icarius-os/icarius/internal/irq"
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/kheap"
	"github.com/icarius-os/icarius/internal/klog"
	"github.com/icarius-os/icarius/internal/machine"
	"github.com/icarius-os/icarius/internal/paging"
	"github.com/icarius-os/icarius/internal/pfa"
	"github.com/icarius-os/icarius/internal/sched"
	"github.com/icarius-os/icarius/internal/syscall"
	"github.com/icarius-os/icarius/internal/task"
	"github.com/icarius-os/icarius/internal/vfs"
)

// Machine is the hardware surface bring-up needs: every CORE package's
// narrow machine.Machine, plus the 32-bit port transfers pci.Scan requires.
// machine.Machine itself has no In32/Out32 (only the PIO drivers that move
// 8/16-bit words need those), so this is kept as its own interface here
// rather than widening machine.Machine for the one consumer that needs
// dword transfers — the same narrow-interface-per-consumer convention pci.Ports
// and stream.BlockDevice already follow.
type Machine interface {
	machine.Machine
	In32(port uint16) uint32
	Out32(port uint16, v uint32)
}

// ShellImagePath is the flat binary bring-up loads as the initial
// foreground process (§6 "After kmain, the process list contains IDLE
// (pid 1) and ICARSH.BIN (pid 2)").
const ShellImagePath = "A:/ICARSH.BIN"

// Kernel bundles every subsystem Boot wires together, the running system's
// equivalent of kernel.c's file-scope extern globals (vbe_display, pfa,
// heap, kbd, mouse, timer, cmos, fifo_kbd, fifo_mouse, tss) collected into
// one addressable value instead of package-level state.
type Kernel struct {
	M    Machine
	Info *boot.Info

	PFA       *pfa.PFA
	KernelDir *paging.Dir
	Heap      *kheap.Heap

	VFS     *vfs.VFS
	FAT     *fat16.FS
	Console *console.Writer
	Cursor  *console.Cursor

	IDT *idt.Table
	IRQ *irq.Table
	GDT *gdtseg.Builder

	ATA *ata.Driver
	PIT *pit.Driver

	Keyboard     *ps2.Keyboard
	KeyboardFIFO *fifo.FIFO
	KeyboardFeed *console.KeyboardFeed

	Mouse           *ps2.Mouse
	MouseController *ps2.Controller

	Clock *cmos.Clock
	PCI   []pci.Function

	Sched    *sched.Scheduler
	Syscalls *syscall.Syscalls

	IdleProcess *task.Process
	IdleTask    *task.Task
	ShellProc   *task.Process
	ShellTask   *task.Task
}

// Boot runs the full bring-up sequence against a Multiboot2 handoff of
// magic/addr and a console sink, panicking on any of the named fatal
// conditions (§7), exactly as kmain has no error return and calls panic()
// directly on the same failures.
func Boot(m Machine, magic, addr uint32, consoleOut io.Writer) *Kernel {
	info := boot.Parse(m, magic, addr)

	frames := pfa.NewDefault()

	var fbStart, fbEnd uint32
	if info.Framebuffer != nil {
		fbStart = uint32(info.Framebuffer.Addr)
		fbSize := info.Framebuffer.Pitch * info.Framebuffer.Height
		if fbSize > 0 {
			fbEnd = fbStart + fbSize - 1
		}
	}
	kernelEnd := uint32(bootcfg.KernelImagePhysBase + bootcfg.KernelImageWindowSize - 1)
	boot.SeedPFA(frames, info.MemoryMap, bootcfg.KernelImagePhysBase, kernelEnd, fbStart, fbEnd)

	kernelDir, err := paging.BuildKernelDirectory(m, frames, fbStart)
	if err != kerr.OK {
		klog.Panic("kernel: failed to allocate kernel page directory: %v", err)
	}

	heap := kheap.New(m, frames, kernelDir)

	v := vfs.New()
	consoleWriter := console.New(consoleOut)
	if err := v.InstallFD(1, consoleWriter); err != kerr.OK {
		klog.Panic("kernel: failed to install console at fd=1: %v", err)
	}
	if err := v.InstallFD(2, consoleWriter); err != kerr.OK {
		klog.Panic("kernel: failed to install console at fd=2: %v", err)
	}
	cursor := console.NewCursor(m)

	idtTable := idt.New()
	irqTable := irq.NewTable(m)
	idtTable.RegisterIRQRange(irqTable.Dispatch)
	irq.Remap(m)

	gdt := gdtseg.New()
	gdt.Install(m)

	ataDriver, err := ata.New(m, bootcfg.AtaPrimaryBase, bootcfg.AtaPrimaryControl)
	if err != kerr.OK {
		klog.Panic("kernel: ATA IDENTIFY failed: %v", err)
	}
	fs, err := fat16.New(ataDriver, bootcfg.PartitionOffsetBytes)
	if err != kerr.OK {
		klog.Panic("kernel: FAT16 mount failed: %v", err)
	}
	if err := v.Mount('A', fs); err != kerr.OK {
		klog.Panic("kernel: failed to mount A: %v", err)
	}

	pitDriver := pit.New(m, bootcfg.DefaultTimerHz)

	kernelProc := &task.Process{ID: 1, Dir: kernelDir, IsKernel: true}
	idleTask, err := task.CreateKernelTask(m, heap, kernelDir, kernelProc, 1, bootcfg.IdleEntry)
	if err != kerr.OK {
		klog.Panic("kernel: failed to create idle task: %v", err)
	}
	gdt.TSS.SetKernelStack(m, idleTask.Registers.EBP)

	scheduler := sched.New(m, frames, kernelDir, idleTask)

	irqTable.Register(0, func() {
		pitDriver.Tick()
		cur := scheduler.Get()
		scheduler.Yield(cur.Registers)
	})

	kbd := &ps2.Keyboard{}
	kbFIFO := fifo.New(bootcfg.KeyboardFIFOSize)
	kbFeed := console.NewKeyboardFeed(kbd, kbFIFO)
	irqTable.Register(1, func() {
		if _, ok := kbFeed.Feed(ps2.Receive(m)); ok {
			scheduler.Wakeup(syscall.ReasonKeyboard)
		}
	})

	mouseCtl := ps2.NewController(m)
	mouseCtl.Enable()
	mouse := &ps2.Mouse{}
	irqTable.Register(12, func() {
		mouse.HandlePacketByte(ps2.Receive(m))
	})

	clock := cmos.NewClock(m)
	clock.LoadTimezone(v)

	devices := pci.Scan(m)
	klog.Infof("kernel: pci scan found %d functions", len(devices))

	shellProc, err := task.NewProcess(m, frames, kernelDir, 2)
	if err != kerr.OK {
		klog.Panic("kernel: failed to create shell process: %v", err)
	}
	image := loadShellImage(v)
	shellTask, err := task.CreateUserTask(m, frames, kernelDir, heap, shellProc, 2, 0, image)
	if err != kerr.OK {
		klog.Panic("kernel: failed to create shell task: %v", err)
	}
	scheduler.Add(shellTask)

	syscalls := syscall.New(m, kernelDir, heap, v, scheduler, kbFIFO)

	return &Kernel{
		M:    m,
		Info: info,

		PFA:       frames,
		KernelDir: kernelDir,
		Heap:      heap,

		VFS:     v,
		FAT:     fs,
		Console: consoleWriter,
		Cursor:  cursor,

		IDT: idtTable,
		IRQ: irqTable,
		GDT: gdt,

		ATA: ataDriver,
		PIT: pitDriver,

		Keyboard:     kbd,
		KeyboardFIFO: kbFIFO,
		KeyboardFeed: kbFeed,

		Mouse:           mouse,
		MouseController: mouseCtl,

		Clock: clock,
		PCI:   devices,

		Sched:    scheduler,
		Syscalls: syscalls,

		IdleProcess: kernelProc,
		IdleTask:    idleTask,
		ShellProc:   shellProc,
		ShellTask:   shellTask,
	}
}

// loadShellImage reads the whole initial shell binary off the mounted
// volume (§7 "failure to spawn the initial shell" is a named fatal
// condition, so any failure here panics rather than propagating).
func loadShellImage(v *vfs.VFS) []byte {
	fd, err := v.Fopen(ShellImagePath, vfs.ModeRead)
	if err != kerr.OK {
		klog.Panic("kernel: failed to open %s: %v", ShellImagePath, err)
	}
	defer v.Fclose(fd)

	st, err := v.Fstat(fd)
	if err != kerr.OK {
		klog.Panic("kernel: failed to stat %s: %v", ShellImagePath, err)
	}
	image := make([]byte, st.Size)
	if _, err := v.Fread(fd, image, len(image)); err != kerr.OK {
		klog.Panic("kernel: failed to read %s: %v", ShellImagePath, err)
	}
	return image
}
