// Command icarius is the hosted entry point: it constructs a simulated
// machine.Machine backed by a real disk image file, fabricates the
// Multiboot2 handoff a loader would otherwise leave behind, runs the full
// kernel.Boot bring-up sequence, and then drives the system the way real
// hardware would — a steady IRQ0 timer tick and IRQ1 bytes decoded from
// whatever is typed at the controlling terminal.
//
// There is no x86 instruction interpreter behind this: tasks are
// administrative bookkeeping (Frame snapshots, scheduler queues), not
// executing code, so this loop is a bring-up and wiring demonstration
// rather than a way to actually run ICARSH.BIN.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/icarius-os/icarius/internal/boot"
	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/device/cmos"
	"github.com/icarius-os/icarius/internal/device/ps2"
	"github.com/icarius-os/icarius/internal/kernel"
	"github.com/icarius-os/icarius/internal/klog"
	"github.com/icarius-os/icarius/internal/machine/host"
)

func main() {
	diskPath := flag.String("disk", "", "path to a raw ATA disk image (FAT16 partition at bootcfg.PartitionOffsetBytes)")
	ramMiB := flag.Uint("ram", 128, "simulated RAM size in MiB")
	hz := flag.Uint("hz", bootcfg.DefaultTimerHz, "PIT/IRQ0 tick rate in Hz")
	infoAddr := flag.Uint("info", 0x2000, "physical address to place the fabricated Multiboot2 info block at")
	flag.Parse()

	if *diskPath == "" {
		fmt.Fprintln(os.Stderr, "icarius: -disk is required")
		flag.Usage()
		os.Exit(2)
	}

	diskImage, closeDisk := mmapDisk(*diskPath)
	defer closeDisk()

	ramSize := uint32(*ramMiB) * 1024 * 1024
	m := host.New(ramSize)

	ataSim := host.NewAtaDisk(diskImage)
	m.RegisterPortRange(host.AtaBase, 8, ataSim)
	m.RegisterPort(host.AtaControlPort, ataSim)

	// One controller instance serves both channels, the same as the real
	// 8042: the three replies queued here drain kernel.Boot's internal
	// mouse-enable handshake, after which the same queue is reused live,
	// fed by feedKeystroke below as IRQ1 bytes.
	ps2Sim := &host.Ps2Controller{Replies: []byte{0x00, ps2.AckByte, ps2.AckByte}}
	m.RegisterPort(ps2.DataPort, ps2Sim)
	m.RegisterPort(ps2.StatusCommandPort, ps2Sim)

	cmosSim := host.NewCmos()
	seedCmos(cmosSim, time.Now())
	m.RegisterPort(cmos.IndexPort, cmosSim)
	m.RegisterPort(cmos.DataPort, cmosSim)

	buildMultiboot2Info(m, uint32(*infoAddr), ramSize)

	k := kernel.Boot(m, boot.Magic, uint32(*infoAddr), os.Stdout)
	klog.Infof("icarius: booted, idle pid=%d shell pid=%d pci functions=%d",
		k.IdleProcess.ID, k.ShellProc.ID, len(k.PCI))

	driveSystem(k, ps2Sim, uint32(*hz))
}

// mmapDisk maps path read/write so AtaDisk's simulated writes land straight
// back on the backing file, rather than copying the whole image through
// os.ReadFile just to discard it on exit.
func mmapDisk(path string) (image []byte, closeFn func()) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		klog.Panic("icarius: open %s: %v", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		klog.Panic("icarius: stat %s: %v", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		klog.Panic("icarius: mmap %s: %v", path, err)
	}
	return data, func() {
		unix.Munmap(data)
		f.Close()
	}
}

// seedCmos encodes t into the BCD register offsets cmos.Reader decodes
// (second=0, minute=2, hour=4, weekday=6, day=7, month=8, year=9,
// century=32), so Clock.Now reports the real host time instead of the
// all-zero bank a bare host.NewCmos starts with.
func seedCmos(c *host.Cmos, t time.Time) {
	toBCD := func(v int) byte {
		return byte((v/10)<<4 | (v % 10))
	}
	c.Regs[0] = toBCD(t.Second())
	c.Regs[2] = toBCD(t.Minute())
	c.Regs[4] = toBCD(t.Hour())
	c.Regs[6] = toBCD(int(t.Weekday()) + 1) // CMOS weekday is 1-7, Sunday=1
	c.Regs[7] = toBCD(t.Day())
	c.Regs[8] = toBCD(int(t.Month()))
	year := t.Year()
	c.Regs[9] = toBCD(year % 100)
	c.Regs[32] = toBCD(year / 100)
}

// writeTag writes an 8-byte Multiboot2 tag header (type, size) followed by
// body at addr, returning the next 8-byte-aligned address (mirrors the
// layout internal/boot's tests build against).
func writeTag(m *host.Machine, addr uint32, tagType uint32, body []byte) uint32 {
	size := uint32(8 + len(body))
	header := m.Bytes(addr, 8)
	binary.LittleEndian.PutUint32(header[0:4], tagType)
	binary.LittleEndian.PutUint32(header[4:8], size)
	if len(body) > 0 {
		copy(m.Bytes(addr+8, uint32(len(body))), body)
	}
	return addr + ((size + 7) &^ 7)
}

// buildMultiboot2Info fabricates the handoff a real Multiboot2 loader (GRUB)
// would leave at addr: a cosmetic framebuffer tag and a single-region
// AVAILABLE memory map covering all of ramSize, terminated by an end tag.
// This stands in for the loader the rest of this module has no freestanding
// boot stub to produce.
func buildMultiboot2Info(m *host.Machine, infoAddr, ramSize uint32) {
	tagAddr := infoAddr + 8

	fbBody := make([]byte, 21)
	binary.LittleEndian.PutUint64(fbBody[0:8], 0xFD000000)
	binary.LittleEndian.PutUint32(fbBody[8:12], 1024) // pitch
	binary.LittleEndian.PutUint32(fbBody[12:16], 800)  // width
	binary.LittleEndian.PutUint32(fbBody[16:20], 600)  // height
	fbBody[20] = 32
	tagAddr = writeTag(m, tagAddr, 8, fbBody)

	const entrySize = 24
	mmapBody := make([]byte, 8+entrySize)
	binary.LittleEndian.PutUint32(mmapBody[0:4], entrySize)
	binary.LittleEndian.PutUint32(mmapBody[4:8], 0)
	entry := mmapBody[8 : 8+entrySize]
	binary.LittleEndian.PutUint64(entry[0:8], 0)
	binary.LittleEndian.PutUint64(entry[8:16], uint64(ramSize))
	binary.LittleEndian.PutUint32(entry[16:20], boot.MemoryAvailable)
	tagAddr = writeTag(m, tagAddr, 6, mmapBody)

	writeTag(m, tagAddr, 0, nil)
}

// driveSystem runs the steady-state loop a real CPU's asynchronous
// interrupts would otherwise produce: a ticker firing IRQ0 at hz, and raw
// terminal bytes translated to PS/2 scancodes and fired as IRQ1, until the
// terminal reader hits EOF (Ctrl-D) or is interrupted.
func driveSystem(k *kernel.Kernel, ps2Sim *host.Ps2Controller, hz uint32) {
	fd := int(os.Stdin.Fd())
	keys := make(chan byte, 256)
	if term.IsTerminal(fd) {
		saved, err := term.MakeRaw(fd)
		if err != nil {
			klog.Warnf("icarius: term.MakeRaw: %v", err)
		} else {
			defer term.Restore(fd, saved)
		}
		go readKeystrokes(os.Stdin, keys)
	} else {
		klog.Infof("icarius: stdin is not a terminal, running with no keyboard input")
	}

	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.IRQ.Dispatch(0)
		case b, ok := <-keys:
			if !ok {
				klog.Infof("icarius: keyboard input closed, shutting down")
				return
			}
			feedKeystroke(k, ps2Sim, b)
		}
	}
}

// readKeystrokes copies raw bytes from in to out until EOF, letting the
// main select loop stay the only goroutine touching the simulated machine.
func readKeystrokes(in *os.File, out chan<- byte) {
	defer close(out)
	buf := make([]byte, 1)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			out <- buf[0]
		}
		if err != nil {
			return
		}
	}
}

// feedKeystroke translates one ASCII byte into a PS/2 make/break scancode
// pair (wrapped in a left-shift press/release when the byte needs it) and
// dispatches IRQ1 once per queued byte, the same path a real keyboard
// controller interrupt would drive.
func feedKeystroke(k *kernel.Kernel, ps2Sim *host.Ps2Controller, b byte) {
	if b == 0x03 || b == 0x04 { // Ctrl-C / Ctrl-D: stop driving the demo
		klog.Infof("icarius: interrupt from terminal, shutting down")
		os.Exit(0)
	}

	sc, shift, ok := ps2.EncodeASCII(b)
	if !ok {
		return
	}

	const scanLeftShift byte = 0x2A
	if shift {
		ps2Sim.Replies = append(ps2Sim.Replies, scanLeftShift)
	}
	ps2Sim.Replies = append(ps2Sim.Replies, sc, sc|0x80)
	if shift {
		ps2Sim.Replies = append(ps2Sim.Replies, scanLeftShift|0x80)
	}

	n := 2
	if shift {
		n = 4
	}
	for i := 0; i < n; i++ {
		// Each Dispatch drains one byte through k.KeyboardFeed, which
		// decodes it with the kernel's own Keyboard and enqueues the
		// resulting character on k.KeyboardFIFO for sys_read(fd=0).
		k.IRQ.Dispatch(1)
	}

	fmt.Fprintf(os.Stdout, "%c", b)
}
