package kernel_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/icarius-os/icarius/internal/boot"
	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/device/cmos"
	"github.com/icarius-os/icarius/internal/device/ps2"
	"github.com/icarius-os/icarius/internal/fat16"
	"github.com/icarius-os/icarius/internal/fat16/fat16test"
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/kernel"
	"github.com/icarius-os/icarius/internal/machine"
	"github.com/icarius-os/icarius/internal/machine/host"
	"github.com/icarius-os/icarius/internal/task"
	"github.com/icarius-os/icarius/internal/vfs"
)

// kernel.Machine's method set must be satisfiable by the simulated
// machine every other package's tests already use.
var _ kernel.Machine = (*host.Machine)(nil)
var _ machine.Machine = (*host.Machine)(nil)

// writeTag writes an 8-byte Multiboot2 tag header (type, size) followed by
// body at addr, returning the next 8-byte-aligned address, mirroring
// boot_test.go's helper.
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

// buildMultiboot2Info lays a framebuffer tag, a single-region AVAILABLE
// memory map covering all of ramSize, and an end tag at infoAddr.
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

// buildRawDisk assembles a small FAT16 volume with /ICARSH.BIN already
// written to it, embedded at bootcfg.PartitionOffsetBytes within a larger
// zeroed raw disk image, the way the on-disk layout kernel.Boot expects
// (§6: fixed partition offset on the primary ATA disk).
func buildRawDisk(t *testing.T, shellImage []byte) []byte {
	t.Helper()

	disk := fat16test.Build(fat16test.Options{TotalSectors: 4096})
	fs, err := fat16.New(disk.NewBlockDevice(), 0)
	if err != kerr.OK {
		t.Fatalf("fat16.New (staging volume): %v", err)
	}
	staging := vfs.New()
	if err := staging.Mount('A', fs); err != kerr.OK {
		t.Fatalf("Mount (staging volume): %v", err)
	}

	fd, err := staging.Fopen("A:/ICARSH.BIN", vfs.ModeWrite)
	if err != kerr.OK {
		t.Fatalf("Fopen A:/ICARSH.BIN: %v", err)
	}
	if _, err := staging.Fwrite(fd, shellImage, len(shellImage)); err != kerr.OK {
		t.Fatalf("Fwrite A:/ICARSH.BIN: %v", err)
	}
	if err := staging.Fclose(fd); err != kerr.OK {
		t.Fatalf("Fclose A:/ICARSH.BIN: %v", err)
	}

	raw := make([]byte, bootcfg.PartitionOffsetBytes+uint32(len(disk.Image)))
	copy(raw[bootcfg.PartitionOffsetBytes:], disk.Image)
	return raw
}

// buildMachine wires a simulated machine with a disk, PS/2 controller, and
// CMOS bank attached at the conventional ports kernel.Boot programs.
func buildMachine(t *testing.T, ramSize uint32, rawDisk []byte) *host.Machine {
	t.Helper()

	m := host.New(ramSize)

	ataSim := host.NewAtaDisk(rawDisk)
	m.RegisterPortRange(host.AtaBase, 8, ataSim)
	m.RegisterPort(host.AtaControlPort, ataSim)

	// Replies drain the mouse-enable handshake's three Receive calls
	// (Compaq status byte, then two command ACKs); nothing in this test
	// exercises IRQ1/IRQ12 afterward.
	ps2Sim := &host.Ps2Controller{Replies: []byte{0x00, ps2.AckByte, ps2.AckByte}}
	m.RegisterPort(ps2.DataPort, ps2Sim)
	m.RegisterPort(ps2.StatusCommandPort, ps2Sim)

	cmosSim := host.NewCmos()
	m.RegisterPort(cmos.IndexPort, cmosSim)
	m.RegisterPort(cmos.DataPort, cmosSim)

	return m
}

// TestBootWiresFullSystem drives kernel.Boot end to end against a
// fabricated Multiboot2 handoff: after Boot returns, the process list
// holds IDLE (pid 1, the current task) and ICARSH.BIN (pid 2, queued
// ready), matching the scenario of a loader handing off a linear
// framebuffer and a single 128 MiB AVAILABLE memory region at 0x0.
func TestBootWiresFullSystem(t *testing.T) {
	const ramSize = 128 * 1024 * 1024
	const infoAddr = 0x2000

	shellImage := []byte("ICARSH")
	raw := buildRawDisk(t, shellImage)
	m := buildMachine(t, ramSize, raw)
	buildMultiboot2Info(m, infoAddr, ramSize)

	var consoleOut bytes.Buffer
	k := kernel.Boot(m, boot.Magic, infoAddr, &consoleOut)

	if k.IdleProcess == nil || k.IdleProcess.ID != 1 || !k.IdleProcess.IsKernel {
		t.Fatalf("IdleProcess = %+v, want kernel process with ID 1", k.IdleProcess)
	}
	if k.IdleTask == nil || k.IdleTask.ID != 1 {
		t.Fatalf("IdleTask = %+v, want ID 1", k.IdleTask)
	}
	if k.ShellProc == nil || k.ShellProc.ID != 2 {
		t.Fatalf("ShellProc = %+v, want ID 2", k.ShellProc)
	}
	if k.ShellTask == nil || k.ShellTask.ID != 2 {
		t.Fatalf("ShellTask = %+v, want ID 2", k.ShellTask)
	}
	if k.ShellTask.State != task.Ready {
		t.Fatalf("ShellTask.State = %v, want READY (queued on the scheduler's ready list)", k.ShellTask.State)
	}
	if k.ShellTask.Registers.EIP != bootcfg.UserCodeStart {
		t.Fatalf("ShellTask.Registers.EIP = %#x, want %#x", k.ShellTask.Registers.EIP, bootcfg.UserCodeStart)
	}

	dump := k.Sched.Dump()
	if dump.ReadyCount != 1 {
		t.Fatalf("Sched.Dump().ReadyCount = %d, want 1 (ICARSH.BIN queued, idle still current)", dump.ReadyCount)
	}
	if dump.CurrentID != k.IdleTask.ID {
		t.Fatalf("Sched.Dump().CurrentID = %d, want idle task %d (nothing has yielded yet)", dump.CurrentID, k.IdleTask.ID)
	}

	if len(k.PCI) != 0 {
		t.Fatalf("PCI scan = %v, want no populated slots on a bare simulated bus", k.PCI)
	}

	if k.VFS == nil || k.FAT == nil {
		t.Fatalf("expected VFS and FAT16 filesystem to be wired")
	}

	// The console's write sink is reachable through the VFS at fd 1/2, the
	// same installed handle kernel.Boot wires for any early boot output.
	if _, err := k.VFS.Fwrite(1, []byte("hi"), 2); err != kerr.OK {
		t.Fatalf("Fwrite(fd=1): %v", err)
	}
	if consoleOut.String() == "" {
		t.Fatalf("expected console sink to have received boot output")
	}
}

// TestBootPanicsWhenShellImageMissing exercises the "failure to spawn the
// initial shell" fatal condition: a FAT16 volume with no /ICARSH.BIN at
// all causes Boot to panic rather than return a half-booted Kernel.
func TestBootPanicsWhenShellImageMissing(t *testing.T) {
	const ramSize = 128 * 1024 * 1024
	const infoAddr = 0x2000

	disk := fat16test.Build(fat16test.Options{TotalSectors: 4096})
	raw := make([]byte, bootcfg.PartitionOffsetBytes+uint32(len(disk.Image)))
	copy(raw[bootcfg.PartitionOffsetBytes:], disk.Image)

	m := buildMachine(t, ramSize, raw)
	buildMultiboot2Info(m, infoAddr, ramSize)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Boot to panic when the shell image is missing")
		}
	}()
	kernel.Boot(m, boot.Magic, infoAddr, &bytes.Buffer{})
}
