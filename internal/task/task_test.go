package task_test

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/kheap"
	"github.com/icarius-os/icarius/internal/machine"
	"github.com/icarius-os/icarius/internal/machine/host"
	"github.com/icarius-os/icarius/internal/paging"
	"github.com/icarius-os/icarius/internal/pfa"
	"github.com/icarius-os/icarius/internal/task"
)

type fixture struct {
	m         machine.Machine
	p         *pfa.PFA
	kernelDir *paging.Dir
	heap      *kheap.Heap
}

func setup(t *testing.T) fixture {
	t.Helper()
	// CreateUserTask eagerly maps the full code/bss and heap windows
	// (~3 GiB of PSE entries) per the source's process_spawn, not just the
	// bytes a test actually touches, so the PFA here is sized to the full
	// 4 GiB frame space rather than tied to the host's backing RAM size.
	// Nothing in this package dereferences a mapped-but-unwritten frame:
	// paging.Dir.get/set only touches host bytes for the small directory
	// table itself, and loadImage only writes len(image) bytes near
	// UserCodeStart, which the allocator's first-fit scan hands back from
	// low, RAM-backed frame numbers regardless of the PFA's total size.
	m := host.New(64 * 1024 * 1024)
	p := pfa.NewDefault()
	p.ClearRange(0, p.MaxFrames()-1)
	dir, err := paging.BuildKernelDirectory(m, p, 0x10000000)
	if err != kerr.OK {
		t.Fatalf("BuildKernelDirectory: %v", err)
	}
	h := kheap.New(m, p, dir)
	return fixture{m: m, p: p, kernelDir: dir, heap: h}
}

func TestCreateUserTaskSeedsRing3Frame(t *testing.T) {
	f := setup(t)
	proc, err := task.NewProcess(f.m, f.p, f.kernelDir, 1)
	if err != kerr.OK {
		t.Fatalf("NewProcess: %v", err)
	}
	image := []byte{0x90, 0x90, 0xF4} // nop nop hlt
	tsk, err := task.CreateUserTask(f.m, f.p, f.kernelDir, f.heap, proc, 1, 0, image)
	if err != kerr.OK {
		t.Fatalf("CreateUserTask: %v", err)
	}
	if tsk.Registers.EIP != bootcfg.UserCodeStart {
		t.Fatalf("EIP = %#x, want %#x", tsk.Registers.EIP, bootcfg.UserCodeStart)
	}
	if tsk.Registers.EFlags != bootcfg.UserEFlags {
		t.Fatalf("EFlags = %#x, want %#x", tsk.Registers.EFlags, bootcfg.UserEFlags)
	}
	if tsk.Registers.CS != bootcfg.UserCS|3 {
		t.Fatalf("CS = %#x, want %#x", tsk.Registers.CS, bootcfg.UserCS|3)
	}
	if tsk.Registers.SS != bootcfg.UserDS|3 {
		t.Fatalf("SS = %#x, want %#x", tsk.Registers.SS, bootcfg.UserDS|3)
	}
	if tsk.Registers.EBP != tsk.Registers.UserESP {
		t.Fatalf("EBP (%#x) and ESP (%#x) must both be stack_top", tsk.Registers.EBP, tsk.Registers.UserESP)
	}
	if tsk.State != task.Ready {
		t.Fatalf("State = %v, want Ready", tsk.State)
	}
}

func TestCreateUserTaskLoadsImageIntoUserCodeWindow(t *testing.T) {
	f := setup(t)
	proc, err := task.NewProcess(f.m, f.p, f.kernelDir, 1)
	if err != kerr.OK {
		t.Fatalf("NewProcess: %v", err)
	}
	image := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if _, err := task.CreateUserTask(f.m, f.p, f.kernelDir, f.heap, proc, 1, 0, image); err != kerr.OK {
		t.Fatalf("CreateUserTask: %v", err)
	}

	phys, ok := paging.GetPhysAddr(f.m, proc.Dir, bootcfg.UserCodeStart)
	if !ok {
		t.Fatal("expected USER_CODE_START to be mapped")
	}
	got := f.m.Bytes(phys, uint32(len(image)))
	if diff := pretty.Compare(got, image); diff != "" {
		t.Fatalf("loaded image mismatch (-got +want):\n%s", diff)
	}
	if f.m.ReadCR3() != f.kernelDir.Phys {
		t.Fatalf("CR3 left at %#x, want kernel directory %#x restored after load", f.m.ReadCR3(), f.kernelDir.Phys)
	}
}

func TestCreateKernelTaskReusesKernelDirectory(t *testing.T) {
	f := setup(t)
	proc := &task.Process{ID: 0, Dir: f.kernelDir, IsKernel: true}
	tsk, err := task.CreateKernelTask(f.m, f.heap, f.kernelDir, proc, 1, 0xC0100000)
	if err != kerr.OK {
		t.Fatalf("CreateKernelTask: %v", err)
	}
	if tsk.Registers.CS != bootcfg.KernelCS || tsk.Registers.SS != bootcfg.KernelDS {
		t.Fatalf("expected kernel segment selectors, got CS=%#x SS=%#x", tsk.Registers.CS, tsk.Registers.SS)
	}
	if tsk.Registers.EFlags != bootcfg.KernelEFlags {
		t.Fatalf("EFlags = %#x, want %#x", tsk.Registers.EFlags, bootcfg.KernelEFlags)
	}
	if tsk.Registers.EIP != 0xC0100000 {
		t.Fatalf("EIP = %#x, want entry point", tsk.Registers.EIP)
	}
}

func TestSwitchLoadsProcessDirectoryOnlyWhenNotKernel(t *testing.T) {
	f := setup(t)
	userProc, err := task.NewProcess(f.m, f.p, f.kernelDir, 2)
	if err != kerr.OK {
		t.Fatalf("NewProcess: %v", err)
	}
	userTask, err := task.CreateUserTask(f.m, f.p, f.kernelDir, f.heap, userProc, 2, 0, nil)
	if err != kerr.OK {
		t.Fatalf("CreateUserTask: %v", err)
	}

	task.Switch(f.m, f.kernelDir, userTask)
	if f.m.ReadCR3() != userProc.Dir.Phys {
		t.Fatalf("CR3 = %#x, want process directory %#x", f.m.ReadCR3(), userProc.Dir.Phys)
	}
	if userTask.State != task.Run {
		t.Fatalf("State = %v, want Run", userTask.State)
	}

	kernelProc := &task.Process{ID: 0, Dir: f.kernelDir, IsKernel: true}
	idle, err := task.CreateKernelTask(f.m, f.heap, f.kernelDir, kernelProc, 3, 0xC0100000)
	if err != kerr.OK {
		t.Fatalf("CreateKernelTask: %v", err)
	}
	task.Switch(f.m, f.kernelDir, idle)
	if f.m.ReadCR3() != userProc.Dir.Phys {
		t.Fatalf("switching to a kernel thread should not touch CR3; got %#x", f.m.ReadCR3())
	}
}

func TestSaveCopiesFrame(t *testing.T) {
	f := setup(t)
	proc := &task.Process{ID: 0, Dir: f.kernelDir, IsKernel: true}
	tsk, err := task.CreateKernelTask(f.m, f.heap, f.kernelDir, proc, 1, 0xC0100000)
	if err != kerr.OK {
		t.Fatalf("CreateKernelTask: %v", err)
	}
	frame := task.Frame{EAX: 42, EIP: 0xC0100010, CS: bootcfg.KernelCS}
	task.Save(tsk, frame)
	if diff := pretty.Compare(tsk.Registers, frame); diff != "" {
		t.Fatalf("Save mismatch (-got +want):\n%s", diff)
	}
}

func TestExitLastTaskTearsDownProcess(t *testing.T) {
	f := setup(t)
	before := f.p.Dump()

	proc, err := task.NewProcess(f.m, f.p, f.kernelDir, 5)
	if err != kerr.OK {
		t.Fatalf("NewProcess: %v", err)
	}
	tsk, err := task.CreateUserTask(f.m, f.p, f.kernelDir, f.heap, proc, 5, 0, []byte{0x90})
	if err != kerr.OK {
		t.Fatalf("CreateUserTask: %v", err)
	}

	exited := task.Exit(f.m, f.p, f.kernelDir, tsk)
	if !exited {
		t.Fatal("expected the last task's exit to tear down the process")
	}
	if proc.Dir != nil {
		t.Fatal("expected process directory to be freed")
	}
	if len(proc.Tasks) != 0 {
		t.Fatalf("expected no tasks left, got %d", len(proc.Tasks))
	}

	after := f.p.Dump()
	if after.FreeFrames < before.FreeFrames {
		t.Fatalf("expected frames to be returned to the PFA: free before=%d after=%d", before.FreeFrames, after.FreeFrames)
	}
}

func TestExitNonLastTaskKeepsProcessAlive(t *testing.T) {
	f := setup(t)
	proc, err := task.NewProcess(f.m, f.p, f.kernelDir, 6)
	if err != kerr.OK {
		t.Fatalf("NewProcess: %v", err)
	}
	first, err := task.CreateUserTask(f.m, f.p, f.kernelDir, f.heap, proc, 6, 0, nil)
	if err != kerr.OK {
		t.Fatalf("CreateUserTask first: %v", err)
	}
	_, err = task.CreateUserTask(f.m, f.p, f.kernelDir, f.heap, proc, 7, 1, nil)
	if err != kerr.OK {
		t.Fatalf("CreateUserTask second: %v", err)
	}

	exited := task.Exit(f.m, f.p, f.kernelDir, first)
	if exited {
		t.Fatal("expected process to survive while a second task remains")
	}
	if proc.Dir == nil {
		t.Fatal("process directory should still be live")
	}
	if len(proc.Tasks) != 1 {
		t.Fatalf("expected one remaining task, got %d", len(proc.Tasks))
	}
}
