package syscall_test

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/fat16"
	"github.com/icarius-os/icarius/internal/fat16/fat16test"
	"github.com/icarius-os/icarius/internal/fifo"
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/kheap"
	"github.com/icarius-os/icarius/internal/machine"
	"github.com/icarius-os/icarius/internal/machine/host"
	"github.com/icarius-os/icarius/internal/paging"
	"github.com/icarius-os/icarius/internal/pfa"
	"github.com/icarius-os/icarius/internal/sched"
	"github.com/icarius-os/icarius/internal/syscall"
	"github.com/icarius-os/icarius/internal/task"
	"github.com/icarius-os/icarius/internal/vfs"
)

type fixture struct {
	m     machine.Machine
	p     *pfa.PFA
	dir   *paging.Dir
	heap  *kheap.Heap
	vfs   *vfs.VFS
	sched *sched.Scheduler
	kbd   *fifo.FIFO
	sys   *syscall.Syscalls
	proc  *task.Process
	t     *task.Task
}

func setup(tb *testing.T) fixture {
	tb.Helper()
	m := host.New(64 * 1024 * 1024)
	p := pfa.NewDefault()
	p.ClearRange(0, p.MaxFrames()-1)
	dir, err := paging.BuildKernelDirectory(m, p, 0x10000000)
	if err != kerr.OK {
		tb.Fatalf("BuildKernelDirectory: %v", err)
	}
	heap := kheap.New(m, p, dir)

	disk := fat16test.Build(fat16test.Options{})
	fs, err := fat16.New(disk.NewBlockDevice(), 0)
	if err != kerr.OK {
		tb.Fatalf("fat16.New: %v", err)
	}
	v := vfs.New()
	if err := v.Mount('A', fs); err != kerr.OK {
		tb.Fatalf("Mount: %v", err)
	}

	kernProc := &task.Process{ID: 0, Dir: dir, IsKernel: true}
	idle, err := task.CreateKernelTask(m, heap, dir, kernProc, 1, 0xC0100000)
	if err != kerr.OK {
		tb.Fatalf("CreateKernelTask(idle): %v", err)
	}
	s := sched.New(m, p, dir, idle)

	proc, err := task.NewProcess(m, p, dir, 2)
	if err != kerr.OK {
		tb.Fatalf("NewProcess: %v", err)
	}
	userTask, err := task.CreateUserTask(m, p, dir, heap, proc, 2, 0, nil)
	if err != kerr.OK {
		tb.Fatalf("CreateUserTask: %v", err)
	}
	s.Add(userTask)
	s.Yield(task.Frame{})

	kbd := fifo.New(bootcfg.KeyboardFIFOSize)
	sys := syscall.New(m, dir, heap, v, s, kbd)

	return fixture{m: m, p: p, dir: dir, heap: heap, vfs: v, sched: s, kbd: kbd, sys: sys, proc: proc, t: userTask}
}

// writeUserBytes stages data into the current user task's address space at
// vaddr by switching CR3, writing physical bytes, and restoring the kernel
// directory, mirroring the copy helpers under test from the other side of
// the boundary.
func writeUserBytes(t *testing.T, f fixture, vaddr uint32, data []byte) {
	t.Helper()
	paging.SetDir(f.m, f.proc.Dir)
	defer paging.RestoreKernelDir(f.m, f.dir)
	for i, b := range data {
		phys, ok := paging.GetPhysAddr(f.m, f.proc.Dir, vaddr+uint32(i))
		if !ok {
			t.Fatalf("GetPhysAddr(%#x): not mapped", vaddr+uint32(i))
		}
		f.m.Bytes(phys, 1)[0] = b
	}
}

func readUserBytes(t *testing.T, f fixture, vaddr uint32, n int) []byte {
	t.Helper()
	paging.SetDir(f.m, f.proc.Dir)
	defer paging.RestoreKernelDir(f.m, f.dir)
	out := make([]byte, n)
	for i := range out {
		phys, ok := paging.GetPhysAddr(f.m, f.proc.Dir, vaddr+uint32(i))
		if !ok {
			t.Fatalf("GetPhysAddr(%#x): not mapped", vaddr+uint32(i))
		}
		out[i] = f.m.Bytes(phys, 1)[0]
	}
	return out
}

const userScratch = 0x00100000 // inside the mapped user code/bss window

func TestOpenWriteReadCloseRoundTrip(t *testing.T) {
	f := setup(t)

	pathBytes := append([]byte("/ROUND.TXT"), 0)
	writeUserBytes(t, f, userScratch, pathBytes)

	f.t.Registers.EAX = syscall.SysOpen
	f.t.Registers.EBX = userScratch
	f.t.Registers.ECX = 1 // flags != 0 means write
	f.sys.Dispatch(f.t)
	fd := int32(f.t.Registers.EAX)
	if fd <= 0 {
		t.Fatalf("open returned %d, want a positive fd", fd)
	}

	payload := []byte("hello from userspace")
	writeUserBytes(t, f, userScratch+0x1000, payload)
	f.t.Registers.EAX = syscall.SysWrite
	f.t.Registers.EBX = uint32(fd)
	f.t.Registers.ECX = userScratch + 0x1000
	f.t.Registers.EDX = uint32(len(payload))
	f.sys.Dispatch(f.t)
	if n := int32(f.t.Registers.EAX); n != int32(len(payload)) {
		t.Fatalf("write returned %d, want %d", n, len(payload))
	}

	f.t.Registers.EAX = syscall.SysClose
	f.t.Registers.EBX = uint32(fd)
	f.sys.Dispatch(f.t)
	if f.t.Registers.EAX != 0 {
		t.Fatalf("close returned %#x, want 0", f.t.Registers.EAX)
	}

	writeUserBytes(t, f, userScratch, append([]byte("/ROUND.TXT"), 0))
	f.t.Registers.EAX = syscall.SysOpen
	f.t.Registers.EBX = userScratch
	f.t.Registers.ECX = 0 // read
	f.sys.Dispatch(f.t)
	fd2 := int32(f.t.Registers.EAX)
	if fd2 <= 0 {
		t.Fatalf("reopen returned %d, want a positive fd", fd2)
	}

	f.t.Registers.EAX = syscall.SysRead
	f.t.Registers.EBX = uint32(fd2)
	f.t.Registers.ECX = userScratch + 0x2000
	f.t.Registers.EDX = uint32(len(payload))
	f.sys.Dispatch(f.t)
	if n := int32(f.t.Registers.EAX); n != int32(len(payload)) {
		t.Fatalf("read returned %d, want %d", n, len(payload))
	}

	got := readUserBytes(t, f, userScratch+0x2000, len(payload))
	if diff := pretty.Compare(string(got), string(payload)); diff != "" {
		t.Fatalf("round trip mismatch (-got +want):\n%s", diff)
	}
}

func TestOpenRejectsKernelPointer(t *testing.T) {
	f := setup(t)
	f.t.Registers.EAX = syscall.SysOpen
	f.t.Registers.EBX = bootcfg.KernelVirtualStart
	f.t.Registers.ECX = 0
	f.sys.Dispatch(f.t)
	if kerr.Errno(int32(f.t.Registers.EAX)) != kerr.EFAULT {
		t.Fatalf("EAX = %#x, want EFAULT", f.t.Registers.EAX)
	}
}

func TestReadFdZeroBlocksOnEmptyKeyboardFIFO(t *testing.T) {
	f := setup(t)
	f.t.Registers.EAX = syscall.SysRead
	f.t.Registers.EBX = 0
	f.t.Registers.ECX = userScratch
	f.t.Registers.EDX = 1
	f.sys.Dispatch(f.t)

	if f.t.State != task.Block {
		t.Fatalf("State = %v, want BLOCK", f.t.State)
	}
	if f.t.WaitingOn != syscall.ReasonKeyboard {
		t.Fatalf("WaitingOn = %v, want ReasonKeyboard", f.t.WaitingOn)
	}
	if f.sched.Dump().WaitCount != 1 {
		t.Fatalf("WaitCount = %d, want 1", f.sched.Dump().WaitCount)
	}
}

func TestReadFdZeroReturnsQueuedByteAndWakeupResumesIt(t *testing.T) {
	f := setup(t)
	f.t.Registers.EAX = syscall.SysRead
	f.t.Registers.EBX = 0
	f.t.Registers.ECX = userScratch
	f.t.Registers.EDX = 1
	f.sys.Dispatch(f.t)
	if f.t.State != task.Block {
		t.Fatalf("expected the task to block first")
	}

	f.kbd.Enqueue('x')
	woken := f.sched.Wakeup(syscall.ReasonKeyboard)
	if len(woken) != 1 || woken[0] != f.t {
		t.Fatalf("Wakeup = %v, want only the blocked reader", woken)
	}
	if f.t.State != task.Ready {
		t.Fatalf("State = %v, want READY after wakeup", f.t.State)
	}

	// A retried read now finds a byte waiting and completes immediately.
	f.sys.Dispatch(f.t)
	if n := int32(f.t.Registers.EAX); n != 1 {
		t.Fatalf("retried read returned %d, want 1", n)
	}
	got := readUserBytes(t, f, userScratch, 1)
	if got[0] != 'x' {
		t.Fatalf("got byte %q, want 'x'", got[0])
	}
}

func TestExitTerminatesTaskAndReschedules(t *testing.T) {
	f := setup(t)
	before := f.p.Dump()

	f.t.Registers.EAX = syscall.SysExit
	f.t.Registers.EBX = 7
	f.sys.Dispatch(f.t)

	if f.proc.Dir != nil {
		t.Fatal("expected the process directory to be freed on exit")
	}
	if f.sched.Get() == f.t {
		t.Fatal("scheduler should have switched away from the exited task")
	}
	after := f.p.Dump()
	if after.FreeFrames < before.FreeFrames {
		t.Fatalf("expected frames returned to the PFA: before=%d after=%d", before.FreeFrames, after.FreeFrames)
	}
}

func TestGetdentsListsRootEntries(t *testing.T) {
	f := setup(t)

	for _, name := range []string{"/A.TXT", "/B.TXT"} {
		pathBytes := append([]byte(name), 0)
		writeUserBytes(t, f, userScratch, pathBytes)
		f.t.Registers.EAX = syscall.SysOpen
		f.t.Registers.EBX = userScratch
		f.t.Registers.ECX = 1
		f.sys.Dispatch(f.t)
		fd := f.t.Registers.EAX
		f.t.Registers.EAX = syscall.SysClose
		f.t.Registers.EBX = fd
		f.sys.Dispatch(f.t)
	}

	rootPath := append([]byte{0}) // empty path -> root
	writeUserBytes(t, f, userScratch, rootPath)
	f.t.Registers.EAX = syscall.SysOpen
	f.t.Registers.EBX = userScratch
	f.t.Registers.ECX = 0
	f.sys.Dispatch(f.t)
	rootFD := f.t.Registers.EAX

	f.t.Registers.EAX = syscall.SysGetdents
	f.t.Registers.EBX = rootFD
	f.t.Registers.ECX = userScratch + 0x1000
	f.t.Registers.EDX = 64
	f.sys.Dispatch(f.t)
	n := int32(f.t.Registers.EAX)
	if n <= 0 {
		t.Fatalf("getdents returned %d, want > 0", n)
	}
	got := readUserBytes(t, f, userScratch+0x1000, int(n))
	want := "\x01A.TXT\x00\x01B.TXT\x00"
	if diff := pretty.Compare(string(got), want); diff != "" {
		t.Fatalf("getdents mismatch (-got +want):\n%s", diff)
	}
}
