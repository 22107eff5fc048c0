// Package syscall implements the int 0x80 system-call layer (§4.12): a
// MAX_SYSCALL-sized dispatch table, user/kernel buffer copy-in/copy-out
// through a kernel-heap staging buffer, and the handlers for exit, read,
// write, open, close, and getdents.
package syscall

import (
	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/fifo"
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/kheap"
	"github.com/icarius-os/icarius/internal/machine"
	"github.com/icarius-os/icarius/internal/paging"
	"github.com/icarius-os/icarius/internal/sched"
	"github.com/icarius-os/icarius/internal/task"
	"github.com/icarius-os/icarius/internal/vfs"
)

// Syscall IDs and their (ebx, ecx, edx) argument triples are part of the
// ABI (§4.12 table).
const (
	SysExit     = 1
	SysRead     = 3
	SysWrite    = 4
	SysOpen     = 5
	SysClose    = 6
	SysGetdents = 141
)

// Directory entry type bytes sysGetdents prefixes each name with (§6 S4:
// "type DT_REG or DT_DIR"), matching the names of Linux's getdents64
// d_type constants though not their numeric values, since nothing in this
// ABI needs binary compatibility with a real getdents64 struct.
const (
	DT_REG byte = 1
	DT_DIR byte = 2
)

// ReasonKeyboard is the wait-queue reason sys_read(fd=0) blocks on when the
// foreground keyboard FIFO is empty (§4.12, §4.13). Released by whatever
// feeds Keyboard — the IRQ1 handler in the running kernel, a test harness
// standing in for it here.
const ReasonKeyboard task.WaitReason = 1

// Handler implements one syscall. ebx/ecx/edx are the three argument
// registers (§4.12); the return values mirror dispatch: (result, err,
// blocked). blocked means the handler already moved the current task off
// RUN (via Scheduler.Block) and Dispatch must not touch frame.EAX, since
// the blocked task's frame was captured at the point of blocking, not at
// return.
type Handler func(s *Syscalls, t *task.Task, ebx, ecx, edx uint32) (result int32, err kerr.Errno, blocked bool)

// Syscalls bundles everything a handler needs: the machine, the kernel
// heap staging buffer, the kernel directory buffer copies switch back to,
// the VFS fd table, the scheduler, and the global keyboard FIFO.
type Syscalls struct {
	M         machine.Machine
	KernelDir *paging.Dir
	Heap      *kheap.Heap
	VFS       *vfs.VFS
	Sched     *sched.Scheduler
	Keyboard  *fifo.FIFO

	table [bootcfg.MaxSyscall]Handler
}

// New builds a Syscalls with the default table (exit/read/write/open/
// close/getdents) installed.
func New(m machine.Machine, kernelDir *paging.Dir, heap *kheap.Heap, v *vfs.VFS, s *sched.Scheduler, keyboard *fifo.FIFO) *Syscalls {
	sc := &Syscalls{M: m, KernelDir: kernelDir, Heap: heap, VFS: v, Sched: s, Keyboard: keyboard}
	sc.table[SysExit] = sysExit
	sc.table[SysRead] = sysRead
	sc.table[SysWrite] = sysWrite
	sc.table[SysOpen] = sysOpen
	sc.table[SysClose] = sysClose
	sc.table[SysGetdents] = sysGetdents
	return sc
}

// Dispatch runs the syscall named by t.Registers.EAX, per §4.12 steps 4-5:
// the caller has already done task_save (the frame *is* t.Registers at
// this point), dispatch validates the id, calls the handler, and writes
// the result into t.Registers.EAX — unless the handler blocked the task,
// in which case the frame was already captured by Scheduler.Block and must
// not be overwritten.
func (s *Syscalls) Dispatch(t *task.Task) {
	id := int32(t.Registers.EAX)
	if id < 0 || int(id) >= bootcfg.MaxSyscall || s.table[id] == nil {
		errno := kerr.ENOSYS
		t.Registers.EAX = uint32(int32(errno))
		return
	}
	res, err, blocked := s.table[id](s, t, t.Registers.EBX, t.Registers.ECX, t.Registers.EDX)
	if blocked {
		return
	}
	if err != kerr.OK {
		t.Registers.EAX = uint32(int32(err))
		return
	}
	t.Registers.EAX = uint32(res)
}

// checkFault rejects a user pointer at or above KERNEL_VIRTUAL_START
// (§4.12 "must reject pointers with ptr >= KERNEL_VIRTUAL_START").
func checkFault(ptr, count uint32) kerr.Errno {
	if ptr >= bootcfg.KernelVirtualStart || count > 0 && ptr+count-1 >= bootcfg.KernelVirtualStart {
		return kerr.EFAULT
	}
	return kerr.OK
}

// copyIn stages count+1 bytes on the kernel heap, switches to targetDir,
// copies the user bytes in byte-wise, switches back to the kernel
// directory, and returns a kernel-owned copy with a trailing NUL (§4.12
// "allocates count+1 bytes ... NUL-terminates when appropriate").
func copyIn(m machine.Machine, heap *kheap.Heap, kernelDir, targetDir *paging.Dir, ptr, count uint32) ([]byte, kerr.Errno) {
	if err := checkFault(ptr, count); err != kerr.OK {
		return nil, err
	}
	stagingVA, err := heap.Kmalloc(count + 1)
	if err != kerr.OK {
		return nil, err
	}
	defer heap.Kfree(stagingVA)

	buf := make([]byte, count+1)
	paging.SetDir(m, targetDir)
	for i := uint32(0); i < count; i++ {
		phys, ok := paging.GetPhysAddr(m, targetDir, ptr+i)
		if !ok {
			paging.RestoreKernelDir(m, kernelDir)
			return nil, kerr.EFAULT
		}
		buf[i] = m.Bytes(phys, 1)[0]
	}
	paging.RestoreKernelDir(m, kernelDir)

	heap.Write(stagingVA, buf)
	return heap.Read(stagingVA, count+1), kerr.OK
}

// copyOut stages data on the kernel heap, switches to targetDir, copies it
// out byte-wise into the user buffer at ptr, and switches back (§4.12
// "copies the result out symmetrically").
func copyOut(m machine.Machine, heap *kheap.Heap, kernelDir, targetDir *paging.Dir, ptr uint32, data []byte) kerr.Errno {
	count := uint32(len(data))
	if err := checkFault(ptr, count); err != kerr.OK {
		return err
	}
	stagingVA, err := heap.Kmalloc(count)
	if err != kerr.OK {
		return err
	}
	defer heap.Kfree(stagingVA)
	heap.Write(stagingVA, data)
	staged := heap.Read(stagingVA, count)

	paging.SetDir(m, targetDir)
	defer paging.RestoreKernelDir(m, kernelDir)
	for i, b := range staged {
		phys, ok := paging.GetPhysAddr(m, targetDir, ptr+uint32(i))
		if !ok {
			return kerr.EFAULT
		}
		m.Bytes(phys, 1)[0] = b
	}
	return kerr.OK
}

// sysExit implements syscall 1 (§4.12): terminates the calling task. There
// is no result to write back — the task is gone — so this always reports
// blocked=true, the same convention as a task that will never resume at
// this frame.
func sysExit(s *Syscalls, t *task.Task, status, _, _ uint32) (int32, kerr.Errno, bool) {
	s.Sched.Exit(int(int32(status)))
	return 0, kerr.OK, true
}

// sysRead implements syscall 3: fd=0 reads from the global keyboard FIFO,
// blocking the calling task (§4.12, §4.13) when it is empty; any other fd
// forwards to the VFS.
func sysRead(s *Syscalls, t *task.Task, fd, bufPtr, count uint32) (int32, kerr.Errno, bool) {
	if fd == 0 {
		if s.Keyboard.Empty() {
			s.Sched.Block(t.Registers, ReasonKeyboard)
			return 0, kerr.OK, true
		}
		n := 0
		data := make([]byte, 0, count)
		for uint32(n) < count {
			b, ok := s.Keyboard.Dequeue()
			if !ok {
				break
			}
			data = append(data, b)
			n++
		}
		if err := copyOut(s.M, s.Heap, s.KernelDir, t.Process.Dir, bufPtr, data); err != kerr.OK {
			return 0, err, false
		}
		return int32(n), kerr.OK, false
	}

	buf := make([]byte, count)
	n, err := s.VFS.Fread(int(fd), buf, int(count))
	if err != kerr.OK {
		return 0, err, false
	}
	if err := copyOut(s.M, s.Heap, s.KernelDir, t.Process.Dir, bufPtr, buf[:n]); err != kerr.OK {
		return 0, err, false
	}
	return int32(n), kerr.OK, false
}

// sysWrite implements syscall 4: copies count bytes in from the user
// buffer and forwards to the VFS.
func sysWrite(s *Syscalls, t *task.Task, fd, bufPtr, count uint32) (int32, kerr.Errno, bool) {
	data, err := copyIn(s.M, s.Heap, s.KernelDir, t.Process.Dir, bufPtr, count)
	if err != kerr.OK {
		return 0, err, false
	}
	n, err := s.VFS.Fwrite(int(fd), data[:count], int(count))
	if err != kerr.OK {
		return 0, err, false
	}
	return int32(n), kerr.OK, false
}

// sysOpen implements syscall 5: copies in the NUL-terminated path string
// (capped at a generous bound since no length is given on the wire) and
// opens it through the VFS.
func sysOpen(s *Syscalls, t *task.Task, pathPtr, flags, _ uint32) (int32, kerr.Errno, bool) {
	const maxPathLen = 260 // 8.3 path components are short; room for DRV:/a/b/NAME.EXT chains
	raw, err := copyIn(s.M, s.Heap, s.KernelDir, t.Process.Dir, pathPtr, maxPathLen)
	if err != kerr.OK {
		return 0, err, false
	}
	nul := 0
	for nul < len(raw) && raw[nul] != 0 {
		nul++
	}
	mode := vfs.ModeRead
	if flags != 0 {
		mode = vfs.ModeWrite
	}
	fd, err := s.VFS.Fopen(string(raw[:nul]), mode)
	if err != kerr.OK {
		return 0, err, false
	}
	return int32(fd), kerr.OK, false
}

// sysClose implements syscall 6.
func sysClose(s *Syscalls, t *task.Task, fd, _, _ uint32) (int32, kerr.Errno, bool) {
	if err := s.VFS.Fclose(int(fd)); err != kerr.OK {
		return 0, err, false
	}
	return 0, kerr.OK, false
}

// sysGetdents implements syscall 141: fills the user buffer with entries
// of a type byte (DT_REG or DT_DIR) followed by the NUL-terminated 8.3
// name, the simplest wire shape that needs no struct packing, stopping at
// the first entry that would overflow the buffer.
func sysGetdents(s *Syscalls, t *task.Task, fd, bufPtr, count uint32) (int32, kerr.Errno, bool) {
	var out []byte
	for {
		entry, err := s.VFS.Readdir(int(fd))
		if err == kerr.ENOENT {
			break
		}
		if err != kerr.OK {
			return 0, err, false
		}
		if uint32(len(out)+1+len(entry.Name)+1) > count {
			break
		}
		dtype := DT_REG
		if entry.IsDir {
			dtype = DT_DIR
		}
		out = append(out, dtype)
		out = append(out, entry.Name...)
		out = append(out, 0)
	}
	if err := copyOut(s.M, s.Heap, s.KernelDir, t.Process.Dir, bufPtr, out); err != kerr.OK {
		return 0, err, false
	}
	return int32(len(out)), kerr.OK, false
}
