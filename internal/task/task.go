// Package task implements the task & process model (§4.10): a register
// frame per task, a page directory per process, task creation (user and
// kernel), task_switch/task_save, and task_exit/process teardown.
package task

import (
	"github.com/icarius-os/icarius/internal/bootcfg"
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/kheap"
	"github.com/icarius-os/icarius/internal/machine"
	"github.com/icarius-os/icarius/internal/paging"
	"github.com/icarius-os/icarius/internal/pfa"
)

// State is a task's scheduling state, grounded on tinfo.Tnote_t's
// Alive/Killed/Doomed fields collapsed into a single enum the way the
// source's task_t actually tracks it.
type State int

const (
	Ready State = iota
	Run
	Block
	Zombie
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Run:
		return "RUN"
	case Block:
		return "BLOCK"
	case Zombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// Frame is the saved register state an interrupt or syscall entry captures:
// the pushad order followed by the (conditionally iret-pushed) EIP/CS/
// EFLAGS/ESP/SS quintet (§4.10, §4.12).
type Frame struct {
	EDI, ESI, EBP, ESPDummy uint32
	EBX, EDX, ECX, EAX      uint32

	EIP, CS, EFlags, UserESP, SS uint32
}

// WaitReason identifies why a Block-state task is on the wait queue
// (§4.11). Zero means "not waiting."
type WaitReason int

// Task is one schedulable unit of execution within a Process (§3 "Task").
type Task struct {
	ID        int
	Process   *Process
	State     State
	Registers Frame
	WaitingOn WaitReason

	stackVA uint32      // kernel-thread stack base, for Kfree on exit
	heap    *kheap.Heap // set only for kernel tasks, to free stackVA on exit
}

// Process owns a page directory and the tasks running inside it (§3
// "Process").
type Process struct {
	ID       int
	Dir      *paging.Dir
	Tasks    []*Task
	IsKernel bool // true when Dir is the shared kernel directory (no teardown)
}

// NewProcess allocates a fresh per-process page directory cloning the
// kernel upper half (§4.2).
func NewProcess(m machine.Machine, p *pfa.PFA, kernelDir *paging.Dir, id int) (*Process, kerr.Errno) {
	dir, err := paging.NewProcessDirectory(m, p, kernelDir)
	if err != kerr.OK {
		return nil, err
	}
	return &Process{ID: id, Dir: dir}, kerr.OK
}

// stackSlice returns the inclusive [bottom,top] virtual address range task index idx
// of MaxTasks owns within the shared per-process stack region, growing down
// from UserStackEnd (§4.10 "each task receives USER_STACK_SIZE/MAX_TASKS").
func stackSlice(idx int) (bottom, top uint32) {
	sliceSize := uint32(bootcfg.UserStackSize / bootcfg.MaxTasks)
	top = bootcfg.UserStackEnd - uint32(idx)*sliceSize
	bottom = top - sliceSize + 1
	return bottom, top
}

// loadImage copies image into the target directory's user-code window,
// staging it through a kernel-heap buffer and temporarily switching the
// active directory, exactly as §4.10 describes ("switching to the target
// directory and copying byte-wise from the kernel heap staging buffer").
func loadImage(m machine.Machine, heap *kheap.Heap, kernelDir, targetDir *paging.Dir, image []byte) kerr.Errno {
	if len(image) == 0 {
		return kerr.OK
	}
	stagingVA, err := heap.Kmalloc(uint32(len(image)))
	if err != kerr.OK {
		return err
	}
	defer heap.Kfree(stagingVA)
	heap.Write(stagingVA, image)
	staged := heap.Read(stagingVA, uint32(len(image)))

	paging.SetDir(m, targetDir)
	defer paging.RestoreKernelDir(m, kernelDir)

	for i, b := range staged {
		phys, ok := paging.GetPhysAddr(m, targetDir, bootcfg.UserCodeStart+uint32(i))
		if !ok {
			return kerr.EFAULT
		}
		m.Bytes(phys, 1)[0] = b
	}
	return kerr.OK
}

// CreateUserTask builds task index idx of proc: maps user code/bss and
// heap, maps this task's stack slice, loads the flat binary image at
// USER_CODE_START, and seeds a ring-3 register frame (§4.10).
func CreateUserTask(m machine.Machine, p *pfa.PFA, kernelDir *paging.Dir, heap *kheap.Heap, proc *Process, id int, idx int, image []byte) (*Task, kerr.Errno) {
	if err := paging.MapBetween(m, p, proc.Dir, bootcfg.UserCodeStart, bootcfg.UserCodeEnd, paging.Present|paging.Writable|paging.User|paging.PSE); err != kerr.OK {
		return nil, err
	}
	if err := paging.MapBetween(m, p, proc.Dir, bootcfg.UserHeapStart, bootcfg.UserHeapEnd, paging.Present|paging.Writable|paging.User|paging.PSE); err != kerr.OK {
		return nil, err
	}
	bottom, top := stackSlice(idx)
	if err := paging.MapBetween(m, p, proc.Dir, bottom, top, paging.Present|paging.Writable|paging.User|paging.PSE); err != kerr.OK {
		return nil, err
	}
	if err := loadImage(m, heap, kernelDir, proc.Dir, image); err != kerr.OK {
		return nil, err
	}

	t := &Task{
		ID:      id,
		Process: proc,
		State:   Ready,
		Registers: Frame{
			EIP:     bootcfg.UserCodeStart,
			EFlags:  bootcfg.UserEFlags,
			EBP:     top,
			UserESP: top,
			CS:      bootcfg.UserCS | 3,
			SS:      bootcfg.UserDS | 3,
		},
	}
	proc.Tasks = append(proc.Tasks, t)
	return t, kerr.OK
}

// CreateKernelTask builds a kernel thread sharing the kernel directory: no
// address-space switch, a heap-allocated stack, and a ring-0 register frame
// (§4.10).
func CreateKernelTask(m machine.Machine, heap *kheap.Heap, kernelDir *paging.Dir, proc *Process, id int, entry uint32) (*Task, kerr.Errno) {
	stackVA, err := heap.Kmalloc(bootcfg.KernelStackSize)
	if err != kerr.OK {
		return nil, err
	}
	top := stackVA + bootcfg.KernelStackSize

	t := &Task{
		ID:      id,
		Process: proc,
		State:   Ready,
		stackVA: stackVA,
		heap:    heap,
		Registers: Frame{
			EIP:    entry,
			EFlags: bootcfg.KernelEFlags,
			EBP:    top,
			SS:     bootcfg.KernelDS,
			CS:     bootcfg.KernelCS,
		},
	}
	proc.Tasks = append(proc.Tasks, t)
	return t, kerr.OK
}

// Switch installs next as the running task: marks it RUN and, if its
// process owns a non-kernel directory, loads CR3 (§4.10 task_switch). The
// actual register-restore/iret has no Go-level analogue in this simulation;
// the scheduler simply treats next.Registers as the live CPU state from
// this point on.
func Switch(m machine.Machine, kernelDir *paging.Dir, next *Task) {
	next.State = Run
	if next.Process.Dir != nil && next.Process.Dir.Phys != kernelDir.Phys {
		paging.SetDir(m, next.Process.Dir)
	}
}

// Save copies frame into t's saved register state (§4.10 task_save),
// called at the top of every syscall and every preemptive yield.
func Save(t *Task, frame Frame) {
	t.Registers = frame
}

// Exit detaches t from its process and, if t was the process's last task,
// tears the process down: its lower-half frames (page-directory entries
// 0..767) return to the PFA and the directory frame itself is freed
// (§4.10 task_exit). It reports whether the owning process exited.
func Exit(m machine.Machine, p *pfa.PFA, kernelDir *paging.Dir, t *Task) bool {
	proc := t.Process
	for i, other := range proc.Tasks {
		if other == t {
			proc.Tasks = append(proc.Tasks[:i], proc.Tasks[i+1:]...)
			break
		}
	}
	t.State = Zombie
	if t.stackVA != 0 && t.heap != nil {
		t.heap.Kfree(t.stackVA)
	}
	if len(proc.Tasks) > 0 {
		return false
	}
	processExit(m, p, kernelDir, proc)
	return true
}

// processExit returns every frame mapped under the process's lower half
// (directory entries 0..767, i.e. virtual addresses below
// KERNEL_VIRTUAL_START) to the PFA, then frees the directory's own frame.
// A no-op for the kernel-owned "process" that hosts kernel threads.
func processExit(m machine.Machine, p *pfa.PFA, kernelDir *paging.Dir, proc *Process) {
	if proc.Dir == nil || proc.IsKernel || proc.Dir.Phys == kernelDir.Phys {
		return
	}
	paging.UnmapBetween(m, p, proc.Dir, 0, bootcfg.KernelVirtualStart-1)
	p.Clear(proc.Dir.Phys / bootcfg.PageSize)
	proc.Dir = nil
}
