// Package sched implements the round-robin scheduler and wait queue
// (§4.11): a vtable of add/yield/dump/get operations, a FIFO ready queue,
// and a separate FIFO of blocked tasks keyed by wait reason.
package sched

import (
	"github.com/icarius-os/icarius/internal/klog"
	"github.com/icarius-os/icarius/internal/machine"
	"github.com/icarius-os/icarius/internal/paging"
	"github.com/icarius-os/icarius/internal/pfa"
	"github.com/icarius-os/icarius/internal/task"
)

// Scheduler holds the ready queue, the wait queue, and the always-resident
// idle task switched to when the ready queue runs dry (§4.11).
type Scheduler struct {
	m         machine.Machine
	p         *pfa.PFA
	kernelDir *paging.Dir
	idle      *task.Task

	ready []*task.Task
	wait  []*task.Task

	current *task.Task
}

// New builds a scheduler around idle, the kernel thread resident whenever
// the ready queue is empty (§4.11 "switch to the idle kernel thread, always
// resident"). p is the physical frame allocator Exit returns a terminated
// user process's frames to.
func New(m machine.Machine, p *pfa.PFA, kernelDir *paging.Dir, idle *task.Task) *Scheduler {
	return &Scheduler{m: m, p: p, kernelDir: kernelDir, idle: idle, current: idle}
}

// Add enqueues t onto the ready queue iff its state is READY (§4.11 "add").
func (s *Scheduler) Add(t *task.Task) {
	if t.State != task.Ready {
		return
	}
	s.ready = append(s.ready, t)
}

// Get returns the currently running task (§4.11 "get").
func (s *Scheduler) Get() *task.Task {
	return s.current
}

// popReady removes and returns the head of the ready queue, or nil if empty.
func (s *Scheduler) popReady() *task.Task {
	if len(s.ready) == 0 {
		return nil
	}
	t := s.ready[0]
	s.ready = s.ready[1:]
	return t
}

// Yield saves frame into the current task if it is still RUN, requeues it as
// READY, pops the next ready task (or falls back to idle), and switches to
// it (§4.11 "yield"). The timer IRQ0 handler and any voluntary suspension
// point call this.
func (s *Scheduler) Yield(frame task.Frame) {
	prev := s.current
	if prev != nil && prev.State == task.Run {
		task.Save(prev, frame)
		prev.State = task.Ready
		s.Add(prev)
	}

	next := s.popReady()
	if next == nil {
		next = s.idle
	}
	task.Switch(s.m, s.kernelDir, next)
	s.current = next
}

// Block moves the current task out of RUN and onto the wait queue under
// reason, then yields to the next ready task (§4.11, §4.12 "sys_read with no
// bytes available"). The blocking task's frame is the one the caller is
// currently handling (e.g. the syscall entry frame), passed through exactly
// like Yield's.
func (s *Scheduler) Block(frame task.Frame, reason task.WaitReason) {
	cur := s.current
	task.Save(cur, frame)
	cur.State = task.Block
	cur.WaitingOn = reason
	s.wait = append(s.wait, cur)

	next := s.popReady()
	if next == nil {
		next = s.idle
	}
	task.Switch(s.m, s.kernelDir, next)
	s.current = next
}

// Wakeup removes every wait-queue task whose WaitingOn matches reason,
// marks it READY, and returns it to the ready queue via Add (§4.11
// "wq_wakeup"). Returns the woken tasks for callers that need them (e.g.
// tests asserting which task was released).
func (s *Scheduler) Wakeup(reason task.WaitReason) []*task.Task {
	var woken []*task.Task
	remaining := s.wait[:0]
	for _, t := range s.wait {
		if t.WaitingOn == reason {
			t.State = task.Ready
			t.WaitingOn = 0
			s.Add(t)
			woken = append(woken, t)
			continue
		}
		remaining = append(remaining, t)
	}
	s.wait = remaining
	return woken
}

// Exit terminates the current task (§4.12 sys_exit) via task.Exit — tearing
// down its process if it was the last task — and switches to the next ready
// task or idle, exactly like Yield's fallback but never requeuing the
// outgoing task.
func (s *Scheduler) Exit(status int) {
	cur := s.current
	klog.Debugf("task %d exiting, status=%d", cur.ID, status)
	task.Exit(s.m, s.p, s.kernelDir, cur)

	next := s.popReady()
	if next == nil {
		next = s.idle
	}
	task.Switch(s.m, s.kernelDir, next)
	s.current = next
}

// Dump reports the scheduler's current queue occupancy (§4.11 "dump"),
// grounded on the same kdebug-style snapshot shape pfa.Dump and kheap.Walk
// already use for introspection.
type Dump struct {
	ReadyCount   int
	WaitCount    int
	CurrentID    int
	CurrentState task.State
}

func (s *Scheduler) Dump() Dump {
	return Dump{
		ReadyCount:   len(s.ready),
		WaitCount:    len(s.wait),
		CurrentID:    s.current.ID,
		CurrentState: s.current.State,
	}
}
