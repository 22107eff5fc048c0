// Package spinlock implements the xchg-based mutex spec.md §2 lists as a
// deliverable ("Spinlock — xchg-based mutex for cross-IRQ critical
// sections") and §5 describes as "provided for the future SMP case": this
// single-CPU kernel protects its critical sections today by disabling
// interrupts (§5), so nothing here is load-bearing yet, but the primitive
// itself has to exist and has to be the thing §5's critical sections would
// switch to first. It is grounded on
// original_source/src/arch/x86/sync/spinlock.c and
// src/x86/include/spinlock.h: spinlock_t is a bare volatile uint32_t,
// spinlock_acquire busy-loops asm_xchg(self, 1) until it returns 0, and
// spinlock_release does a plain store of 0.
package spinlock

import "sync/atomic"

// Xchger is the one primitive a spinlock needs: an atomic exchange over a
// single word (machine.CPU.Xchg, or host.Machine's atomic.SwapUint32
// implementation of it). Narrowed to this one method the same way
// pci.Ports and irq.Ports narrow machine.Machine to just what each
// consumer uses.
type Xchger interface {
	Xchg(addr *uint32, newVal uint32) (old uint32)
}

// Spinlock is a single xchg-based mutex word. The zero value is unlocked,
// matching spinlock_t's zero-initialized BSS storage in the original C.
type Spinlock struct {
	word uint32
}

// Acquire busy-loops until it wins the exchange, i.e. until it observes the
// lock word go from 0 to 1 under its own xchg (spinlock_acquire's
// `while (asm_xchg(self, 1)) { ; }`). On a single-CPU kernel this only
// spins if a handler re-enters its own critical section, which would
// otherwise be a bug; on SMP it is the real busy-wait other cores block on.
func (s *Spinlock) Acquire(cpu Xchger) {
	for cpu.Xchg(&s.word, 1) != 0 {
	}
}

// Release clears the lock word (spinlock_release's `*self = 0`). It takes
// no Xchger: the original's release is a plain store, not an exchange.
// Using an atomic store rather than a bare assignment costs nothing on
// single-CPU hardware and keeps Go's race detector quiet about the same
// address Acquire touches with Xchg.
func (s *Spinlock) Release() {
	atomic.StoreUint32(&s.word, 0)
}
