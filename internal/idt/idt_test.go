package idt_test

import (
	"testing"

	"github.com/icarius-os/icarius/internal/idt"
	"github.com/icarius-os/icarius/internal/task"
)

func recoverPanic(t *testing.T, f func()) (recovered bool) {
	defer func() {
		if r := recover(); r != nil {
			recovered = true
		}
	}()
	f()
	return false
}

func TestExceptionVectorPanics(t *testing.T) {
	tb := idt.New()
	tk := &task.Task{Process: &task.Process{ID: 7}}

	if !recoverPanic(t, func() { tb.Dispatch(13, tk) }) {
		t.Fatalf("Dispatch(13) did not panic")
	}
}

func TestPageFaultVectorPanics(t *testing.T) {
	tb := idt.New()
	tk := &task.Task{Process: &task.Process{ID: 1}}

	if !recoverPanic(t, func() { tb.Dispatch(idt.PageFaultVector, tk) }) {
		t.Fatalf("Dispatch(PageFaultVector) did not panic")
	}
}

func TestSyscallVectorDispatchesRegisteredHandler(t *testing.T) {
	tb := idt.New()
	called := false
	tb.Register(idt.SyscallVector, func(t *task.Task) { called = true })

	tb.Dispatch(idt.SyscallVector, &task.Task{})
	if !called {
		t.Fatalf("registered syscall handler was not called")
	}
}

func TestIRQRangeDelegatesToRegisteredDispatcher(t *testing.T) {
	tb := idt.New()
	var gotLine = -1
	tb.RegisterIRQRange(func(line int) { gotLine = line })

	tb.Dispatch(idt.IRQVectorBase+1, &task.Task{})
	if gotLine != 1 {
		t.Fatalf("irq dispatch line = %d, want 1", gotLine)
	}
}

func TestUnregisteredVectorIsNoOp(t *testing.T) {
	tb := idt.New()
	if recoverPanic(t, func() { tb.Dispatch(200, &task.Task{}) }) {
		t.Fatalf("Dispatch on an unregistered non-IRQ vector panicked")
	}
}

func TestMessageFallsBackForUnknownVector(t *testing.T) {
	if msg := idt.Message(999); msg != "Unknown interrupt" {
		t.Fatalf("Message(999) = %q, want fallback", msg)
	}
	if msg := idt.Message(32); msg != "Timer (IRQ0)" {
		t.Fatalf("Message(32) = %q, want %q", msg, "Timer (IRQ0)")
	}
}
