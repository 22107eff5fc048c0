package console_test

import (
	"bytes"
	"testing"

	"github.com/icarius-os/icarius/internal/device/console"
	"github.com/icarius-os/icarius/internal/device/ps2"
	"github.com/icarius-os/icarius/internal/fifo"
	"github.com/icarius-os/icarius/internal/machine/host"
)

func TestWriterForwardsToUnderlyingStream(t *testing.T) {
	var buf bytes.Buffer
	w := console.New(&buf)

	n, err := w.Write([]byte("hello"), 5)
	if err != 0 {
		t.Fatalf("Write err = %v, want OK", err)
	}
	if n != 5 {
		t.Fatalf("Write n = %d, want 5", n)
	}
	if buf.String() != "hello" {
		t.Fatalf("buf = %q, want %q", buf.String(), "hello")
	}
}

func TestWriterTruncatesToN(t *testing.T) {
	var buf bytes.Buffer
	w := console.New(&buf)

	if _, err := w.Write([]byte("hello"), 2); err != 0 {
		t.Fatalf("Write err = %v, want OK", err)
	}
	if buf.String() != "he" {
		t.Fatalf("buf = %q, want %q", buf.String(), "he")
	}
}

func TestWriterReadSeekReaddirFail(t *testing.T) {
	w := console.New(&bytes.Buffer{})

	if _, err := w.Read(make([]byte, 4), 4); err == 0 {
		t.Fatalf("Read err = OK, want failure")
	}
	if _, err := w.Seek(0, 0); err == 0 {
		t.Fatalf("Seek err = OK, want failure")
	}
	if _, _, err := w.Readdir(0); err == 0 {
		t.Fatalf("Readdir err = OK, want failure")
	}
	if err := w.Close(); err != 0 {
		t.Fatalf("Close err = %v, want OK", err)
	}
}

func TestCursorSetWritesIndexDataPairs(t *testing.T) {
	m := host.New(4096)
	crtc := host.NewVgaCrtc()
	m.RegisterPort(console.CtrlPort, crtc)
	m.RegisterPort(console.DataPort, crtc)

	c := console.NewCursor(m)
	c.Set(7, 12)

	if crtc.Regs[0x0f] != 7 {
		t.Fatalf("low-offset register = %d, want 7", crtc.Regs[0x0f])
	}
	if crtc.Regs[0x0e] != 12 {
		t.Fatalf("high-offset register = %d, want 12", crtc.Regs[0x0e])
	}
}

func TestKeyboardFeedDecodesAndEnqueues(t *testing.T) {
	kbd := &ps2.Keyboard{}
	f := fifo.New(16)
	feed := console.NewKeyboardFeed(kbd, f)

	ch, ok := feed.Feed(0x1e) // 'a' make code
	if !ok {
		t.Fatalf("Feed did not decode a character")
	}
	if ch != 'a' {
		t.Fatalf("ch = %q, want 'a'", ch)
	}
	got, ok := f.Dequeue()
	if !ok || got != 'a' {
		t.Fatalf("FIFO dequeue = (%q, %v), want ('a', true)", got, ok)
	}
}

func TestKeyboardFeedSkipsSilentScancodes(t *testing.T) {
	kbd := &ps2.Keyboard{}
	f := fifo.New(16)
	feed := console.NewKeyboardFeed(kbd, f)

	if _, ok := feed.Feed(0x1d); ok { // left ctrl make code, silent
		t.Fatalf("Feed reported a character for a silent scancode")
	}
	if !f.Empty() {
		t.Fatalf("FIFO not empty after a silent scancode")
	}
}
