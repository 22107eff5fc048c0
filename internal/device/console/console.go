// Package console implements the VFS-facing console sink (§4.13 device
// glue; SPEC_FULL.md's supplemented VBE/VGA cursor contract): a write-only
// vfs.Handle that backs fd=1/fd=2 for every task, a VGA text-mode cursor
// position sink, and a keyboard-to-FIFO feed that turns decoded scancodes
// into the bytes sys_read(fd=0) drains.
package console

import (
	"io"

	"github.com/icarius-os/icarius/internal/device/ps2"
	"github.com/icarius-os/icarius/internal/fifo"
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/vfs"
)

// Writer adapts an io.Writer (the host terminal in tests, a future
// framebuffer console in a real build) to vfs.Handle so it can be
// installed at fd=1/fd=2 (§4.13 "VFS-provided console sink"). Reads,
// seeks, and directory listings make no sense on a console and fail
// accordingly, the same contract a real tty device file gives a process
// that tries to lseek or readdir it.
type Writer struct {
	out io.Writer
}

var _ vfs.Handle = (*Writer)(nil)

// New creates a console Writer sink around out.
func New(out io.Writer) *Writer { return &Writer{out: out} }

// Write forwards up to n bytes of buf to the underlying stream.
func (w *Writer) Write(buf []byte, n int) (int, kerr.Errno) {
	if n > len(buf) {
		n = len(buf)
	}
	written, err := w.out.Write(buf[:n])
	if err != nil {
		return written, kerr.EIO
	}
	return written, kerr.OK
}

// Read always fails: the console sink is write-only (keyboard input is a
// separate fd=0 path fed through the global keyboard FIFO, not through a
// Handle).
func (w *Writer) Read(buf []byte, n int) (int, kerr.Errno) { return 0, kerr.EINVAL }

// Seek always fails: a console has no position to seek to.
func (w *Writer) Seek(offset int64, whence int) (int64, kerr.Errno) { return 0, kerr.EINVAL }

// Stat reports a zero Stat; nothing measures a console's size.
func (w *Writer) Stat() (vfs.Stat, kerr.Errno) { return vfs.Stat{}, kerr.OK }

// Readdir always fails: a console is not a directory.
func (w *Writer) Readdir(cursor int) (vfs.DirEntry, int, kerr.Errno) {
	return vfs.DirEntry{}, 0, kerr.ENOTDIR
}

// Close is a no-op: the console sink outlives any one task's fd table
// entry, so closing a task's fd=1/fd=2 does not tear down the stream.
func (w *Writer) Close() kerr.Errno { return kerr.OK }

// VGA text-mode CRTC ports and index registers cursor_set programs
// (§4.13; vga.h's VGAPorts enum).
const (
	CtrlPort uint16 = 0x3d4
	DataPort uint16 = 0x3d5

	indexLowOffset  byte = 0x0f
	indexHighOffset byte = 0x0e
)

// Ports is the narrow machine surface Cursor needs.
type Ports interface {
	Out8(port uint16, v uint8)
}

// Cursor sets the VGA text-mode cursor position (§4.13; cursor.c's
// cursor_set, a position sink for whatever renders the framebuffer —
// rendering itself is out of scope, only the port protocol is modeled).
type Cursor struct {
	p Ports
}

// NewCursor wraps p for cursor position writes.
func NewCursor(p Ports) *Cursor { return &Cursor{p: p} }

// Set positions the cursor at row y, column x, in the same order
// cursor_set writes the two CRTC index/data pairs.
func (c *Cursor) Set(y, x uint8) {
	c.p.Out8(CtrlPort, indexLowOffset)
	c.p.Out8(DataPort, y)

	c.p.Out8(CtrlPort, indexHighOffset)
	c.p.Out8(DataPort, x)
}

// KeyboardFeed decodes a raw PS/2 scancode stream into ASCII and enqueues
// the result on a FIFO, the bridge an IRQ1 handler (or, in tests, a host
// terminal reader standing in for one) uses to fill the queue
// sys_read(fd=0) blocks on (§4.12 ReasonKeyboard, §4.13 keyboard.c).
type KeyboardFeed struct {
	kbd *ps2.Keyboard
	f   *fifo.FIFO
}

// NewKeyboardFeed builds a feed that decodes scancodes with kbd and
// enqueues the resulting characters onto f.
func NewKeyboardFeed(kbd *ps2.Keyboard, f *fifo.FIFO) *KeyboardFeed {
	return &KeyboardFeed{kbd: kbd, f: f}
}

// Feed decodes one raw scancode byte and, if it produced a character,
// enqueues it. It returns the same (ch, ok) HandleScancode returned, so
// callers driving a host keystroke stream can also inspect what was
// produced.
func (k *KeyboardFeed) Feed(raw byte) (ch byte, ok bool) {
	ch, ok = k.kbd.HandleScancode(raw)
	if ok {
		k.f.Enqueue(ch)
	}
	return ch, ok
}
