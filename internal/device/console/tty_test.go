package console_test

// Integration harness for the console sink against a real terminal,
// grounded on smoynes-elsie/internal/tty/tty_test.go: skipped whenever
// stdout is not a TTY (notably under "go test", which redirects standard
// streams), runnable directly via a compiled test binary
// ("go test -c && ./console.test").

import (
	"os"
	"testing"

	"github.com/icarius-os/icarius/internal/device/console"
	"github.com/icarius-os/icarius/internal/device/ps2"
	"github.com/icarius-os/icarius/internal/fifo"
	"golang.org/x/term"
)

func TestConsoleWriterOnRealTerminal(t *testing.T) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		t.Skip("console: stdout is not a TTY")
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		t.Fatalf("term.MakeRaw: %v", err)
	}
	defer term.Restore(fd, saved)

	out := term.NewTerminal(os.Stdout, "")
	w := console.New(out)

	if _, err := w.Write([]byte("icarius console self-test\r\n"), len("icarius console self-test\r\n")); err != 0 {
		t.Fatalf("Write err = %v, want OK", err)
	}

	kbd := &ps2.Keyboard{}
	f := fifo.New(16)
	feed := console.NewKeyboardFeed(kbd, f)
	if _, ok := feed.Feed(0x1e); !ok {
		t.Fatalf("KeyboardFeed did not decode a character fed alongside the live terminal write")
	}
}
