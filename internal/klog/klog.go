// Package klog provides the kernel's structured diagnostics, wrapping
// log/slog the way smoynes-elsie/internal/log wraps it for another
// simulated-machine project: a single handler, terse single-line records,
// no per-package logger construction ceremony.
package klog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// SetOutput redirects kernel diagnostics, mainly for tests that want to
// capture or silence boot chatter.
func SetOutput(w io.Writer, level slog.Level) {
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Debugf logs at debug level. The teacher reserves fmt.Printf-style
// diagnostics for bring-up and faults only (§9 ambient stack); everything
// else, if logged at all, is debug level.
func Debugf(format string, args ...any) {
	logger.Log(context.Background(), slog.LevelDebug, logfmt(format, args...))
}

// Infof logs a bring-up or steady-state informational record.
func Infof(format string, args ...any) {
	logger.Log(context.Background(), slog.LevelInfo, logfmt(format, args...))
}

// Warnf logs a recoverable anomaly (e.g. vm/userbuf.go's "suspiciously
// large user buffer" warning).
func Warnf(format string, args ...any) {
	logger.Log(context.Background(), slog.LevelWarn, logfmt(format, args...))
}

// Panic prints a fatal diagnostic and panics, mirroring §7's panic(msg):
// print to console, cli; hlt. In the simulated machine, halting the virtual
// CPU is the caller's responsibility after unwinding; Panic only guarantees
// the message reaches the log before the Go panic propagates.
func Panic(format string, args ...any) {
	msg := logfmt(format, args...)
	logger.Log(context.Background(), slog.LevelError, msg)
	panic(msg)
}

func logfmt(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
