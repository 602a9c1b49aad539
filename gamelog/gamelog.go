// Package gamelog is the log sink plus game-console shim the rest of the
// pipeline reports through: failures print a single ERROR: line to the
// console and append the same line to the log file.
package gamelog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Console is the host game's print surface. The host supplies a real
// implementation; a nil console falls back to stderr.
type Console interface {
	Print(line string)
}

type stderrConsole struct{}

func (stderrConsole) Print(line string) { fmt.Fprintln(os.Stderr, line) }

// Logger pairs a structured slog sink with the console.
type Logger struct {
	slog    *slog.Logger
	console Console
	closer  io.Closer
}

// New opens (or appends to) the log file at path. An empty path logs to
// stderr only.
func New(path string, console Console) (*Logger, error) {
	if console == nil {
		console = stderrConsole{}
	}

	var w io.Writer = os.Stderr
	var closer io.Closer
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("gamelog: open %q: %w", path, err)
		}
		w = f
		closer = f
	}

	return &Logger{
		slog:    slog.New(slog.NewTextHandler(w, nil)),
		console: console,
		closer:  closer,
	}, nil
}

// Discard is a logger that drops everything; handy for tests.
func Discard() *Logger {
	return &Logger{
		slog:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		console: stderrConsole{},
	}
}

// Error reports a movie-fatal failure: one ERROR:-prefixed console line and
// the same line in the log.
func (l *Logger) Error(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	l.console.Print("ERROR: " + line)
	l.slog.Error(line)
}

// Info logs without touching the console.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
