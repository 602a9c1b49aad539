package gamelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type captureConsole struct {
	lines []string
}

func (c *captureConsole) Print(line string) { c.lines = append(c.lines, line) }

func TestErrorHitsConsoleAndLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.log")
	console := &captureConsole{}

	l, err := New(path, console)
	if err != nil {
		t.Fatal(err)
	}

	l.Error("codec %s refused to open", "libx264")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	if len(console.lines) != 1 {
		t.Fatalf("console got %d lines", len(console.lines))
	}
	if console.lines[0] != "ERROR: codec libx264 refused to open" {
		t.Errorf("console line = %q", console.lines[0])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "codec libx264 refused to open") {
		t.Errorf("log file missing the line: %q", data)
	}
}

func TestInfoSkipsConsole(t *testing.T) {
	console := &captureConsole{}
	l, err := New("", console)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("movie started", "name", "run1")
	if len(console.lines) != 0 {
		t.Errorf("Info should not print to the console, got %v", console.lines)
	}
}
