package console

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{Output: &buf})

	l.Debug("hidden", "k", 1)
	l.Info("visible", "run_id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug message should be filtered at info level, got %q", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "run_id=abc") {
		t.Fatalf("info message with keyvals expected, got %q", out)
	}
}

func TestConsoleLogger_DebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{Output: &buf, Debug: true})

	l.Debug("details")
	if !strings.Contains(buf.String(), "details") {
		t.Fatalf("debug message expected when Debug=true, got %q", buf.String())
	}
}
