package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_DefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Writer: &buf})

	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message logged at info level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("info message missing: %q", out)
	}
}

func TestNew_Verbose(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Verbose: true, Writer: &buf})

	logger.Debug("visible")

	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug message missing in verbose mode: %q", buf.String())
	}
}

func TestSlogAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(New(Options{Writer: &buf}))

	child := adapter.With("component", "cache")
	child.Info("hit")

	out := buf.String()
	if !strings.Contains(out, "component=cache") {
		t.Errorf("attribute missing: %q", out)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Debug("a")
	logger.Info("b")
	logger.Warn("c")
	logger.Error("d")
	if logger.With("k", "v") != logger {
		t.Error("With should return the same NopLogger")
	}
}
