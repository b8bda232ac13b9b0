package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level LogLevel) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: level, Output: &buf})
	if err != nil {
		t.Fatalf("NewZapLogger: %v", err)
	}
	return logger, &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"nonsense", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", nil)

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below warn level leaked into output: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("expected warn and error messages in output: %s", out)
	}
}

func TestZapLogger_Fields(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	logger.Info("refreshing credential",
		String("provider_kind", "slack"),
		Int("attempt", 1))

	out := buf.String()
	if !strings.Contains(out, "provider_kind") || !strings.Contains(out, "slack") {
		t.Errorf("expected structured fields in output: %s", out)
	}
}

func TestZapLogger_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	child := logger.WithFields(String("component", "scheduler"))
	child.Info("sweep complete")

	if !strings.Contains(buf.String(), "scheduler") {
		t.Errorf("expected inherited field in output: %s", buf.String())
	}
}

func TestZapLogger_WithContext(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	ctx := context.WithValue(context.Background(), "credential_id", "cred-123")
	logger.WithContext(ctx).Info("loaded")

	if !strings.Contains(buf.String(), "cred-123") {
		t.Errorf("expected context field in output: %s", buf.String())
	}
}

func TestGlobalLogger(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)
	prev := GetGlobalLogger()
	SetGlobalLogger(logger)
	defer SetGlobalLogger(prev)

	Info("global message", String("k", "v"))

	if !strings.Contains(buf.String(), "global message") {
		t.Errorf("expected global logger output: %s", buf.String())
	}
}
