package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("json", "info", &buf)

	log.Debug("hidden")
	log.Info("values in window", "window", 5)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "values in window" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["window"] != float64(5) {
		t.Errorf("window = %v", entry["window"])
	}
}

func TestNew_TextWithoutColorOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	log := New("text", "debug", &buf)

	log.Debug("evaluating", "target", "fio-randwrite")

	out := buf.String()
	if !strings.Contains(out, "evaluating") || !strings.Contains(out, "target=fio-randwrite") {
		t.Errorf("unexpected output %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("expected no ANSI escapes when not writing to a terminal: %q", out)
	}
}
