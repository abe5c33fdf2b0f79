package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelWarn)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message", nil)

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Error("Messages below the minimum level must be suppressed")
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Error("Messages at or above the minimum level must appear")
	}
}

func TestJSONOutputWithContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelInfo)

	l.Info("queued item", map[string]interface{}{"queue_id": "q1", "priority": 10})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if entry["msg"] != "queued item" {
		t.Errorf("Unexpected message: %v", entry["msg"])
	}
	if entry["queue_id"] != "q1" {
		t.Errorf("Expected context field, got %v", entry["queue_id"])
	}
	if entry["level"] != "info" {
		t.Errorf("Unexpected level: %v", entry["level"])
	}
}

func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelInfo)

	l.ErrorWithCode("sync failed", "SYNC_TIMEOUT", nil)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if entry["error_code"] != "SYNC_TIMEOUT" {
		t.Errorf("Expected error_code field, got %v", entry["error_code"])
	}
}

func TestMergeContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelInfo)

	l.Info("merged",
		map[string]interface{}{"a": 1},
		map[string]interface{}{"b": 2, "a": 3})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if entry["a"] != float64(3) {
		t.Errorf("Later context maps must win, got %v", entry["a"])
	}
	if entry["b"] != float64(2) {
		t.Errorf("Expected merged field, got %v", entry["b"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
