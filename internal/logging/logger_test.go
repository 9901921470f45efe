// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

// TestLoggerFields verifies message, level and context fields are emitted.
func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Info("drain completed", map[string]interface{}{"synced": 3, "component": "coordinator"})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	entry := lines[0]
	if entry["message"] != "drain completed" {
		t.Errorf("message = %v, want drain completed", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["synced"] != float64(3) {
		t.Errorf("synced = %v, want 3", entry["synced"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp field missing")
	}
}

// TestLoggerError verifies errors are attached.
func TestLoggerError(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)

	l.Error("put failed", errors.New("disk full"))
	l.WarnErr("remote attempt failed", errors.New("dial tcp: refused"), map[string]interface{}{"table": "lists"})

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0]["error"] != "disk full" {
		t.Errorf("error = %v, want disk full", lines[0]["error"])
	}
	if lines[1]["level"] != "warning" {
		t.Errorf("level = %v, want warning", lines[1]["level"])
	}
}

// TestLoggerMinLevel verifies filtering below the configured level.
func TestLoggerMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "shown" {
		t.Errorf("got %v, want only the warning", lines)
	}
}

// TestMergeContext verifies multiple maps merge with later keys winning.
func TestMergeContext(t *testing.T) {
	got := mergeContext(map[string]interface{}{"a": 1, "b": 1}, map[string]interface{}{"b": 2})
	if got["a"] != 1 || got["b"] != 2 {
		t.Errorf("mergeContext() = %v", got)
	}
	if mergeContext() != nil {
		t.Error("mergeContext() with no maps should be nil")
	}
}

// TestParseLevel verifies config strings map onto levels.
func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

// TestGlobalInit verifies the package-level helpers use the global logger.
func TestGlobalInit(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelInfo)
	defer Init(&bytes.Buffer{}, LevelInfo)

	Info("hello", map[string]interface{}{"k": "v"})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["k"] != "v" {
		t.Errorf("global Info wrote %v", lines)
	}
}

// TestInitFile verifies the rotating file sink receives entries.
func TestInitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basketbuddy.log")
	closer := InitFile(path, LevelInfo, 1, 1)
	defer Init(&bytes.Buffer{}, LevelInfo)

	Info("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if Get().out == nil {
		t.Error("file logger has no output")
	}
}
