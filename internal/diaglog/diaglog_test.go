package diaglog

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestLogWritesNDJSON(t *testing.T) {
	t.Setenv("STT_DEBUG", "true")

	tmp := t.TempDir() + "/test.ndjson"
	l, err := New(tmp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	entries := []LogEntry{
		{Component: ComponentHotkey, Event: EventHotkeyTrigger},
		{Component: ComponentSession, Event: EventSessionTransition, Reason: "hotkey", SessionID: "abc123"},
		{Component: ComponentSupervisor, Event: EventBackendSpawn},
	}
	for _, e := range entries {
		l.Log(e)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(tmp)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []map[string]interface{}
	for scanner.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("invalid JSON line: %v -> %s", err, scanner.Text())
		}
		lines = append(lines, m)
	}
	if len(lines) != len(entries) {
		t.Fatalf("want %d lines, got %d", len(entries), len(lines))
	}
	if lines[0]["component"] != ComponentHotkey {
		t.Errorf("component mismatch: %v", lines[0]["component"])
	}
	if lines[1]["session_id"] != "abc123" {
		t.Errorf("session_id mismatch: %v", lines[1]["session_id"])
	}
	if lines[0]["ts"] == nil {
		t.Error("ts field missing")
	}
}

func TestLogDisabledIsNoOp(t *testing.T) {
	t.Setenv("STT_DEBUG", "")

	tmp := t.TempDir() + "/never.ndjson"
	l, err := New(tmp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Log(LogEntry{Component: ComponentCore, Event: EventBackendReady})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Errorf("expected no file to be created, stat err = %v", err)
	}
}

func TestNilAndNoOpLoggerSafe(t *testing.T) {
	var nilLogger *Logger
	nilLogger.Log(LogEntry{Event: "x"}) // must not panic
	if err := nilLogger.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}

	noop := NewNoOp()
	noop.Log(LogEntry{Event: "y"})
	if err := noop.Close(); err != nil {
		t.Errorf("noop Close: %v", err)
	}
}

func TestRedactPayload(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{
			name: "transcript text redacted",
			in:   map[string]interface{}{"text": "hello world", "chars": 11},
			want: map[string]interface{}{"text": "[REDACTED]", "chars": 11},
		},
		{
			name: "nested audio path redacted",
			in: map[string]interface{}{
				"request": map[string]interface{}{"audio_path": "/Users/x/rec.wav"},
			},
			want: map[string]interface{}{
				"request": map[string]interface{}{"audio_path": "[REDACTED]"},
			},
		},
		{
			name: "slices traversed",
			in: []interface{}{
				map[string]interface{}{"transcription": "secret words"},
			},
			want: []interface{}{
				map[string]interface{}{"transcription": "[REDACTED]"},
			},
		},
		{
			name: "scalar passthrough",
			in:   42,
			want: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.in)
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("Redact() = %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestCappedWriterStartsOver(t *testing.T) {
	tmp := t.TempDir() + "/capped.log"
	cw, err := newCappedWriter(tmp, 64)
	if err != nil {
		t.Fatalf("newCappedWriter: %v", err)
	}
	defer cw.close()

	line := strings.Repeat("a", 30) + "\n"
	for i := 0; i < 3; i++ { // third write overflows the 64-byte cap
		if _, err := cw.Write([]byte(line)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	data, err := os.ReadFile(tmp)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != len(line) {
		t.Errorf("expected file to hold exactly the last write (%d bytes), got %d", len(line), len(data))
	}
}
