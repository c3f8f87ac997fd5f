// Package diaglog provides structured NDJSON diagnostic logging for the
// dictation core. Activated by STT_DEBUG=true. When the env var is absent,
// all Log calls are no-ops and no file is created.
package diaglog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// ── Component labels ─────────────────────────────────────────────────────────

const (
	ComponentHotkey     = "hotkey"
	ComponentSession    = "session"
	ComponentSupervisor = "supervisor"
	ComponentClient     = "backend-client"
	ComponentIPC        = "ipc"
	ComponentCore       = "stt-core"
)

// ── Event names ──────────────────────────────────────────────────────────────

const (
	EventHotkeyTrigger     = "hotkey_trigger"
	EventHotkeyDuplicate   = "hotkey_duplicate_drop"
	EventHotkeyRebind      = "hotkey_rebind"
	EventSessionTransition = "session_transition"
	EventSessionRejected   = "session_toggle_rejected"
	EventBackendSpawn      = "backend_spawn"
	EventBackendReady      = "backend_ready"
	EventBackendExit       = "backend_exit"
	EventBackendStdout     = "backend_stdout"
	EventBackendStderr     = "backend_stderr"
	EventBackendRestart    = "backend_restart"
	EventBackendReload     = "backend_reload"
	EventTranscribeRequest = "transcribe_request"
	EventTranscribeResult  = "transcribe_result"
	EventHealthCheck       = "health_check"
)

// ── LogEntry ─────────────────────────────────────────────────────────────────

// LogEntry is one structured event record written as a single JSON line.
type LogEntry struct {
	Timestamp string      `json:"ts"` // RFC3339Nano
	Component string      `json:"component"`
	Event     string      `json:"event"`
	SessionID string      `json:"session_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Payload   interface{} `json:"payload,omitempty"` // redacted before write
}

// ── Logger ───────────────────────────────────────────────────────────────────

// Logger writes LogEntry values to a size-capped NDJSON file. When debug mode
// is disabled every Log call is a no-op.
type Logger struct {
	cw      *cappedWriter
	mu      sync.Mutex
	enabled bool
}

// New opens (or creates) the NDJSON log file at path. If debug mode is
// disabled, path is ignored and a no-op logger is returned.
func New(path string) (*Logger, error) {
	if !IsDebugEnabled() {
		return &Logger{enabled: false}, nil
	}
	cw, err := newCappedWriter(path, 10*1024*1024)
	if err != nil {
		return nil, err
	}
	return &Logger{cw: cw, enabled: true}, nil
}

// Log serialises entry to JSON, appends a newline, and writes it out.
// Sensitive payload fields (transcript text, audio paths) are redacted
// before serialisation.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Payload != nil {
		entry.Payload = Redact(entry.Payload)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.cw.Write(data)
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.cw == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cw.close()
}

// IsDebugEnabled reports whether STT_DEBUG is set to "true".
func IsDebugEnabled() bool {
	return os.Getenv("STT_DEBUG") == "true"
}

// NewNoOp returns a logger where every Log call is a no-op. Use as a safe
// fallback when New fails (e.g., disk full, permissions error).
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}
