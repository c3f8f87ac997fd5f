// Package ipc is the daemon's surface for the menu-bar UI and the stt-ctl
// CLI: a status snapshot file, a command file, and a loopback WebSocket hub
// streaming status updates.
package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// StatusSnapshot is the complete externally visible daemon state at a point
// in time.
type StatusSnapshot struct {
	SessionState string    `json:"session_state"` // idle | recording | processing
	SessionID    string    `json:"session_id,omitempty"`
	BackendState string    `json:"backend_state"` // stopped | starting | running | restarting
	Endpoint     string    `json:"endpoint,omitempty"`
	HotkeyTiers  []string  `json:"hotkey_tiers,omitempty"`
	HubAddr      string    `json:"hub_addr,omitempty"` // WebSocket status stream address
	LastError    string    `json:"last_error,omitempty"`
	LastTextAt   time.Time `json:"last_text_at,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func cacheDir() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "stt")
}

// WriteStatus persists the snapshot to ~/.cache/stt/status.json atomically.
func WriteStatus(status *StatusSnapshot) error {
	dir := cacheDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return atomicWriteJSON(filepath.Join(dir, "status.json"), status)
}

// ReadStatus loads the last written snapshot.
func ReadStatus() (*StatusSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(cacheDir(), "status.json"))
	if err != nil {
		return nil, err
	}
	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// atomicWriteJSON writes via a temp file and rename so readers never see a
// torn snapshot.
func atomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil

	return os.Rename(tmpPath, path)
}
