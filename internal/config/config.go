// Package config holds the user-editable settings for the dictation core and
// the supervised transcription backend. The same YAML file is handed to the
// backend process on its command line, so field names here must stay in sync
// with what the backend's config loader expects.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// HotkeyBinding is an immutable snapshot of the dictation toggle combination.
// KeyCode is the platform virtual key code used by the in-process listener;
// Key is the lowercase key name used by the OS-global hook registration.
type HotkeyBinding struct {
	Key     string `yaml:"key"`
	KeyCode int    `yaml:"key_code"`
	Cmd     bool   `yaml:"cmd"`
	Shift   bool   `yaml:"shift"`
	Alt     bool   `yaml:"alt"`
	Ctrl    bool   `yaml:"ctrl"`
}

// String renders the binding for logs, e.g. "cmd+shift+d".
func (b HotkeyBinding) String() string {
	s := ""
	if b.Cmd {
		s += "cmd+"
	}
	if b.Ctrl {
		s += "ctrl+"
	}
	if b.Alt {
		s += "alt+"
	}
	if b.Shift {
		s += "shift+"
	}
	return s + b.Key
}

// BackendSettings configures the supervised transcription server process.
// Model, Language, Task and Temperature can be applied to a running backend
// via its reload endpoint; Host and Port always require a process restart.
type BackendSettings struct {
	ScriptPath  string  `yaml:"script_path"` // backend entry script
	Host        string  `yaml:"host"`
	Port        int     `yaml:"port"` // 0 or occupied: discover a free port
	Model       string  `yaml:"model"`
	Language    string  `yaml:"language"`
	Task        string  `yaml:"task"`
	Temperature float64 `yaml:"temperature"`
}

// AudioSettings configures the capture collaborator.
type AudioSettings struct {
	InputDevice string `yaml:"input_device"` // capture device identifier, "" = default
	SampleRate  int    `yaml:"sample_rate"`
}

// OutputSettings controls what happens with a finished transcription.
type OutputSettings struct {
	Paste        bool `yaml:"paste"`
	History      bool `yaml:"history"`
	Notify       bool `yaml:"notify"`
	HistoryLimit int  `yaml:"history_limit"` // max stored transcripts, 0 = unlimited
}

// Settings is the full persisted configuration.
type Settings struct {
	Hotkey  HotkeyBinding   `yaml:"hotkey"`
	Backend BackendSettings `yaml:"backend"`
	Audio   AudioSettings   `yaml:"audio"`
	Output  OutputSettings  `yaml:"output"`
}

// Default returns the settings used when no file exists yet.
// cmd+shift+d, key code 2 = the "d" key on macOS keyboards.
func Default() *Settings {
	return &Settings{
		Hotkey: HotkeyBinding{Key: "d", KeyCode: 2, Cmd: true, Shift: true},
		Backend: BackendSettings{
			Host:        "127.0.0.1",
			Port:        3001,
			Model:       "small",
			Language:    "en",
			Task:        "transcribe",
			Temperature: 0.0,
		},
		Audio:  AudioSettings{SampleRate: 16000},
		Output: OutputSettings{Paste: true, History: true, Notify: true, HistoryLimit: 500},
	}
}

// Path returns the settings file location, honoring STT_CONFIG_PATH for tests
// and non-standard installs.
func Path() string {
	if p := os.Getenv("STT_CONFIG_PATH"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "stt", "settings.yaml")
}

// Load reads settings from path. A missing file yields defaults (and no
// error) so first launch works without an install step.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes settings to path atomically (temp file + rename) so the
// watching backend or a concurrent reader never sees a half-written file.
func Save(path string, s *Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "settings-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	tmp = nil

	return os.Rename(tmpPath, path)
}

// Validate checks field ranges. Kept permissive: the backend does its own
// model validation, this only rejects values the core cannot work with.
func (s *Settings) Validate() error {
	if s.Hotkey.Key == "" {
		return fmt.Errorf("hotkey.key must not be empty")
	}
	if s.Hotkey.KeyCode < 0 {
		return fmt.Errorf("hotkey.key_code must be >= 0, got %d", s.Hotkey.KeyCode)
	}
	if !s.Hotkey.Cmd && !s.Hotkey.Shift && !s.Hotkey.Alt && !s.Hotkey.Ctrl {
		return fmt.Errorf("hotkey needs at least one modifier")
	}
	if s.Backend.Host == "" {
		return fmt.Errorf("backend.host must not be empty")
	}
	if s.Backend.Port < 0 || s.Backend.Port > 65535 {
		return fmt.Errorf("backend.port must be 0-65535, got %d", s.Backend.Port)
	}
	if s.Backend.Temperature < 0 || s.Backend.Temperature > 1 {
		return fmt.Errorf("backend.temperature must be 0.0-1.0, got %g", s.Backend.Temperature)
	}
	return nil
}

// Clone returns a deep copy. Settings snapshots are handed to goroutines;
// callers mutate only their own copy.
func (s *Settings) Clone() *Settings {
	c := *s
	return &c
}
