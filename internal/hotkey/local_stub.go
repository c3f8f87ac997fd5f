//go:build !darwin

package hotkey

import (
	"errors"

	"github.com/Rakk301/speech-to-text-app/internal/config"
)

// LocalListener is unavailable off macOS; the global hook carries the
// binding alone there.
type LocalListener struct{}

func NewLocalListener() *LocalListener { return &LocalListener{} }

func (l *LocalListener) Name() string { return "local" }

func (l *LocalListener) Install(config.HotkeyBinding, func()) error {
	return errors.New("hotkey: local event monitor not supported on this platform")
}

func (l *LocalListener) Uninstall() {}
