//go:build darwin

package hotkey

import (
	"sync"

	"github.com/progrium/darwinkit/macos/appkit"
	"github.com/progrium/darwinkit/objc"

	"github.com/Rakk301/speech-to-text-app/internal/config"
)

// LocalListener is the tier-A capture path on macOS: an NSEvent local
// monitor. It needs no permission and never sees other apps' keystrokes;
// it fires only while this process owns the key window. Matching events
// are consumed so the combination never reaches the focused text field.
type LocalListener struct {
	mu      sync.Mutex
	monitor objc.Object
	active  bool
}

// NewLocalListener returns an uninstalled tier-A listener. The monitor must
// be installed from the main run loop; cmd wiring guarantees that.
func NewLocalListener() *LocalListener {
	return &LocalListener{}
}

func (l *LocalListener) Name() string { return "local" }

func (l *LocalListener) Install(binding config.HotkeyBinding, fire func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		l.uninstallLocked()
	}

	l.monitor = appkit.Event_AddLocalMonitorForEventsMatchingMaskHandler(
		appkit.EventMaskKeyDown,
		func(event appkit.Event) appkit.Event {
			if !localEventMatches(event, binding) {
				return event
			}
			fire()
			// Returning an empty event consumes the keystroke.
			return appkit.Event{}
		},
	)
	l.active = true
	return nil
}

func (l *LocalListener) Uninstall() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.uninstallLocked()
}

func (l *LocalListener) uninstallLocked() {
	if !l.active {
		return
	}
	appkit.Event_RemoveMonitor(l.monitor)
	l.monitor = objc.Object{}
	l.active = false
}

// localEventMatches compares an NSEvent against the binding: virtual key
// code plus an exact modifier set.
func localEventMatches(event appkit.Event, b config.HotkeyBinding) bool {
	if int(event.KeyCode()) != b.KeyCode {
		return false
	}
	flags := event.ModifierFlags()
	if (flags&appkit.EventModifierFlagCommand != 0) != b.Cmd {
		return false
	}
	if (flags&appkit.EventModifierFlagShift != 0) != b.Shift {
		return false
	}
	if (flags&appkit.EventModifierFlagOption != 0) != b.Alt {
		return false
	}
	if (flags&appkit.EventModifierFlagControl != 0) != b.Ctrl {
		return false
	}
	return true
}
