// Package hotkey captures the dictation toggle combination through two
// redundant listeners: an in-process event monitor that needs no permission
// but only sees events delivered to this app (tier A), and an OS-global hook
// that works regardless of focus but requires the input-monitoring permission
// (tier B). Both are driven by one Coordinator against the same binding.
package hotkey

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Rakk301/speech-to-text-app/internal/config"
	"github.com/Rakk301/speech-to-text-app/internal/diaglog"
)

// ErrPermissionDenied signals that a listener could not register because the
// OS withheld the required input-monitoring permission. Callers degrade to
// tier-A-only operation; this is never fatal.
var ErrPermissionDenied = errors.New("hotkey: input monitoring permission denied")

// Listener is one capture tier. Install wires the listener to a binding and
// a fire callback; Uninstall fully removes it so a stale binding can never
// trigger again.
type Listener interface {
	Name() string
	Install(binding config.HotkeyBinding, fire func()) error
	Uninstall()
}

// dedupWindow bounds how close together two fires can be and still count as
// one logical keypress. Both tiers can legally observe the same keystroke
// when the app is focused; a human cannot toggle twice this fast.
const dedupWindow = 150 * time.Millisecond

// Coordinator installs every available listener against the current binding
// and funnels their fires into one deduplicated callback.
type Coordinator struct {
	mu        sync.Mutex
	listeners []Listener
	installed []Listener
	binding   config.HotkeyBinding
	cb        func()
	lastFire  time.Time

	now    func() time.Time // test seam
	errLog *log.Logger
	logger *diaglog.Logger
}

// NewCoordinator creates a coordinator over the given tiers. Call OnTrigger
// before Configure.
func NewCoordinator(listeners []Listener, errLog *log.Logger, logger *diaglog.Logger) *Coordinator {
	return &Coordinator{
		listeners: listeners,
		now:       time.Now,
		errLog:    errLog,
		logger:    logger,
	}
}

// OnTrigger sets the shared callback invoked once per logical keypress.
func (c *Coordinator) OnTrigger(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

// Configure tears down any installed listeners and installs all tiers
// against binding. A tier that fails with ErrPermissionDenied is logged
// with remediation guidance and skipped; any other install error is logged
// as a registration failure. Configure only returns an error when no tier
// at all could be installed.
func (c *Coordinator) Configure(binding config.HotkeyBinding) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()
	c.binding = binding

	var lastErr error
	for _, l := range c.listeners {
		if err := l.Install(binding, c.fire); err != nil {
			lastErr = err
			if errors.Is(err, ErrPermissionDenied) {
				c.errLog.Printf("hotkey tier %s unavailable: %v", l.Name(), err)
				c.errLog.Printf("grant Input Monitoring to this app in System Settings > Privacy & Security, then restart; the in-app hotkey keeps working meanwhile")
			} else {
				c.errLog.Printf("hotkey tier %s registration failed: %v", l.Name(), err)
			}
			continue
		}
		c.installed = append(c.installed, l)
	}

	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentHotkey,
		Event:     diaglog.EventHotkeyRebind,
		Payload: map[string]interface{}{
			"binding": binding.String(),
			"tiers":   len(c.installed),
		},
	})

	if len(c.installed) == 0 {
		return fmt.Errorf("no hotkey tier could be installed for %s: %w", binding, lastErr)
	}
	return nil
}

// Teardown uninstalls all tiers. Safe to call repeatedly.
func (c *Coordinator) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *Coordinator) teardownLocked() {
	for _, l := range c.installed {
		l.Uninstall()
	}
	c.installed = nil
}

// InstalledTiers returns the names of the currently active listeners.
func (c *Coordinator) InstalledTiers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.installed))
	for _, l := range c.installed {
		names = append(names, l.Name())
	}
	return names
}

// fire is the shared listener callback. It collapses fires from both tiers
// for the same physical keypress into a single trigger.
func (c *Coordinator) fire() {
	c.mu.Lock()
	now := c.now()
	if !c.lastFire.IsZero() && now.Sub(c.lastFire) < dedupWindow {
		c.mu.Unlock()
		c.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentHotkey,
			Event:     diaglog.EventHotkeyDuplicate,
		})
		return
	}
	c.lastFire = now
	cb := c.cb
	c.mu.Unlock()

	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentHotkey,
		Event:     diaglog.EventHotkeyTrigger,
	})
	if cb != nil {
		cb()
	}
}
