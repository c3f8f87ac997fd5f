package hotkey

import (
	"log"
	"runtime"
	"sync"

	hook "github.com/robotn/gohook"

	"github.com/Rakk301/speech-to-text-app/internal/config"
)

// libuiohook modifier masks as carried in hook.Event.Mask. Each combines the
// left and right variant of the key.
const (
	maskShift = 0x0011
	maskCtrl  = 0x0022
	maskMeta  = 0x0044 // cmd on macOS, win elsewhere
	maskAlt   = 0x0088
)

// GlobalListener is the tier-B capture path: an OS-level keyboard hook that
// observes every keystroke regardless of focus. The hook library keeps its
// state in package globals and tears all of it down on End, so the hook is
// started once for the life of the process; Install and Uninstall only swap
// the matcher and never cycle the hook itself.
type GlobalListener struct {
	mu      sync.Mutex
	binding config.HotkeyBinding
	fire    func()
	active  bool
	started bool
	hinted  bool

	errLog    *log.Logger
	startHook func() chan hook.Event // test seam
}

// NewGlobalListener returns an uninstalled tier-B listener.
func NewGlobalListener(errLog *log.Logger) *GlobalListener {
	return &GlobalListener{
		errLog:    errLog,
		startHook: func() chan hook.Event { return hook.Start() },
	}
}

func (g *GlobalListener) Name() string { return "global" }

// Install points the hook at binding. The first call starts the OS hook;
// later calls replace the matcher under the lock, so an event matched after
// Install returns can only fire the new binding.
func (g *GlobalListener) Install(binding config.HotkeyBinding, fire func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.binding = binding
	g.fire = fire
	g.active = true

	if !g.started {
		g.started = true
		go g.loop(g.startHook())
	}

	// macOS delivers no events without Input Monitoring, but the hook
	// reports no error either way, so the guidance is logged up front.
	if runtime.GOOS == "darwin" && !g.hinted {
		g.hinted = true
		g.errLog.Printf("global hotkey needs Input Monitoring; if %s does nothing outside this app, grant it in System Settings > Privacy & Security and restart; the in-app hotkey keeps working meanwhile", binding)
	}
	return nil
}

// Uninstall detaches the matcher. The OS hook keeps running idle until the
// process exits; stopping it would destroy hook state shared with a later
// Install.
func (g *GlobalListener) Uninstall() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	g.fire = nil
}

func (g *GlobalListener) loop(events chan hook.Event) {
	for ev := range events {
		if ev.Kind != hook.KeyDown {
			continue
		}
		g.mu.Lock()
		fire := g.fire
		if !g.active || !matchesBinding(ev, g.binding) {
			fire = nil
		}
		g.mu.Unlock()
		if fire != nil {
			fire()
		}
	}
}

// matchesBinding compares a raw hook event against the binding: the virtual
// key code must match and every modifier must be exactly as configured.
func matchesBinding(ev hook.Event, b config.HotkeyBinding) bool {
	if int(ev.Rawcode) != b.KeyCode {
		return false
	}
	if (ev.Mask&maskMeta != 0) != b.Cmd {
		return false
	}
	if (ev.Mask&maskShift != 0) != b.Shift {
		return false
	}
	if (ev.Mask&maskAlt != 0) != b.Alt {
		return false
	}
	if (ev.Mask&maskCtrl != 0) != b.Ctrl {
		return false
	}
	return true
}
