package hotkey

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	hook "github.com/robotn/gohook"

	"github.com/Rakk301/speech-to-text-app/internal/config"
	"github.com/Rakk301/speech-to-text-app/internal/diaglog"
)

// fakeListener records installs/uninstalls and exposes the fire callback so
// tests can simulate keystrokes from either tier.
type fakeListener struct {
	name       string
	installErr error
	installed  bool
	installs   int
	uninstalls int
	binding    config.HotkeyBinding
	fire       func()
}

func (f *fakeListener) Name() string { return f.name }

func (f *fakeListener) Install(b config.HotkeyBinding, fire func()) error {
	f.installs++
	if f.installErr != nil {
		return f.installErr
	}
	f.installed = true
	f.binding = b
	f.fire = fire
	return nil
}

func (f *fakeListener) Uninstall() {
	f.uninstalls++
	f.installed = false
	f.fire = nil
}

func testBinding() config.HotkeyBinding {
	return config.HotkeyBinding{Key: "d", KeyCode: 2, Cmd: true, Shift: true}
}

func newTestCoordinator(listeners ...Listener) *Coordinator {
	return NewCoordinator(listeners, log.New(io.Discard, "", 0), diaglog.NewNoOp())
}

func TestConfigureInstallsBothTiers(t *testing.T) {
	a := &fakeListener{name: "local"}
	b := &fakeListener{name: "global"}
	c := newTestCoordinator(a, b)
	c.OnTrigger(func() {})

	if err := c.Configure(testBinding()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if !a.installed || !b.installed {
		t.Errorf("both tiers should be installed: local=%v global=%v", a.installed, b.installed)
	}
	if a.binding != testBinding() || b.binding != testBinding() {
		t.Error("both tiers must receive the same binding")
	}
	if got := c.InstalledTiers(); len(got) != 2 {
		t.Errorf("InstalledTiers = %v, want 2 tiers", got)
	}
}

func TestPermissionDeniedDegradesToSingleTier(t *testing.T) {
	a := &fakeListener{name: "local"}
	b := &fakeListener{name: "global", installErr: ErrPermissionDenied}
	c := newTestCoordinator(a, b)
	c.OnTrigger(func() {})

	if err := c.Configure(testBinding()); err != nil {
		t.Fatalf("permission failure on one tier must not be fatal: %v", err)
	}
	tiers := c.InstalledTiers()
	if len(tiers) != 1 || tiers[0] != "local" {
		t.Errorf("InstalledTiers = %v, want [local]", tiers)
	}
}

func TestConfigureFailsWhenNoTierInstalls(t *testing.T) {
	a := &fakeListener{name: "local", installErr: errors.New("monitor failed")}
	b := &fakeListener{name: "global", installErr: ErrPermissionDenied}
	c := newTestCoordinator(a, b)

	if err := c.Configure(testBinding()); err == nil {
		t.Fatal("expected error when no tier could install")
	}
}

func TestRebindUninstallsBeforeReinstalling(t *testing.T) {
	a := &fakeListener{name: "local"}
	b := &fakeListener{name: "global"}
	c := newTestCoordinator(a, b)
	c.OnTrigger(func() {})

	if err := c.Configure(testBinding()); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	next := config.HotkeyBinding{Key: "space", KeyCode: 49, Ctrl: true}
	if err := c.Configure(next); err != nil {
		t.Fatalf("Configure rebind: %v", err)
	}

	if a.uninstalls != 1 || b.uninstalls != 1 {
		t.Errorf("old listeners must be uninstalled before rebinding: local=%d global=%d",
			a.uninstalls, b.uninstalls)
	}
	if a.binding != next || b.binding != next {
		t.Error("listeners still hold the old binding")
	}
	if a.installs != 2 || b.installs != 2 {
		t.Errorf("installs: local=%d global=%d, want 2 each", a.installs, b.installs)
	}
}

func TestSinglePhysicalPressFiresOnce(t *testing.T) {
	a := &fakeListener{name: "local"}
	b := &fakeListener{name: "global"}
	c := newTestCoordinator(a, b)

	fires := 0
	c.OnTrigger(func() { fires++ })
	if err := c.Configure(testBinding()); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	// Both tiers observe the same physical keypress back to back.
	now := time.Now()
	c.now = func() time.Time { return now }
	a.fire()
	b.fire()

	if fires != 1 {
		t.Errorf("one physical press fired %d times, want 1", fires)
	}
}

func TestDistinctPressesEachFire(t *testing.T) {
	a := &fakeListener{name: "local"}
	c := newTestCoordinator(a)

	fires := 0
	c.OnTrigger(func() { fires++ })
	if err := c.Configure(testBinding()); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	now := time.Now()
	c.now = func() time.Time { return now }
	a.fire()
	now = now.Add(dedupWindow + time.Millisecond)
	a.fire()

	if fires != 2 {
		t.Errorf("two separate presses fired %d times, want 2", fires)
	}
}

func TestTeardownStopsFiring(t *testing.T) {
	a := &fakeListener{name: "local"}
	c := newTestCoordinator(a)
	c.OnTrigger(func() { t.Error("fired after teardown") })

	if err := c.Configure(testBinding()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	c.Teardown()

	if a.installed {
		t.Error("listener still installed after Teardown")
	}
	if a.fire != nil {
		t.Error("listener still holds the fire callback")
	}
}

func TestMatchesBinding(t *testing.T) {
	b := config.HotkeyBinding{Key: "d", KeyCode: 2, Cmd: true, Shift: true}

	tests := []struct {
		name string
		ev   hook.Event
		want bool
	}{
		{"exact match", hook.Event{Kind: hook.KeyDown, Rawcode: 2, Mask: maskMeta | maskShift}, true},
		{"wrong key", hook.Event{Kind: hook.KeyDown, Rawcode: 3, Mask: maskMeta | maskShift}, false},
		{"missing shift", hook.Event{Kind: hook.KeyDown, Rawcode: 2, Mask: maskMeta}, false},
		{"extra ctrl", hook.Event{Kind: hook.KeyDown, Rawcode: 2, Mask: maskMeta | maskShift | maskCtrl}, false},
		{"right-side modifiers count", hook.Event{Kind: hook.KeyDown, Rawcode: 2, Mask: 0x0040 | 0x0010}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesBinding(tt.ev, b); got != tt.want {
				t.Errorf("matchesBinding = %v, want %v", got, tt.want)
			}
		})
	}
}

// Compile-time checks: both concrete tiers satisfy Listener.
var (
	_ Listener = (*LocalListener)(nil)
	_ Listener = (*GlobalListener)(nil)
)
