package backend

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rakk301/speech-to-text-app/internal/config"
	"github.com/Rakk301/speech-to-text-app/internal/diaglog"
	"github.com/Rakk301/speech-to-text-app/internal/portalloc"
)

// Supervisor tests re-exec the test binary as the backend entry script.
// When STT_TEST_BACKEND=1 is in the environment, TestMain runs a small
// HTTP server speaking the backend wire contract instead of the tests.
func TestMain(m *testing.M) {
	if os.Getenv("STT_TEST_BACKEND") == "1" {
		fakeBackendMain()
		return
	}
	os.Exit(m.Run())
}

// fakeBackendMain mimics the transcription server: it records its spawn,
// parses --host/--port from argv, and serves /health. STT_TEST_BACKEND_DIE=1
// makes it exit before binding, to exercise the startup failure path.
func fakeBackendMain() {
	host, port := "127.0.0.1", ""
	args := os.Args
	for i, a := range args {
		if a == "--host" && i+1 < len(args) {
			host = args[i+1]
		}
		if a == "--port" && i+1 < len(args) {
			port = args[i+1]
		}
	}

	if logPath := os.Getenv("STT_TEST_SPAWN_LOG"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			fmt.Fprintf(f, "host=%s port=%s\n", host, port)
			f.Close()
		}
	}

	if os.Getenv("STT_TEST_BACKEND_DIE") == "1" {
		os.Exit(3)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"transcription": "fake"})
	})
	if err := http.ListenAndServe(net.JoinHostPort(host, port), mux); err != nil {
		os.Exit(4)
	}
}

func testSettings(t *testing.T) config.BackendSettings {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("locate test binary: %v", err)
	}
	port, err := portalloc.FindFreePort()
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	return config.BackendSettings{
		ScriptPath:  exe,
		Host:        "127.0.0.1",
		Port:        port,
		Model:       "small",
		Language:    "en",
		Task:        "transcribe",
		Temperature: 0,
	}
}

// newTestSupervisor wires a supervisor to the fake backend with timeouts
// tightened for tests. The spawn log path is returned for assertions.
func newTestSupervisor(t *testing.T, settings config.BackendSettings, persistPort func(int)) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	spawnLog := filepath.Join(dir, "spawns.log")
	t.Setenv("STT_TEST_BACKEND", "1")
	t.Setenv("STT_TEST_SPAWN_LOG", spawnLog)

	configPath := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(configPath, []byte("backend:\n  model: small\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewSupervisor(settings, configPath, persistPort, log.New(io.Discard, "", 0), diaglog.NewNoOp())
	s.startupTimeout = 5 * time.Second
	s.healthInterval = 20 * time.Millisecond
	s.restartDelay = 200 * time.Millisecond
	s.killGrace = 2 * time.Second
	t.Cleanup(s.Stop)
	return s, spawnLog
}

// spawnLines returns one "host=H port=P" line per backend spawn, oldest
// first.
func spawnLines(t *testing.T, spawnLog string) []string {
	t.Helper()
	data, err := os.ReadFile(spawnLog)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read spawn log: %v", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func countSpawns(t *testing.T, spawnLog string) int {
	t.Helper()
	return len(spawnLines(t, spawnLog))
}

func TestSupervisorStartBecomesHealthy(t *testing.T) {
	settings := testSettings(t)
	s, spawnLog := newTestSupervisor(t, settings, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.State(); got != StateRunning {
		t.Errorf("state = %s, want %s", got, StateRunning)
	}
	ep, ok := s.Endpoint()
	if !ok {
		t.Fatal("no endpoint after successful start")
	}
	if ep.Port != settings.Port {
		t.Errorf("endpoint port = %d, want configured %d", ep.Port, settings.Port)
	}
	if err := s.CheckHealth(); err != nil {
		t.Errorf("CheckHealth: %v", err)
	}
	if n := countSpawns(t, spawnLog); n != 1 {
		t.Errorf("spawn count = %d, want 1", n)
	}
}

func TestSupervisorStartWhileRunning(t *testing.T) {
	s, _ := newTestSupervisor(t, testSettings(t), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start must fail while running")
	}
}

func TestSupervisorDiscoversPortWhenConfiguredTaken(t *testing.T) {
	settings := testSettings(t)

	// Occupy the configured port so Resolve must discover another.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", settings.Port))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	var persisted int
	s, _ := newTestSupervisor(t, settings, func(p int) { persisted = p })

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ep, ok := s.Endpoint()
	if !ok {
		t.Fatal("no endpoint after start")
	}
	if ep.Port == settings.Port {
		t.Errorf("endpoint still on occupied port %d", settings.Port)
	}
	if persisted != ep.Port {
		t.Errorf("persisted port = %d, want discovered %d", persisted, ep.Port)
	}
	if got := s.Settings().Port; got != ep.Port {
		t.Errorf("settings port = %d, want discovered %d", got, ep.Port)
	}
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	s, _ := newTestSupervisor(t, testSettings(t), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()
	if got := s.State(); got != StateStopped {
		t.Errorf("state = %s, want %s", got, StateStopped)
	}
	if _, ok := s.Endpoint(); ok {
		t.Error("endpoint still reported after stop")
	}
	s.Stop() // second stop must be a no-op
	if got := s.State(); got != StateStopped {
		t.Errorf("state after double stop = %s, want %s", got, StateStopped)
	}
}

func TestSupervisorStartFailsWhenBackendDies(t *testing.T) {
	s, _ := newTestSupervisor(t, testSettings(t), nil)
	t.Setenv("STT_TEST_BACKEND_DIE", "1")

	if err := s.Start(); err == nil {
		t.Fatal("Start must fail when the backend exits before readiness")
	}
	if got := s.State(); got != StateStopped {
		t.Errorf("state = %s, want %s", got, StateStopped)
	}
	if _, ok := s.Endpoint(); ok {
		t.Error("endpoint reported after failed start")
	}
}

func TestConcurrentRestartsCollapseToOne(t *testing.T) {
	s, spawnLog := newTestSupervisor(t, testSettings(t), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.RestartForSettingsChange() }()

	// Land inside the first cycle's stop/delay window.
	time.Sleep(50 * time.Millisecond)
	if err := s.RestartForSettingsChange(); err != nil {
		t.Errorf("duplicate restart request: %v", err)
	}

	if err := <-firstDone; err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := s.State(); got != StateRunning {
		t.Errorf("state = %s, want %s", got, StateRunning)
	}
	// Initial start plus exactly one restart cycle.
	if n := countSpawns(t, spawnLog); n != 2 {
		t.Errorf("spawn count = %d, want 2", n)
	}
}

// fakeReloader records reload attempts without a live backend.
type fakeReloader struct {
	mu       sync.Mutex
	supports bool
	err      error
	calls    []ReloadParams
}

func (f *fakeReloader) SupportsReload() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supports
}

func (f *fakeReloader) ReloadModel(p ReloadParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return f.err
}

func (f *fakeReloader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestReconfigureNoChangeIsNoOp(t *testing.T) {
	settings := testSettings(t)
	s, spawnLog := newTestSupervisor(t, settings, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rel := &fakeReloader{supports: true}
	if err := s.Reconfigure(settings, rel); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if rel.callCount() != 0 {
		t.Error("reload attempted with no settings change")
	}
	if n := countSpawns(t, spawnLog); n != 1 {
		t.Errorf("spawn count = %d, want 1 (no restart)", n)
	}
}

func TestReconfigureHotReload(t *testing.T) {
	settings := testSettings(t)
	s, spawnLog := newTestSupervisor(t, settings, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rel := &fakeReloader{supports: true}
	next := settings
	next.Model = "large-v2"
	if err := s.Reconfigure(next, rel); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if rel.callCount() != 1 {
		t.Fatalf("reload calls = %d, want 1", rel.callCount())
	}
	if got := rel.calls[0].Model; got != "large-v2" {
		t.Errorf("reloaded model = %q, want %q", got, "large-v2")
	}
	if n := countSpawns(t, spawnLog); n != 1 {
		t.Errorf("spawn count = %d, want 1 (reload must not restart)", n)
	}
	if got := s.State(); got != StateRunning {
		t.Errorf("state = %s, want %s", got, StateRunning)
	}
}

func TestReconfigureReloadFailureFallsBackToRestart(t *testing.T) {
	settings := testSettings(t)
	s, spawnLog := newTestSupervisor(t, settings, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rel := &fakeReloader{supports: true, err: fmt.Errorf("model load failed")}
	next := settings
	next.Model = "large-v2"
	if err := s.Reconfigure(next, rel); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if rel.callCount() != 1 {
		t.Errorf("reload calls = %d, want 1", rel.callCount())
	}
	// Exactly one restart cycle after the failed reload, never more.
	if n := countSpawns(t, spawnLog); n != 2 {
		t.Errorf("spawn count = %d, want 2", n)
	}
	if got := s.State(); got != StateRunning {
		t.Errorf("state = %s, want %s", got, StateRunning)
	}
}

func TestReconfigureUnsupportedReloadRestarts(t *testing.T) {
	settings := testSettings(t)
	s, spawnLog := newTestSupervisor(t, settings, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rel := &fakeReloader{supports: false}
	next := settings
	next.Language = "de"
	if err := s.Reconfigure(next, rel); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if rel.callCount() != 0 {
		t.Error("reload attempted despite unsupported capability")
	}
	if n := countSpawns(t, spawnLog); n != 2 {
		t.Errorf("spawn count = %d, want 2", n)
	}
}

func TestReconfigurePortChangeRestartsWithoutReload(t *testing.T) {
	settings := testSettings(t)
	s, spawnLog := newTestSupervisor(t, settings, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	newPort, err := portalloc.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	rel := &fakeReloader{supports: true}
	next := settings
	next.Port = newPort
	if err := s.Reconfigure(next, rel); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if rel.callCount() != 0 {
		t.Error("endpoint changes must never go through hot reload")
	}
	if n := countSpawns(t, spawnLog); n != 2 {
		t.Errorf("spawn count = %d, want 2", n)
	}
	ep, ok := s.Endpoint()
	if !ok {
		t.Fatal("no endpoint after restart")
	}
	if ep.Port != newPort {
		t.Errorf("endpoint port = %d, want %d", ep.Port, newPort)
	}
}

func TestReconfigureHostChangeRestartsWithNewArgv(t *testing.T) {
	settings := testSettings(t)
	s, spawnLog := newTestSupervisor(t, settings, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// localhost stays bindable by the fake backend while still being a
	// different host value than the configured 127.0.0.1.
	rel := &fakeReloader{supports: true}
	next := settings
	next.Host = "localhost"
	if err := s.Reconfigure(next, rel); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if rel.callCount() != 0 {
		t.Error("endpoint changes must never go through hot reload")
	}

	lines := spawnLines(t, spawnLog)
	if len(lines) != 2 {
		t.Fatalf("spawn count = %d, want 2 (one stop, one start)", len(lines))
	}
	want := fmt.Sprintf("host=localhost port=%d", settings.Port)
	if lines[1] != want {
		t.Errorf("restarted argv = %q, want %q", lines[1], want)
	}
	ep, ok := s.Endpoint()
	if !ok {
		t.Fatal("no endpoint after restart")
	}
	if ep.Host != "localhost" {
		t.Errorf("endpoint host = %q, want %q", ep.Host, "localhost")
	}
	if got := s.State(); got != StateRunning {
		t.Errorf("state = %s, want %s", got, StateRunning)
	}
}

func TestMergedEnv(t *testing.T) {
	env := []string{"HOME=/Users/x", "PATH=/usr/bin:/bin"}
	out := mergedEnv(env, []string{"/opt/homebrew/bin", "/usr/local/bin"})

	var path string
	for _, kv := range out {
		if strings.HasPrefix(kv, "PATH=") {
			path = strings.TrimPrefix(kv, "PATH=")
		}
	}
	want := "/opt/homebrew/bin" + string(os.PathListSeparator) + "/usr/local/bin" + string(os.PathListSeparator) + "/usr/bin:/bin"
	if path != want {
		t.Errorf("PATH = %q, want %q", path, want)
	}

	out = mergedEnv([]string{"HOME=/Users/x"}, []string{"/usr/local/bin"})
	found := false
	for _, kv := range out {
		if kv == "PATH=/usr/local/bin" {
			found = true
		}
	}
	if !found {
		t.Error("PATH not synthesized when absent from environment")
	}
}
