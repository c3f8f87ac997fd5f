package backend

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Rakk301/speech-to-text-app/internal/config"
	"github.com/Rakk301/speech-to-text-app/internal/diaglog"
	"github.com/Rakk301/speech-to-text-app/internal/portalloc"
)

// State is the supervisor's lifecycle state.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
)

// helperToolDirs are prepended to the child's PATH so the backend can locate
// ffmpeg and its own interpreter regardless of how the daemon was launched
// (launchd strips the user's shell PATH).
var helperToolDirs = []string{"/opt/homebrew/bin", "/usr/local/bin"}

// process is one spawned backend. done is closed when Wait returns, so Stop
// can bound its termination wait and the reaper can detect unexpected exits.
type process struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Reloader applies hot parameters to a running backend. *Client implements
// it; tests substitute fakes.
type Reloader interface {
	SupportsReload() bool
	ReloadModel(ReloadParams) error
}

// Supervisor launches, health-checks, restarts and hot-reconfigures the
// transcription backend process. Quick state reads and writes happen under
// one mutex; spawning, health polling and HTTP calls run outside it so a
// concurrent restart request can observe the isRestarting guard without
// blocking.
type Supervisor struct {
	mu           sync.Mutex
	state        State
	proc         *process
	endpoint     Endpoint
	haveEndpoint bool
	isRestarting bool
	settings     config.BackendSettings

	configPath  string
	persistPort func(int) // invoked when a discovered port should be saved

	errLog *log.Logger
	logger *diaglog.Logger
	probe  *http.Client

	// Tuned down by tests.
	startupTimeout time.Duration // max wait for the first healthy response
	healthInterval time.Duration // readiness poll spacing
	restartDelay   time.Duration // OS socket/file cleanup pause between stop and start
	killGrace      time.Duration // SIGTERM to SIGKILL escalation
}

// NewSupervisor creates a stopped supervisor. configPath is the settings
// file handed to the backend on its command line; persistPort may be nil.
func NewSupervisor(settings config.BackendSettings, configPath string, persistPort func(int), errLog *log.Logger, logger *diaglog.Logger) *Supervisor {
	return &Supervisor{
		state:          StateStopped,
		settings:       settings,
		configPath:     configPath,
		persistPort:    persistPort,
		errLog:         errLog,
		logger:         logger,
		probe:          &http.Client{Timeout: 2 * time.Second},
		startupTimeout: 30 * time.Second,
		healthInterval: 200 * time.Millisecond,
		restartDelay:   500 * time.Millisecond,
		killGrace:      5 * time.Second,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint implements EndpointSource. ok is false until a backend has been
// started and become healthy.
func (s *Supervisor) Endpoint() (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint, s.haveEndpoint
}

// Settings returns the supervisor's current backend settings snapshot.
func (s *Supervisor) Settings() config.BackendSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Start resolves the endpoint, spawns the backend and waits for it to become
// healthy. Readiness is a successful GET /health within startupTimeout; the
// supervisor never pattern-matches process output for a banner.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return fmt.Errorf("backend already %s", s.state)
	}
	if s.state != StateRestarting {
		s.state = StateStarting
	}
	cfg := s.settings
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return err
	}

	if cfg.ScriptPath == "" {
		return fail(fmt.Errorf("backend script path not configured"))
	}

	port, discovered, err := portalloc.Resolve(cfg.Port)
	if err != nil {
		return fail(fmt.Errorf("port allocation failed: %w", err))
	}
	if discovered {
		s.mu.Lock()
		s.settings.Port = port
		s.mu.Unlock()
		if s.persistPort != nil {
			s.persistPort(port)
		}
		s.errLog.Printf("configured backend port %d unavailable, using %d", cfg.Port, port)
	}

	cmd := exec.Command(cfg.ScriptPath, s.configPath, "--host", cfg.Host, "--port", strconv.Itoa(port))
	cmd.Dir = filepath.Dir(cfg.ScriptPath)
	cmd.Env = mergedEnv(os.Environ(), helperToolDirs)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(fmt.Errorf("backend stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(fmt.Errorf("backend stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("backend spawn failed: %w", err))
	}

	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentSupervisor,
		Event:     diaglog.EventBackendSpawn,
		Payload: map[string]interface{}{
			"pid":  cmd.Process.Pid,
			"host": cfg.Host,
			"port": port,
		},
	})

	// Output is captured for diagnostics only; readiness comes from /health.
	go s.drain(stdout, false)
	go s.drain(stderr, true)

	p := &process{cmd: cmd, done: make(chan struct{})}
	go s.reap(p)

	ep := Endpoint{Host: cfg.Host, Port: port}
	if err := s.awaitReady(ep, p); err != nil {
		s.terminate(p)
		return fail(err)
	}

	s.mu.Lock()
	s.proc = p
	s.endpoint = ep
	s.haveEndpoint = true
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentSupervisor,
		Event:     diaglog.EventBackendReady,
		Payload:   map[string]interface{}{"endpoint": ep.BaseURL()},
	})
	return nil
}

// Stop terminates the backend and transitions to Stopped. No-op when no
// process is running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	p := s.proc
	s.proc = nil
	s.haveEndpoint = false
	if s.state != StateRestarting {
		s.state = StateStopped
	}
	s.mu.Unlock()

	if p == nil {
		return
	}
	s.terminate(p)
}

// RestartForSettingsChange performs one stop/start cycle. A second call
// arriving while one is in flight logs and returns immediately; cycles never
// queue or compound.
func (s *Supervisor) RestartForSettingsChange() error {
	s.mu.Lock()
	if s.isRestarting {
		s.mu.Unlock()
		s.errLog.Printf("backend restart already in progress, ignoring duplicate request")
		return nil
	}
	s.isRestarting = true
	s.state = StateRestarting
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRestarting = false
		s.mu.Unlock()
	}()

	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentSupervisor,
		Event:     diaglog.EventBackendRestart,
	})

	s.Stop()
	// Give the OS a moment to release the old socket before rebinding.
	time.Sleep(s.restartDelay)
	return s.Start()
}

// Reconfigure applies a settings change. Hot-reloadable fields go through
// the backend's reload endpoint when the capability probe allows it; any
// probe or reload failure, and any restart-required field, leads to a full
// restart so the backend never sits in an unknown state.
func (s *Supervisor) Reconfigure(next config.BackendSettings, rel Reloader) error {
	s.mu.Lock()
	diff := config.DiffBackend(s.settings, next)
	s.settings = next
	s.mu.Unlock()

	if diff.Empty() {
		return nil
	}
	if diff.NeedsRestart() {
		s.errLog.Printf("backend settings changed (%s): restart required", strings.Join(diff.Restart, ", "))
		return s.RestartForSettingsChange()
	}

	if rel != nil && rel.SupportsReload() {
		params := ReloadParams{
			Model:       next.Model,
			Language:    next.Language,
			Task:        next.Task,
			Temperature: next.Temperature,
		}
		if err := rel.ReloadModel(params); err == nil {
			s.logger.Log(diaglog.LogEntry{
				Component: diaglog.ComponentSupervisor,
				Event:     diaglog.EventBackendReload,
				Reason:    strings.Join(diff.Hot, ","),
			})
			return nil
		} else {
			s.errLog.Printf("hot reload failed, falling back to restart: %v", err)
		}
	} else {
		s.errLog.Printf("backend does not support hot reload, restarting")
	}
	return s.RestartForSettingsChange()
}

// CheckHealth issues one short-timeout GET against the current endpoint.
func (s *Supervisor) CheckHealth() error {
	ep, ok := s.Endpoint()
	if !ok {
		return fmt.Errorf("backend not running")
	}
	resp, err := s.probe.Get(ep.BaseURL() + "/health")
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check: backend returned %d", resp.StatusCode)
	}
	return nil
}

// awaitReady polls /health until the backend answers 2xx, the process dies,
// or startupTimeout passes.
func (s *Supervisor) awaitReady(ep Endpoint, p *process) error {
	deadline := time.Now().Add(s.startupTimeout)
	url := ep.BaseURL() + "/health"

	for {
		select {
		case <-p.done:
			return fmt.Errorf("backend exited before becoming healthy")
		default:
		}

		resp, err := s.probe.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("backend did not become healthy within %s", s.startupTimeout)
		}
		time.Sleep(s.healthInterval)
	}
}

// terminate sends SIGTERM and escalates to SIGKILL after killGrace.
func (s *Supervisor) terminate(p *process) {
	if p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return
	case <-time.After(s.killGrace):
		s.errLog.Printf("backend ignored SIGTERM, killing pid %d", p.cmd.Process.Pid)
		_ = p.cmd.Process.Kill()
	}
	<-p.done
}

// reap waits on the child and records unexpected exits. If this process is
// still the current one the supervisor transitions to Stopped so the next
// transcription surfaces a clean NetworkError instead of hanging.
func (s *Supervisor) reap(p *process) {
	err := p.cmd.Wait()
	close(p.done)

	s.mu.Lock()
	current := s.proc == p
	if current {
		s.proc = nil
		s.haveEndpoint = false
		s.state = StateStopped
	}
	s.mu.Unlock()

	if current {
		s.errLog.Printf("backend exited unexpectedly: %v", err)
		s.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentSupervisor,
			Event:     diaglog.EventBackendExit,
			Reason:    "unexpected",
		})
	}
}

// drain forwards one output stream line by line into the diagnostic log.
func (s *Supervisor) drain(r io.Reader, isStderr bool) {
	event := diaglog.EventBackendStdout
	if isStderr {
		event = diaglog.EventBackendStderr
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentSupervisor,
			Event:     event,
			Payload:   map[string]interface{}{"line": scanner.Text()},
		})
	}
}

// mergedEnv prepends extra directories to PATH in a copy of env.
func mergedEnv(env []string, extraDirs []string) []string {
	out := make([]string, 0, len(env))
	found := false
	prefix := strings.Join(extraDirs, string(os.PathListSeparator))
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			found = true
			out = append(out, "PATH="+prefix+string(os.PathListSeparator)+strings.TrimPrefix(kv, "PATH="))
			continue
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, "PATH="+prefix)
	}
	return out
}
