package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Rakk301/speech-to-text-app/internal/audio"
	"github.com/Rakk301/speech-to-text-app/internal/backend"
	"github.com/Rakk301/speech-to-text-app/internal/config"
	"github.com/Rakk301/speech-to-text-app/internal/diaglog"
	"github.com/Rakk301/speech-to-text-app/internal/history"
	"github.com/Rakk301/speech-to-text-app/internal/hotkey"
	"github.com/Rakk301/speech-to-text-app/internal/ipc"
	"github.com/Rakk301/speech-to-text-app/internal/notify"
	"github.com/Rakk301/speech-to-text-app/internal/paste"
	"github.com/Rakk301/speech-to-text-app/internal/pidfile"
	"github.com/Rakk301/speech-to-text-app/internal/session"
)

const logPrefix = "[stt-core]"

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"

	outLog *log.Logger
	errLog *log.Logger
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC in stt-core: %v\n", r)
			if errLog != nil {
				errLog.Printf("PANIC: %v", r)
			}
			os.Exit(1)
		}
	}()

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	outLog.Println("===========================================")
	outLog.Println("Starting stt-core v" + Version + "...")
	outLog.Printf("PID: %d", os.Getpid())
	outLog.Println("===========================================")

	pidPath := pidfile.DefaultPath("stt-core")
	pf, err := pidfile.New(pidPath)
	if err != nil {
		errLog.Printf("Failed to claim PID file: %v", err)
		errLog.Printf("If no other stt-core is running, remove: %s", pidPath)
		os.Exit(1)
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			errLog.Printf("Warning: failed to remove PID file: %v", err)
		}
	}()

	// Settings. A missing file yields defaults; write them out so the
	// backend process (which reads the same file) finds it on first launch.
	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		errLog.Printf("Failed to load settings from %s: %v", configPath, err)
		os.Exit(1)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath, cfg); err != nil {
			errLog.Printf("Warning: could not write default settings: %v", err)
		}
	}
	outLog.Printf("[STARTUP] Settings loaded from %s (hotkey=%s, backend=%s:%d, model=%s)",
		configPath, cfg.Hotkey, cfg.Backend.Host, cfg.Backend.Port, cfg.Backend.Model)

	// Structured diagnostics, enabled by STT_DEBUG=true.
	diagPath := os.Getenv("STT_LOG_PATH")
	if diagPath == "" {
		diagPath = "/tmp/stt-debug.log"
	}
	diag, diagErr := diaglog.New(diagPath)
	if diagErr != nil {
		errLog.Printf("[STARTUP] WARNING: could not open diagnostic log at %s: %v (continuing)", diagPath, diagErr)
		diag = diaglog.NewNoOp()
	}
	defer diag.Close()

	notifier := notify.New("stt", errLog)

	// Transcript sinks per output settings.
	var sinks []session.TextSink
	var store *history.Store
	if cfg.Output.Paste {
		sinks = append(sinks, paste.New(errLog))
	}
	if cfg.Output.History {
		store, err = history.Open(context.Background(), history.DefaultPath(), errLog)
		if err != nil {
			errLog.Printf("[STARTUP] History store unavailable: %v (continuing without history)", err)
		} else {
			defer store.Close()
			if cfg.Output.HistoryLimit > 0 {
				if err := store.Prune(context.Background(), cfg.Output.HistoryLimit); err != nil {
					errLog.Printf("History prune failed: %v", err)
				}
			}
			sinks = append(sinks, store)
		}
	}
	if cfg.Output.Notify {
		sinks = append(sinks, notifier)
	}
	outLog.Printf("[STARTUP] %d transcript sink(s) active", len(sinks))

	// Backend supervisor and transcription client.
	persistPort := func(port int) {
		fresh, err := config.Load(configPath)
		if err != nil {
			errLog.Printf("Cannot persist discovered port: %v", err)
			return
		}
		fresh.Backend.Port = port
		if err := config.Save(configPath, fresh); err != nil {
			errLog.Printf("Cannot persist discovered port: %v", err)
		}
	}
	sup := backend.NewSupervisor(cfg.Backend, configPath, persistPort, errLog, diag)
	client := backend.NewClient(sup, diag)

	outLog.Println("[STARTUP] Starting transcription backend...")
	if err := sup.Start(); err != nil {
		errLog.Printf("[STARTUP] Backend failed to start: %v", err)
		errLog.Println("Dictation will fail until the backend is reachable; check backend.script_path in settings")
		notifier.Notify("Backend unavailable", "Transcription backend failed to start")
	} else {
		ep, _ := sup.Endpoint()
		outLog.Printf("[STARTUP] Backend healthy at %s", ep.BaseURL())
	}
	defer sup.Stop()

	// Status surface: hub first so its address lands in every snapshot.
	hub := ipc.NewHub(errLog)
	hubAddr, err := hub.Start("127.0.0.1:0")
	if err != nil {
		errLog.Printf("[STARTUP] Status hub unavailable: %v (file-based status only)", err)
	} else {
		outLog.Printf("[STARTUP] Status hub listening on ws://%s/status", hubAddr)
		defer hub.Close()
	}

	// Audio capture and session orchestrator.
	capture := audio.New(cfg.Audio, filepath.Join(os.Getenv("HOME"), ".cache", "stt", "audio"), errLog)

	publisher := &statusPublisher{sup: sup, hub: hub, hubAddr: hubAddr}
	orch := session.New(capture, client, sinks, publisher, errLog, diag)
	orch.Start()
	defer orch.Stop()

	// Hotkey tiers. The in-process listener needs no permission; the
	// OS-global one logs Input Monitoring guidance up front since macOS
	// withholds its events silently when the permission is missing.
	coord := hotkey.NewCoordinator([]hotkey.Listener{
		hotkey.NewLocalListener(),
		hotkey.NewGlobalListener(errLog),
	}, errLog, diag)
	coord.OnTrigger(orch.Toggle)
	if err := coord.Configure(cfg.Hotkey); err != nil {
		errLog.Printf("[STARTUP] Hotkey registration failed: %v", err)
		notifier.Notify("Hotkey unavailable", "No hotkey tier could be registered")
	} else {
		outLog.Printf("[STARTUP] Hotkey %s registered (tiers: %v)", cfg.Hotkey, coord.InstalledTiers())
	}
	defer coord.Teardown()
	publisher.setTiers(coord.InstalledTiers())

	// Settings watcher: rebind hotkey and reconfigure backend on change.
	watcher := config.Watch(configPath, errLog)
	defer watcher.Close()

	// Command file watcher for stt-ctl / the menu-bar UI.
	commands := make(chan ipc.Command, 4)
	go watchCommands(commands)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()

	publisher.SessionChanged(session.StateIdle, "", "")
	outLog.Println("[RUNNING] stt-core is running; press the hotkey to dictate")

	for {
		select {
		case next := <-watcher.Updates():
			handleSettingsChange(cfg, next, coord, sup, client, publisher)
			cfg = next

		case cmd := <-commands:
			switch cmd {
			case ipc.CmdToggle:
				outLog.Println("Toggle command received")
				orch.Toggle()
			case ipc.CmdRestartBackend:
				outLog.Println("Backend restart command received")
				go func() {
					if err := sup.RestartForSettingsChange(); err != nil {
						errLog.Printf("Backend restart failed: %v", err)
					}
				}()
			case ipc.CmdQuit:
				outLog.Println("Quit command received, shutting down")
				return
			}

		case <-statusTicker.C:
			publisher.republish()

		case <-sigChan:
			outLog.Println("[SHUTDOWN] Signal received, shutting down gracefully")
			return
		}
	}
}

// handleSettingsChange applies a live settings edit: hotkey rebinds in
// place, backend changes go through the hot-reload/restart classifier.
func handleSettingsChange(old, next *config.Settings, coord *hotkey.Coordinator, sup *backend.Supervisor, client *backend.Client, publisher *statusPublisher) {
	outLog.Println("Settings file changed, applying...")

	if next.Hotkey != old.Hotkey {
		if err := coord.Configure(next.Hotkey); err != nil {
			errLog.Printf("Hotkey rebind to %s failed: %v", next.Hotkey, err)
		} else {
			outLog.Printf("Hotkey rebound to %s", next.Hotkey)
		}
		publisher.setTiers(coord.InstalledTiers())
	}

	if next.Backend != old.Backend {
		go func(settings config.BackendSettings) {
			if err := sup.Reconfigure(settings, client); err != nil {
				errLog.Printf("Backend reconfigure failed: %v", err)
			}
			publisher.republish()
		}(next.Backend)
	}
}

// watchCommands polls the command file. The write side truncates after each
// read, so a short interval is cheap; fsnotify is reserved for the settings
// watcher where latency matters less than correctness.
func watchCommands(out chan<- ipc.Command) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		cmd, err := ipc.ReadCommand()
		if err != nil {
			errLog.Printf("Command read failed: %v", err)
			continue
		}
		if cmd == "" {
			continue
		}
		out <- cmd
	}
}

// statusPublisher fans session state changes out to the status file and the
// WebSocket hub, merging in supervisor state.
type statusPublisher struct {
	sup     *backend.Supervisor
	hub     *ipc.Hub
	hubAddr string

	mu    sync.Mutex
	last  ipc.StatusSnapshot
	tiers []string
}

func (p *statusPublisher) setTiers(tiers []string) {
	p.mu.Lock()
	p.tiers = tiers
	p.mu.Unlock()
	p.republish()
}

// SessionChanged implements session.Observer.
func (p *statusPublisher) SessionChanged(state session.State, sessionID, lastErr string) {
	p.mu.Lock()
	prev := p.last.SessionState
	p.last.SessionState = string(state)
	p.last.SessionID = sessionID
	p.last.LastError = lastErr
	if prev == string(session.StateProcessing) && state == session.StateIdle && lastErr == "" {
		p.last.LastTextAt = time.Now()
	}
	p.mu.Unlock()
	p.republish()
}

func (p *statusPublisher) republish() {
	p.mu.Lock()
	snap := p.last
	snap.HotkeyTiers = append([]string(nil), p.tiers...)
	p.mu.Unlock()

	snap.BackendState = string(p.sup.State())
	if ep, ok := p.sup.Endpoint(); ok {
		snap.Endpoint = ep.BaseURL()
	}
	snap.HubAddr = p.hubAddr
	snap.Timestamp = time.Now()

	if err := ipc.WriteStatus(&snap); err != nil {
		errLog.Printf("Failed to write status: %v", err)
	}
	p.hub.Broadcast(&snap)
}

// initLogging sets up the rotating out/err log pair.
func initLogging() error {
	outLogPath := filepath.Join("/tmp", "stt-core.out.log")
	errLogPath := filepath.Join("/tmp", "stt-core.err.log")

	if err := rotateLogIfNeeded(outLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate out log: %v\n", err)
	}
	if err := rotateLogIfNeeded(errLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate err log: %v\n", err)
	}

	outFile, err := os.OpenFile(outLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	errFile, err := os.OpenFile(errLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	outLog = log.New(outFile, logPrefix+" ", log.LstdFlags)
	errLog = log.New(errFile, logPrefix+" ERROR: ", log.LstdFlags)
	return nil
}

// rotateLogIfNeeded swaps the log to .old once it exceeds maxSize bytes.
func rotateLogIfNeeded(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	oldPath := logPath + ".old"
	if err := os.Remove(oldPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old log: %w", err)
	}
	return os.Rename(logPath, oldPath)
}
