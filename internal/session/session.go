// Package session owns the dictation session lifecycle. A session moves
// Idle -> Recording -> Processing -> Idle on a single control goroutine;
// every external stimulus (hotkey toggle, transcription completion) is
// posted as an event, so state is never touched concurrently.
package session

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rakk301/speech-to-text-app/internal/diaglog"
)

// State is the dictation session state.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
)

// Recorder captures microphone audio. Start begins a capture; Stop ends it
// and returns the finished artifact path, with ok=false when no usable
// audio was produced.
type Recorder interface {
	Start(sessionID string) error
	Stop() (path string, ok bool)
}

// Transcriber converts a finished audio artifact into text.
type Transcriber interface {
	Transcribe(audioPath string) (string, error)
}

// TextSink receives a finished transcription. Sinks must not block for
// long; they run on the control goroutine's worker.
type TextSink interface {
	Deliver(sessionID, text string)
}

// Observer is notified after every state change. lastErr is empty unless
// the transition was caused by a failure.
type Observer interface {
	SessionChanged(state State, sessionID string, lastErr string)
}

type event interface{ isEvent() }

type toggleEvent struct{}

type transcribeDone struct {
	sessionID string
	audioPath string
	text      string
	err       error
}

func (toggleEvent) isEvent()    {}
func (transcribeDone) isEvent() {}

// Orchestrator runs the session state machine.
type Orchestrator struct {
	recorder    Recorder
	transcriber Transcriber
	sinks       []TextSink
	observer    Observer
	errLog      *log.Logger
	logger      *diaglog.Logger

	events chan event
	quit   chan struct{}
	done   chan struct{}

	// Mirror of the control goroutine's state for status reporters. The
	// authoritative copy lives in run's locals.
	mu        sync.Mutex
	mirrorOf  State
	mirrorID  string
	mirrorErr string
}

// New creates a stopped orchestrator. observer may be nil.
func New(rec Recorder, tr Transcriber, sinks []TextSink, obs Observer, errLog *log.Logger, logger *diaglog.Logger) *Orchestrator {
	return &Orchestrator{
		recorder:    rec,
		transcriber: tr,
		sinks:       sinks,
		observer:    obs,
		errLog:      errLog,
		logger:      logger,
		events:      make(chan event, 16),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		mirrorOf:    StateIdle,
	}
}

// Start launches the control goroutine.
func (o *Orchestrator) Start() {
	go o.run()
}

// Stop shuts the control goroutine down. An in-flight transcription worker
// finishes on its own; its completion event is discarded.
func (o *Orchestrator) Stop() {
	close(o.quit)
	<-o.done
}

// Toggle posts one toggle event. Never blocks: the hotkey callback must
// return immediately, and a full event queue means the user is mashing the
// key faster than sessions can cycle.
func (o *Orchestrator) Toggle() {
	select {
	case o.events <- toggleEvent{}:
	default:
		o.errLog.Printf("session event queue full, dropping toggle")
	}
}

// State reports the most recently published state, session ID and last
// error message.
func (o *Orchestrator) State() (State, string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mirrorOf, o.mirrorID, o.mirrorErr
}

func (o *Orchestrator) run() {
	defer close(o.done)

	state := StateIdle
	sessionID := ""
	o.publish(state, sessionID, "")

	for {
		select {
		case <-o.quit:
			if state == StateRecording {
				o.recorder.Stop()
			}
			return
		case ev := <-o.events:
			switch e := ev.(type) {
			case toggleEvent:
				state, sessionID = o.handleToggle(state, sessionID)
			case transcribeDone:
				state, sessionID = o.handleDone(state, sessionID, e)
			}
		}
	}
}

func (o *Orchestrator) handleToggle(state State, sessionID string) (State, string) {
	switch state {
	case StateIdle:
		id := uuid.NewString()
		if err := o.recorder.Start(id); err != nil {
			o.errLog.Printf("recording start failed: %v", err)
			o.publish(StateIdle, "", err.Error())
			return StateIdle, ""
		}
		o.transition(StateRecording, id, "")
		o.publish(StateRecording, id, "")
		return StateRecording, id

	case StateRecording:
		path, ok := o.recorder.Stop()
		if !ok {
			o.errLog.Printf("recording produced no audio, session %s discarded", sessionID)
			o.transition(StateIdle, sessionID, "no audio captured")
			o.publish(StateIdle, "", "no audio captured")
			return StateIdle, ""
		}
		o.transition(StateProcessing, sessionID, "")
		o.publish(StateProcessing, sessionID, "")
		// Exactly one transcription request per session, no retries.
		go func(id, audioPath string) {
			text, err := o.transcriber.Transcribe(audioPath)
			select {
			case o.events <- transcribeDone{sessionID: id, audioPath: audioPath, text: text, err: err}:
			case <-o.quit:
			}
		}(sessionID, path)
		return StateProcessing, sessionID

	default: // StateProcessing
		o.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentSession,
			Event:     diaglog.EventSessionRejected,
			SessionID: sessionID,
			Reason:    "processing in progress",
		})
		return state, sessionID
	}
}

func (o *Orchestrator) handleDone(state State, sessionID string, e transcribeDone) (State, string) {
	if state != StateProcessing || e.sessionID != sessionID {
		// Completion for a session that was already abandoned.
		_ = os.Remove(e.audioPath)
		return state, sessionID
	}

	_ = os.Remove(e.audioPath)

	if e.err != nil {
		o.errLog.Printf("transcription failed for session %s: %v", sessionID, e.err)
		o.transition(StateIdle, sessionID, e.err.Error())
		o.publish(StateIdle, "", e.err.Error())
		return StateIdle, ""
	}

	for _, sink := range o.sinks {
		sink.Deliver(sessionID, e.text)
	}
	o.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentSession,
		Event:     diaglog.EventTranscribeResult,
		SessionID: sessionID,
		Payload:   map[string]interface{}{"chars": len(e.text), "sinks": len(o.sinks)},
	})
	o.transition(StateIdle, sessionID, "")
	o.publish(StateIdle, "", "")
	return StateIdle, ""
}

func (o *Orchestrator) transition(to State, sessionID, reason string) {
	o.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentSession,
		Event:     diaglog.EventSessionTransition,
		SessionID: sessionID,
		Reason:    reason,
		Payload:   map[string]interface{}{"to": string(to), "ts": time.Now().UTC().Format(time.RFC3339Nano)},
	})
}

// publish updates the state mirror and informs the observer.
func (o *Orchestrator) publish(state State, sessionID, lastErr string) {
	o.mu.Lock()
	o.mirrorOf, o.mirrorID, o.mirrorErr = state, sessionID, lastErr
	o.mu.Unlock()

	if o.observer != nil {
		o.observer.SessionChanged(state, sessionID, lastErr)
	}
}
