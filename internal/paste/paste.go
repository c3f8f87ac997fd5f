// Package paste delivers finished transcriptions to the frontmost
// application: text is placed on the clipboard and a paste keystroke is
// synthesized.
package paste

import (
	"log"
)

// Sink pastes transcriptions at the cursor.
type Sink struct {
	errLog *log.Logger
}

// New creates a paste sink.
func New(errLog *log.Logger) *Sink {
	return &Sink{errLog: errLog}
}

// Deliver copies text to the clipboard and triggers a paste. Failures are
// logged; the text stays on the clipboard so the user can paste manually.
func (s *Sink) Deliver(sessionID, text string) {
	if text == "" {
		return
	}
	if err := s.deliver(text); err != nil {
		s.errLog.Printf("paste failed for session %s: %v", sessionID, err)
	}
}
