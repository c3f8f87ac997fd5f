// Package notify surfaces short user-facing notices (transcription ready,
// backend trouble) through the platform notification system.
package notify

import (
	"log"
	"unicode/utf8"
)

// Notifier posts desktop notifications. All failures are logged and
// swallowed; notifications are never load-bearing.
type Notifier struct {
	appName string
	errLog  *log.Logger
}

// New creates a notifier titled with appName.
func New(appName string, errLog *log.Logger) *Notifier {
	return &Notifier{appName: appName, errLog: errLog}
}

// Notify posts one notification.
func (n *Notifier) Notify(subtitle, message string) {
	if err := n.send(subtitle, message); err != nil {
		n.errLog.Printf("notification failed: %v", err)
	}
}

// Deliver posts a "transcription ready" notice with a short preview.
func (n *Notifier) Deliver(sessionID, text string) {
	n.Notify("Transcription ready", preview(text, 80))
}

// preview truncates on a rune boundary so a multibyte character is never
// split into an invalid sequence.
func preview(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max]) + "..."
}
