//go:build darwin

package paste

import (
	"fmt"
	"os/exec"
	"strings"
)

// deliver copies text via pbcopy, then synthesizes cmd+V through System
// Events. The keystroke needs the same Accessibility grant as the global
// hotkey tier; without it the clipboard copy still succeeds.
func (s *Sink) deliver(text string) error {
	copyCmd := exec.Command("pbcopy")
	copyCmd.Stdin = strings.NewReader(text)
	if out, err := copyCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pbcopy: %v: %s", err, out)
	}

	script := `tell application "System Events" to keystroke "v" using command down`
	if out, err := exec.Command("osascript", "-e", script).CombinedOutput(); err != nil {
		return fmt.Errorf("paste keystroke: %v: %s", err, out)
	}
	return nil
}
