//go:build !darwin

package paste

import (
	"fmt"
	"os/exec"
	"strings"
)

// deliver copies text with whichever X11/Wayland clipboard tool is present.
// Keystroke synthesis is not attempted off macOS.
func (s *Sink) deliver(text string) error {
	for _, tool := range [][]string{
		{"wl-copy"},
		{"xclip", "-selection", "clipboard"},
		{"xsel", "--clipboard", "--input"},
	} {
		if _, err := exec.LookPath(tool[0]); err != nil {
			continue
		}
		cmd := exec.Command(tool[0], tool[1:]...)
		cmd.Stdin = strings.NewReader(text)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%s: %v: %s", tool[0], err, out)
		}
		return nil
	}
	return fmt.Errorf("no clipboard tool found (tried wl-copy, xclip, xsel)")
}
