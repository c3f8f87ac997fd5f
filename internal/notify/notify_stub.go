//go:build !darwin

package notify

import (
	"fmt"
	"os/exec"
)

func (n *Notifier) send(subtitle, message string) error {
	if _, err := exec.LookPath("notify-send"); err != nil {
		return fmt.Errorf("notify-send not found")
	}
	title := n.appName
	if subtitle != "" {
		title = n.appName + ": " + subtitle
	}
	if out, err := exec.Command("notify-send", title, message).CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send: %v: %s", err, out)
	}
	return nil
}
