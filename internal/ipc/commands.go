package ipc

import (
	"os"
	"path/filepath"
	"strings"
)

// Command is a user command delivered from the UI or CLI to the daemon.
type Command string

const (
	CmdToggle         Command = "toggle"          // toggle the dictation session
	CmdRestartBackend Command = "restart-backend" // force a backend restart
	CmdQuit           Command = "quit"            // shut the daemon down
)

// WriteCommand writes a command to ~/.cache/stt/cmd.txt.
func WriteCommand(cmd Command) error {
	dir := cacheDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "cmd.txt"), []byte(string(cmd)), 0o644)
}

// ReadCommand reads and clears ~/.cache/stt/cmd.txt. Returns empty when no
// command is pending; unknown commands are dropped.
func ReadCommand() (Command, error) {
	cmdPath := filepath.Join(cacheDir(), "cmd.txt")

	data, err := os.ReadFile(cmdPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	// Clear immediately so a command never executes twice.
	if err := os.WriteFile(cmdPath, []byte(""), 0o644); err != nil {
		return "", err
	}

	cmd := Command(strings.TrimSpace(string(data)))
	switch cmd {
	case CmdToggle, CmdRestartBackend, CmdQuit:
		return cmd, nil
	default:
		return "", nil
	}
}
