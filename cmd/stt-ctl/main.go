// stt-ctl is the command-line control surface for the stt-core daemon:
// it sends commands through the shared command file, prints the status
// snapshot, streams live status from the WebSocket hub, and lists
// transcript history.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/Rakk301/speech-to-text-app/internal/history"
	"github.com/Rakk301/speech-to-text-app/internal/ipc"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "status":
		err = printStatus()
	case "toggle":
		err = ipc.WriteCommand(ipc.CmdToggle)
	case "restart-backend":
		err = ipc.WriteCommand(ipc.CmdRestartBackend)
	case "quit":
		err = ipc.WriteCommand(ipc.CmdQuit)
	case "watch":
		err = watch()
	case "history":
		n := 20
		if len(os.Args) > 2 {
			if v, convErr := strconv.Atoi(os.Args[2]); convErr == nil {
				n = v
			}
		}
		err = printHistory(n)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: stt-ctl <command>

commands:
  status           print the daemon status snapshot
  toggle           start or stop a dictation session
  restart-backend  force a transcription backend restart
  quit             shut the daemon down
  watch            stream live status updates
  history [n]      print the n most recent transcripts (default 20)`)
}

func printStatus() error {
	status, err := ipc.ReadStatus()
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no status file; is stt-core running?")
		}
		return err
	}

	fmt.Printf("session:  %s", status.SessionState)
	if status.SessionID != "" {
		fmt.Printf(" (%s)", status.SessionID)
	}
	fmt.Println()
	fmt.Printf("backend:  %s", status.BackendState)
	if status.Endpoint != "" {
		fmt.Printf(" at %s", status.Endpoint)
	}
	fmt.Println()
	if len(status.HotkeyTiers) > 0 {
		fmt.Printf("hotkey:   %v\n", status.HotkeyTiers)
	}
	if status.LastError != "" {
		fmt.Printf("last err: %s\n", status.LastError)
	}
	if !status.LastTextAt.IsZero() {
		fmt.Printf("last txt: %s\n", status.LastTextAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("as of:    %s\n", status.Timestamp.Format("2006-01-02 15:04:05"))
	return nil
}

// watch dials the daemon's status hub and prints each snapshot as a JSON
// line until interrupted.
func watch() error {
	status, err := ipc.ReadStatus()
	if err != nil {
		return fmt.Errorf("no status file; is stt-core running?")
	}
	if status.HubAddr == "" {
		return fmt.Errorf("daemon has no status hub (check its error log)")
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+status.HubAddr+"/status", nil)
	if err != nil {
		return fmt.Errorf("dial status hub: %w", err)
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fmt.Println(string(data))
	}
}

func printHistory(n int) error {
	store, err := history.Open(context.Background(), history.DefaultPath(), log.New(io.Discard, "", 0))
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(context.Background(), n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no transcripts recorded")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Text)
	}
	return nil
}
