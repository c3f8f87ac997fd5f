// Package audio captures microphone input into temporary WAV files using
// an external ffmpeg process. One capture runs at a time; the artifact is
// named after the dictation session that produced it.
package audio

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/Rakk301/speech-to-text-app/internal/config"
)

// A valid WAV file is at least this long (RIFF header); anything shorter
// means the capture produced no audio.
const minArtifactBytes = 44

// Capture records microphone audio via ffmpeg.
type Capture struct {
	settings config.AudioSettings
	dir      string // artifact directory
	errLog   *log.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	path string
}

// New creates a capture writing artifacts into dir (created on demand).
func New(settings config.AudioSettings, dir string, errLog *log.Logger) *Capture {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "stt-audio")
	}
	return &Capture{settings: settings, dir: dir, errLog: errLog}
}

// Start begins recording into <dir>/<sessionID>.wav.
func (c *Capture) Start(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil {
		return fmt.Errorf("capture already running")
	}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}

	path := filepath.Join(c.dir, sessionID+".wav")
	cmd := exec.Command("ffmpeg", c.captureArgs(path)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	c.cmd = cmd
	c.path = path
	return nil
}

// Stop ends the recording and returns the artifact path. ok is false when
// no usable audio file was produced.
func (c *Capture) Stop() (string, bool) {
	c.mu.Lock()
	cmd := c.cmd
	path := c.path
	c.cmd = nil
	c.path = ""
	c.mu.Unlock()

	if cmd == nil {
		return "", false
	}

	// SIGINT makes ffmpeg finalize the WAV header before exiting.
	_ = cmd.Process.Signal(syscall.SIGINT)
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.errLog.Printf("ffmpeg ignored SIGINT, killing")
		_ = cmd.Process.Kill()
		<-done
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() < minArtifactBytes {
		c.errLog.Printf("capture produced no usable audio at %s", path)
		_ = os.Remove(path)
		return "", false
	}
	return path, true
}

// captureArgs builds the ffmpeg command line for the current platform.
func (c *Capture) captureArgs(path string) []string {
	rate := c.settings.SampleRate
	if rate <= 0 {
		rate = 16000
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	switch runtime.GOOS {
	case "darwin":
		device := c.settings.InputDevice
		if device == "" {
			device = ":default"
		}
		args = append(args, "-f", "avfoundation", "-i", device)
	default:
		device := c.settings.InputDevice
		if device == "" {
			device = "default"
		}
		args = append(args, "-f", "alsa", "-i", device)
	}
	return append(args,
		"-ar", strconv.Itoa(rate),
		"-ac", "1",
		"-y", path,
	)
}
