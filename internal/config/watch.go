package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher delivers a freshly loaded *Settings every time the settings file
// changes on disk. Editors and Save both replace the file via rename, so the
// parent directory is watched rather than the file itself.
type Watcher struct {
	path    string
	updates chan *Settings
	stop    chan struct{}
	errLog  *log.Logger
}

// Watch starts watching path. Updates are debounced: a burst of filesystem
// events for one logical save produces one delivery. If fsnotify cannot be
// set up, a 2s polling loop on the file's mtime is used instead.
func Watch(path string, errLog *log.Logger) *Watcher {
	w := &Watcher{
		path:    path,
		updates: make(chan *Settings, 1),
		stop:    make(chan struct{}),
		errLog:  errLog,
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.errLog.Printf("fsnotify not available, falling back to polling: %v", err)
		go w.poll()
		return w
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		w.errLog.Printf("cannot watch settings directory, falling back to polling: %v", err)
		_ = fsw.Close()
		go w.poll()
		return w
	}
	go w.run(fsw)
	return w
}

// Updates returns the channel of reloaded settings snapshots.
func (w *Watcher) Updates() <-chan *Settings {
	return w.updates
}

// Close stops the watcher. The updates channel is not closed; stray
// deliveries after Close are dropped by the buffered send in deliver.
func (w *Watcher) Close() {
	close(w.stop)
}

func (w *Watcher) run(fsw *fsnotify.Watcher) {
	defer fsw.Close()

	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				go w.poll()
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Collapse the write+rename burst of one save into one reload.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			w.deliver()

		case err, ok := <-fsw.Errors:
			if !ok {
				go w.poll()
				return
			}
			w.errLog.Printf("settings watcher error: %v", err)

		case <-w.stop:
			return
		}
	}
}

// poll is the fsnotify fallback: reload whenever the file mtime advances.
func (w *Watcher) poll() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(w.path); err == nil {
		lastMod = info.ModTime()
	}

	for {
		select {
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				w.deliver()
			}
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) deliver() {
	s, err := Load(w.path)
	if err != nil {
		w.errLog.Printf("settings changed but reload failed, keeping previous: %v", err)
		return
	}
	// Replace a pending undelivered snapshot rather than blocking.
	select {
	case <-w.updates:
	default:
	}
	select {
	case w.updates <- s:
	case <-w.stop:
	}
}
