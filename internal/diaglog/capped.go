package diaglog

import (
	"os"
	"sync"
)

// cappedWriter is a mutex-guarded append-only writer that starts the file
// over when the next write would exceed maxSize, so the file always holds
// the most recent entries.
type cappedWriter struct {
	path    string
	maxSize int64
	f       *os.File
	size    int64
	mu      sync.Mutex
}

func newCappedWriter(path string, maxSize int64) (*cappedWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &cappedWriter{path: path, maxSize: maxSize, f: f, size: info.Size()}, nil
}

// Write appends p. If size+len(p) would exceed maxSize the file is truncated
// to zero first; the overflowing write lands in the fresh file. Every write
// is followed by a Sync so a crashed session leaves usable diagnostics.
func (cw *cappedWriter) Write(p []byte) (int, error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.size+int64(len(p)) > cw.maxSize {
		if err := cw.f.Truncate(0); err != nil {
			return 0, err
		}
		if _, err := cw.f.Seek(0, 0); err != nil {
			return 0, err
		}
		cw.size = 0
	}

	n, err := cw.f.Write(p)
	if err != nil {
		return n, err
	}
	cw.size += int64(n)
	_ = cw.f.Sync()
	return n, nil
}

func (cw *cappedWriter) close() error {
	_ = cw.f.Sync()
	return cw.f.Close()
}
