package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// rotatedLayout keeps rotated names sortable and unique at millisecond
// resolution.
const rotatedLayout = "20060102-150405.000"

// RotatingWriter is an io.WriteCloser that rotates log files by size.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	size       int64
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
	now        func() time.Time
}

// NewRotatingWriter opens the log file (creating it and its directory if
// needed) and returns a writer that rotates once the file would exceed
// maxSizeMB. Rotated files are named <base>-<timestamp><ext>; at most
// maxBackups are kept and any older than maxAgeDays are removed.
func NewRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:       path,
		maxBytes:   int64(maxSizeMB) << 20,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
		now:        time.Now,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write implements io.Writer. A single write larger than the limit still
// lands in one file.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.size > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

func (rw *RotatingWriter) splitName() (dir, base, ext string) {
	ext = filepath.Ext(rw.path)
	base = strings.TrimSuffix(filepath.Base(rw.path), ext)
	if ext == "" {
		ext = ".log"
	}
	return filepath.Dir(rw.path), base, ext
}

func (rw *RotatingWriter) rotate() error {
	if rw.file != nil {
		rw.file.Close()
	}

	dir, base, ext := rw.splitName()
	rotated := filepath.Join(dir, base+"-"+rw.now().Format(rotatedLayout)+ext)
	if err := os.Rename(rw.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotating log file: %w", err)
	}
	if err := rw.open(); err != nil {
		return err
	}

	go rw.prune()
	return nil
}

// prune removes rotated files beyond maxBackups and past maxAge. It
// returns the number of files removed.
func (rw *RotatingWriter) prune() int {
	dir, base, ext := rw.splitName()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	current := filepath.Base(rw.path)
	var rotated []string
	for _, e := range entries {
		name := e.Name()
		if name != current && strings.HasPrefix(name, base+"-") && strings.HasSuffix(name, ext) {
			rotated = append(rotated, name)
		}
	}
	slices.Sort(rotated)

	removed := 0
	for len(rotated) > rw.maxBackups {
		if os.Remove(filepath.Join(dir, rotated[0])) == nil {
			removed++
		}
		rotated = rotated[1:]
	}

	if rw.maxAge <= 0 {
		return removed
	}
	cutoff := time.Now().Add(-rw.maxAge)
	for _, name := range rotated {
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err == nil && info.ModTime().Before(cutoff) && os.Remove(p) == nil {
			removed++
		}
	}
	return removed
}
