package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the size in megabytes at which the active file is rotated.
	// Zero disables rotation.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept next to the active one.
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files.
	Compress bool `mapstructure:"compress"`
}

// DefaultRotationConfig returns the rotation settings used when none are configured.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// RotatingWriter is an io.WriteCloser over a log file that moves the file
// aside once it grows past a size limit. Backups are numbered from 1
// (newest) to MaxBackups (oldest). It is safe for concurrent use.
type RotatingWriter struct {
	mu     sync.Mutex
	path   string
	limit  int64
	cfg    RotationConfig
	file   *os.File
	size   int64
	gzipWG sync.WaitGroup
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:  path,
		limit: int64(cfg.MaxSizeMB) << 20,
		cfg:   cfg,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past the limit.
// A failed rotation keeps writing to the current file rather than losing lines.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, os.ErrClosed
	}
	if rw.limit > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "phonefleet: log rotation failed: %v\n", err)
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// rotate must be called with mu held.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	rw.shiftBackups()

	if rw.cfg.MaxBackups <= 0 {
		if err := os.Remove(rw.path); err != nil && !os.IsNotExist(err) {
			return rw.reopenAfter(err)
		}
		return rw.open()
	}

	first := BackupPath(rw.path, 1)
	if err := os.Rename(rw.path, first); err != nil {
		return rw.reopenAfter(err)
	}
	if rw.cfg.Compress {
		rw.gzipWG.Add(1)
		go func() {
			defer rw.gzipWG.Done()
			if err := gzipFile(first); err != nil {
				fmt.Fprintf(os.Stderr, "phonefleet: log compression failed: %v\n", err)
			}
		}()
	}
	return rw.open()
}

func (rw *RotatingWriter) reopenAfter(cause error) error {
	if err := rw.open(); err != nil {
		return fmt.Errorf("rotate: %w (reopen: %v)", cause, err)
	}
	return fmt.Errorf("rotate: %w", cause)
}

// shiftBackups drops the oldest backup and renumbers the rest up by one.
func (rw *RotatingWriter) shiftBackups() {
	n := rw.cfg.MaxBackups
	if n <= 0 {
		return
	}
	oldest := BackupPath(rw.path, n)
	_ = os.Remove(oldest)
	_ = os.Remove(oldest + ".gz")

	for i := n - 1; i >= 1; i-- {
		from, to := BackupPath(rw.path, i), BackupPath(rw.path, i+1)
		if err := os.Rename(from+".gz", to+".gz"); err == nil {
			continue
		}
		_ = os.Rename(from, to)
	}
}

// BackupPath returns the path of the n-th rotated file for path.
func BackupPath(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return err
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// Sync flushes the active file.
func (rw *RotatingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	return rw.file.Sync()
}

// Close syncs and closes the active file and waits for pending compression.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	var err error
	if rw.file != nil {
		if serr := rw.file.Sync(); serr != nil {
			err = fmt.Errorf("failed to sync log file: %w", serr)
		}
		if cerr := rw.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close log file: %w", cerr)
		}
		rw.file = nil
	}
	rw.mu.Unlock()

	rw.gzipWG.Wait()
	return err
}

// Size returns the number of bytes in the active file.
func (rw *RotatingWriter) Size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}

// Path returns the active file path.
func (rw *RotatingWriter) Path() string {
	return rw.path
}
