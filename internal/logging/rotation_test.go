package logging

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriter_RotatesAtLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	chunk := []byte(strings.Repeat("x", 600*1024) + "\n")
	for i := 0; i < 2; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(BackupPath(path, 1)); err != nil {
		t.Errorf("expected backup .1 after exceeding limit: %v", err)
	}
	if rw.Size() != int64(len(chunk)) {
		t.Errorf("Size() = %d, want %d", rw.Size(), len(chunk))
	}
}

func TestRotatingWriter_KeepsMaxBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	chunk := []byte(strings.Repeat("y", 700*1024))
	for i := 0; i < 5; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	for _, n := range []int{1, 2} {
		if _, err := os.Stat(BackupPath(path, n)); err != nil {
			t.Errorf("backup .%d missing: %v", n, err)
		}
	}
	if _, err := os.Stat(BackupPath(path, 3)); !os.IsNotExist(err) {
		t.Errorf("backup .3 should not exist, stat err = %v", err)
	}
}

func TestRotatingWriter_NoBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 0})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	chunk := []byte(strings.Repeat("z", 700*1024))
	_, _ = rw.Write(chunk)
	_, _ = rw.Write(chunk)

	if _, err := os.Stat(BackupPath(path, 1)); !os.IsNotExist(err) {
		t.Errorf("no backup expected with MaxBackups=0, stat err = %v", err)
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	first := strings.Repeat("a", 700*1024)
	_, _ = rw.Write([]byte(first))
	_, _ = rw.Write([]byte(strings.Repeat("b", 700*1024)))

	// Close waits for the background compression.
	if err := rw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(BackupPath(path, 1) + ".gz")
	if err != nil {
		t.Fatalf("compressed backup missing: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != first {
		t.Error("compressed backup content mismatch")
	}
	if _, err := os.Stat(BackupPath(path, 1)); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed after compression")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), FileName), RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("Write after Close should fail")
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestRotatingWriter_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("existing\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rw, err := NewRotatingWriter(path, RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	if rw.Size() != int64(len("existing\n")) {
		t.Errorf("Size() = %d, want %d", rw.Size(), len("existing\n"))
	}
	if rw.Path() != path {
		t.Errorf("Path() = %q, want %q", rw.Path(), path)
	}
}
