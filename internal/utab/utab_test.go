package utab

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/platinasystems/gomount/internal/entry"
)

// memoryLock is a process-local stand-in for DefaultFileLock, used so tests
// don't depend on flock against a real filesystem.
type memoryLock struct {
	mu sync.Mutex
}

func (m *memoryLock) Lock(path string) (Locker, error) {
	m.mu.Lock()
	return memoryLocker{&m.mu}, nil
}

type memoryLocker struct{ mu *sync.Mutex }

func (l memoryLocker) Unlock() error { l.mu.Unlock(); return nil }

func TestApplyInsertsNewEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "utab")

	u := New().WithPath(path).WithLockProvider(&memoryLock{})
	e := entry.NewUTabEntry("/dev/sda1", "/mnt")
	e.UserOptions = "noauto"
	u.SetEntry(e, 0)

	if err := u.Apply(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("expected utab file to be written")
	}
}

func TestApplyIdempotentWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "utab")

	u := New().WithPath(path).WithLockProvider(&memoryLock{})
	e := entry.NewUTabEntry("/dev/sda1", "/mnt")
	u.SetEntry(e, 0)
	if err := u.Apply(); err != nil {
		t.Fatal(err)
	}
	first, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	u.SetEntry(entry.NewUTabEntry("/dev/sda1", "/mnt"), 0)
	if err := u.Apply(); err != nil {
		t.Fatal(err)
	}
	second, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.ModTime() != second.ModTime() {
		t.Errorf("expected no rewrite on idempotent apply: mtimes %v vs %v", first.ModTime(), second.ModTime())
	}
}

func TestApplyRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "utab")

	u := New().WithPath(path).WithLockProvider(&memoryLock{})
	u.SetEntry(entry.NewUTabEntry("/dev/sda1", "/mnt"), 0)
	if err := u.Apply(); err != nil {
		t.Fatal(err)
	}

	u.SetUmount("/mnt", 0)
	if err := u.Apply(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty utab after removal, got %q", data)
	}
}

func TestApplyForceReadOnlyIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "utab")

	u := New().WithPath(path).WithLockProvider(&memoryLock{}).WithForceReadOnly(true)
	u.SetEntry(entry.NewUTabEntry("/dev/sda1", "/mnt"), 0)
	if err := u.Apply(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no file created under force_read_only, stat err = %v", err)
	}
}
