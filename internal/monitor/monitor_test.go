package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWaitTimesOutWithNoActivity(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	res, err := m.Wait(50)
	if err != nil {
		t.Fatal(err)
	}
	if res != TimeOut {
		t.Errorf("Wait = %v, want TimeOut", res)
	}
}

func TestWatchUserSpaceDetectsModify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "utab")
	if err := os.WriteFile(path, []byte("initial\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.WatchUserSpace(path); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(path, []byte("changed\n"), 0644)
	}()

	res, err := m.Wait(2000)
	if err != nil {
		t.Fatal(err)
	}
	if res != ChangeDetected {
		t.Fatalf("Wait = %v, want ChangeDetected", res)
	}
	change, ok := m.NextChange()
	if !ok {
		t.Fatal("expected a pending change")
	}
	if change.Filename != path || change.Kind != KindUserSpace {
		t.Errorf("change = %+v", change)
	}
	if _, ok := m.NextChange(); ok {
		t.Error("expected queue drained after one NextChange")
	}
}

func TestWatchUserSpacePathIsFixed(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	os.WriteFile(a, nil, 0644)
	os.WriteFile(b, nil, 0644)

	m, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.WatchUserSpace(a); err != nil {
		t.Fatal(err)
	}
	if err := m.WatchUserSpace(b); err == nil {
		t.Error("expected error switching watched userspace path")
	}
	if err := m.WatchUserSpace(a); err != nil {
		t.Errorf("re-watching the same path should succeed: %v", err)
	}
}
