package table

import (
	"testing"

	"github.com/platinasystems/gomount/internal/entry"
)

func TestPushPop(t *testing.T) {
	tbl := New()
	e := entry.NewFsTabEntry("/dev/sda1", "/", "ext4", "rw", 0, 1)
	tbl.Push(e)
	got, err := tbl.Remove(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != entry.Entry(e) {
		t.Errorf("popped entry mismatch")
	}
	if !tbl.IsEmpty() {
		t.Errorf("table should be empty after pop")
	}
}

func TestTransfer(t *testing.T) {
	src := New()
	dst := New()
	a := entry.NewFsTabEntry("a", "/a", "ext4", "", 0, 0)
	b := entry.NewFsTabEntry("b", "/b", "ext4", "", 0, 0)
	src.Push(a)
	src.Push(b)
	dst.Push(entry.NewFsTabEntry("c", "/c", "ext4", "", 0, 0))

	if err := src.Transfer(0, dst, 1); err != nil {
		t.Fatal(err)
	}
	if src.Len() != 1 {
		t.Errorf("src should shrink by one, got len %d", src.Len())
	}
	if dst.Len() != 2 {
		t.Errorf("dst should grow by one, got len %d", dst.Len())
	}
	moved, _ := dst.At(1)
	if moved.Source() != "a" {
		t.Errorf("dst[1] = %q, want a", moved.Source())
	}
	remaining, _ := src.At(0)
	if remaining.Source() != "b" {
		t.Errorf("src[0] = %q, want b", remaining.Source())
	}
}

func TestFindFirstAndBackFirst(t *testing.T) {
	tbl := New()
	tbl.Push(entry.NewFsTabEntry("a", "/a", "ext4", "rw", 0, 0))
	tbl.Push(entry.NewFsTabEntry("b", "/b", "ext4", "ro", 0, 0))
	tbl.Push(entry.NewFsTabEntry("c", "/c", "ext4", "rw", 0, 0))

	pred := func(e entry.Entry) bool { return e.(*entry.FsTabEntry).Options() == "rw" }

	_, idx, ok := tbl.FindFirst(pred)
	if !ok || idx != 0 {
		t.Errorf("FindFirst = idx %d ok %v, want 0 true", idx, ok)
	}
	_, idx, ok = tbl.FindBackFirst(pred)
	if !ok || idx != 2 {
		t.Errorf("FindBackFirst = idx %d ok %v, want 2 true", idx, ok)
	}
}

func TestDedupFirstByPreservesOrder(t *testing.T) {
	tbl := New()
	tbl.Push(entry.NewFsTabEntry("a", "/mnt", "ext4", "", 0, 0))
	tbl.Push(entry.NewFsTabEntry("b", "/other", "ext4", "", 0, 0))
	tbl.Push(entry.NewFsTabEntry("c", "/mnt", "ext4", "", 0, 0))

	eq := func(x, y entry.Entry) bool { return x.Target() == y.Target() }
	tbl.DedupFirstBy(eq)

	if tbl.Len() != 2 {
		t.Fatalf("expected 2 classes, got %d", tbl.Len())
	}
	first, _ := tbl.At(0)
	if first.Source() != "a" {
		t.Errorf("DedupFirstBy should keep first of class, got source %q", first.Source())
	}
}

func TestFindMountPointDeepest(t *testing.T) {
	tbl := New()
	tbl.Push(entry.NewFsTabEntry("r", "/", "ext4", "", 0, 0))
	tbl.Push(entry.NewFsTabEntry("s", "/var", "ext4", "", 0, 0))
	tbl.Push(entry.NewFsTabEntry("u", "/var/log", "ext4", "", 0, 0))

	e, ok := tbl.FindMountPoint("/var/log/syslog")
	if !ok || e.Target() != "/var/log" {
		t.Errorf("FindMountPoint = %v ok=%v, want /var/log", e, ok)
	}
}
