package differ

import (
	"testing"

	"github.com/platinasystems/gomount/internal/entry"
	"github.com/platinasystems/gomount/internal/table"
)

func mi(id, parent int, root, target, source, vfsOpts string) *entry.MountInfoEntry {
	e := &entry.MountInfoEntry{MountID: id, ParentID: parent, Root: root, VFSOptions: vfsOpts}
	e.SetTarget(target)
	e.SetSource(source)
	e.SetFSType("ext4")
	return e
}

func TestDiffMountAndUmount(t *testing.T) {
	before := table.New()
	before.Push(mi(1, 0, "/", "/", "/dev/sda1", "rw"))

	after := table.New()
	after.Push(mi(1, 0, "/", "/", "/dev/sda1", "rw"))
	after.Push(mi(2, 1, "/", "/var", "/dev/sda2", "rw"))

	changes, n := Diff(before, after)
	if n != 1 || len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", n)
	}
	if changes[0].Kind != Mount || changes[0].Target != "/var" {
		t.Errorf("change = %+v, want Mount /var", changes[0])
	}
}

func TestDiffUmountOnly(t *testing.T) {
	before := table.New()
	before.Push(mi(1, 0, "/", "/", "/dev/sda1", "rw"))
	before.Push(mi(2, 1, "/", "/var", "/dev/sda2", "rw"))

	after := table.New()
	after.Push(mi(1, 0, "/", "/", "/dev/sda1", "rw"))

	changes, n := Diff(before, after)
	if n != 1 {
		t.Fatalf("got %d changes, want 1", n)
	}
	if changes[0].Kind != Umount || changes[0].Target != "/var" {
		t.Errorf("change = %+v, want Umount /var", changes[0])
	}
}

func TestDiffRemountOnOptionsChange(t *testing.T) {
	before := table.New()
	before.Push(mi(1, 0, "/", "/mnt", "/dev/sdb1", "rw,relatime"))

	after := table.New()
	after.Push(mi(1, 0, "/", "/mnt", "/dev/sdb1", "ro,relatime"))

	changes, n := Diff(before, after)
	if n != 1 || changes[0].Kind != Remount {
		t.Fatalf("got %+v, want one Remount", changes)
	}
}

func TestDiffMoveOnTargetChange(t *testing.T) {
	before := table.New()
	before.Push(mi(1, 0, "/", "/old", "/dev/sdc1", "rw"))

	after := table.New()
	after.Push(mi(1, 0, "/", "/new", "/dev/sdc1", "rw"))

	changes, n := Diff(before, after)
	if n != 1 || changes[0].Kind != Move || changes[0].Target != "/new" {
		t.Fatalf("got %+v, want one Move to /new", changes)
	}
}

func TestDiffNoChanges(t *testing.T) {
	before := table.New()
	before.Push(mi(1, 0, "/", "/", "/dev/sda1", "rw"))
	after := table.New()
	after.Push(mi(1, 0, "/", "/", "/dev/sda1", "rw"))

	changes, n := Diff(before, after)
	if n != 0 || len(changes) != 0 {
		t.Errorf("expected no changes, got %+v", changes)
	}
}
