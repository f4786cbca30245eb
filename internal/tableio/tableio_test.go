package tableio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/platinasystems/gomount/internal/entry"
	"github.com/platinasystems/gomount/internal/table"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw := "a b\tc\nd\\e"
	enc := Encode(raw)
	if strings.ContainsAny(enc, " \t\n\\") {
		t.Fatalf("Encode left raw specials in %q", enc)
	}
	if got := Decode(enc); got != raw {
		t.Errorf("Decode(Encode(%q)) = %q", raw, got)
	}
}

// Scenario A: intro comment plus three entries round-trips through a
// serialize/parse cycle to an equal table.
func TestFsTabRoundTripScenarioA(t *testing.T) {
	src := table.New()
	src.SetIntroComment("# /etc/fstab\n# Example\n")
	src.Push(entry.NewFsTabEntry("UUID=dd476616-1ce4-415e-9dbd-8c2fa8f42f0f", "/", "ext4", "rw,relatime", 0, 1))
	src.Push(entry.NewFsTabEntry("/dev/usbdisk", "/media/usb", "vfat", "noauto", 0, 0))
	src.Push(entry.NewFsTabEntry("none", "/tmp", "tmpfs", "nosuid,nodev", 0, 0))

	var buf bytes.Buffer
	if err := WriteFsTab(&buf, src, true); err != nil {
		t.Fatal(err)
	}

	dst := table.New()
	if err := ParseFsTab(&buf, "fstab", dst, true); err != nil {
		t.Fatal(err)
	}

	if dst.Len() != src.Len() {
		t.Fatalf("round trip: got %d entries, want %d", dst.Len(), src.Len())
	}
	for i := 0; i < src.Len(); i++ {
		want, _ := src.At(i)
		got, _ := dst.At(i)
		wf, gf := want.(*entry.FsTabEntry), got.(*entry.FsTabEntry)
		if wf.Source() != gf.Source() || wf.Target() != gf.Target() || wf.FSType() != gf.FSType() ||
			wf.Options() != gf.Options() || wf.BackupFrequency() != gf.BackupFrequency() || wf.FsckOrder() != gf.FsckOrder() {
			t.Errorf("entry %d mismatch: got %+v want %+v", i, gf, wf)
		}
	}
}

// Scenario B: UUID=aaa / ext4 rw 0 1 parses with tag() == Some(Uuid("aaa")).
func TestFsTabParseScenarioB(t *testing.T) {
	tbl := table.New()
	r := strings.NewReader("UUID=aaa / ext4 rw 0 1\n")
	if err := ParseFsTab(r, "fstab", tbl, false); err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("got %d entries, want 1", tbl.Len())
	}
	e, _ := tbl.At(0)
	fe := e.(*entry.FsTabEntry)
	tg, ok := fe.Tag()
	if !ok {
		t.Fatal("expected a tag")
	}
	if tg.Name() != "UUID" || tg.Value() != "aaa" {
		t.Errorf("tag = %v, want Uuid(aaa)", tg)
	}
}

// The literal mountinfo test line from spec §8.
func TestParseMountInfoLiteralLine(t *testing.T) {
	tbl := table.New()
	r := strings.NewReader("26 1 8:3 / / rw,relatime - ext4 /dev/sda3 rw\n")
	if err := ParseMountInfo(r, "mountinfo", tbl); err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("got %d entries, want 1", tbl.Len())
	}
	e, _ := tbl.At(0)
	mi := e.(*entry.MountInfoEntry)
	if mi.MountID != 26 || mi.ParentID != 1 {
		t.Errorf("ids = %d,%d want 26,1", mi.MountID, mi.ParentID)
	}
	if mi.DeviceMajor != 8 || mi.DeviceMinor != 3 {
		t.Errorf("device = %d:%d want 8:3", mi.DeviceMajor, mi.DeviceMinor)
	}
	if mi.Root != "/" || mi.Target() != "/" {
		t.Errorf("root/target = %q/%q want /,/", mi.Root, mi.Target())
	}
	if mi.VFSOptions != "rw,relatime" {
		t.Errorf("vfs_options = %q want rw,relatime", mi.VFSOptions)
	}
	if mi.FSType() != "ext4" || mi.Source() != "/dev/sda3" || mi.FSOptions != "rw" {
		t.Errorf("tail = %q/%q/%q want ext4,/dev/sda3,rw", mi.FSType(), mi.Source(), mi.FSOptions)
	}
}

func TestParseSwapsSkipsHeader(t *testing.T) {
	tbl := table.New()
	r := strings.NewReader("Filename\t\t\t\tType\t\tSize\t\tUsed\t\tPriority\n" +
		"/dev/sda2                               partition\t2097148\t0\t-2\n")
	if err := ParseSwaps(r, "swaps", tbl); err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("got %d entries, want 1", tbl.Len())
	}
	e, _ := tbl.At(0)
	se := e.(*entry.SwapsEntry)
	if se.Source() != "/dev/sda2" || se.SwapType() != "partition" || se.SizeKiB != 2097148 || se.Priority != -2 {
		t.Errorf("swaps entry = %+v", se)
	}
}

func TestUTabRoundTrip(t *testing.T) {
	src := table.New()
	e := entry.NewUTabEntry("/dev/sda1", "/mnt")
	e.Root = "/"
	e.UserOptions = "noauto"
	e.ReplaceAttr("uhelper", "udisks2")
	src.Push(e)

	var buf bytes.Buffer
	if err := WriteUTab(&buf, src); err != nil {
		t.Fatal(err)
	}

	dst := table.New()
	if err := ParseUTab(&buf, "utab", dst); err != nil {
		t.Fatal(err)
	}
	if dst.Len() != 1 {
		t.Fatalf("got %d entries, want 1", dst.Len())
	}
	entryI, _ := dst.At(0)
	got := entryI.(*entry.UTabEntry)
	if got.Source() != "/dev/sda1" || got.Target() != "/mnt" {
		t.Errorf("utab round trip = %+v", got)
	}
	if got.Attrs()["uhelper"] != "udisks2" {
		t.Errorf("attrs = %v, want uhelper=udisks2", got.Attrs())
	}
}

func TestVersionLessOrdersNumerically(t *testing.T) {
	names := []string{"10.fstab", "2.fstab", "1.fstab"}
	if !versionLess(names[1], names[0]) {
		t.Errorf("expected 2.fstab < 10.fstab")
	}
	if !versionLess(names[2], names[1]) {
		t.Errorf("expected 1.fstab < 2.fstab")
	}
}
