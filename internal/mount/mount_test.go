package mount

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinasystems/gomount/internal/cache"
	"github.com/platinasystems/gomount/internal/entry"
	"github.com/platinasystems/gomount/internal/exitcode"
	"github.com/platinasystems/gomount/internal/table"
	"github.com/platinasystems/gomount/internal/utab"
)

func fstabWith(entries ...*entry.FsTabEntry) *table.Table {
	tbl := table.New()
	for _, e := range entries {
		tbl.Push(e)
	}
	return tbl
}

func TestResetSyscallStatusReturnsToIdle(t *testing.T) {
	o := New(nil, nil, nil)
	o.state = Finalized
	o.result = exitcode.Result{Code: exitcode.Fail}

	o.ResetSyscallStatus()

	if o.State() != Idle {
		t.Errorf("state = %v, want Idle", o.State())
	}
	if o.Result() != (exitcode.Result{}) {
		t.Errorf("result = %+v, want zero value", o.Result())
	}
}

func TestPrepareRejectsReuseWithoutReset(t *testing.T) {
	o := New(nil, nil, nil)
	o.state = Prepared

	if err := o.Prepare(); err == nil {
		t.Error("expected error preparing from a non-Idle state")
	}
}

func TestPrepareRejectsEmptySourceAndTarget(t *testing.T) {
	o := New(nil, nil, nil)
	if err := o.Prepare(); err == nil {
		t.Error("expected error with no source and no target")
	}
	if o.Result().Code&exitcode.Usage == 0 {
		t.Errorf("result code = %v, want Usage bit set", o.Result().Code)
	}
}

// Scenario C (spec §8): a caller supplies a bare target; the Orchestrator
// resolves source and fs-type from a matching fstab entry and, under the
// Auto policy with no caller options, adopts the fstab entry's options.
func TestPrepareResolvesFieldsFromFstab(t *testing.T) {
	fstab := fstabWith(entry.NewFsTabEntry("/dev/sda1", "/data", "ext4", "rw,noatime", 0, 2))
	o := New(nil, fstab, nil).SetTarget("/data").SetNoCanonicalize(true)

	require.NoError(t, o.Prepare())
	assert.Equal(t, "/dev/sda1", o.source, "source should resolve from fstab")
	assert.Equal(t, "ext4", o.fsType)
	assert.Equal(t, "rw,noatime", o.options, "Auto/ReadFromFstab should adopt fstab's options verbatim")
	assert.Equal(t, Prepared, o.State())
}

// Scenario D (spec §8): AppendOptions merges caller-supplied options after
// the fstab entry's options rather than replacing them.
func TestPrepareAppendOptionsMergesAfterFstab(t *testing.T) {
	fstab := fstabWith(entry.NewFsTabEntry("/dev/sdb1", "/mnt", "ext4", "rw,noatime", 0, 0))
	o := New(nil, fstab, nil).
		SetTarget("/mnt").
		SetOptions("noexec").
		SetMode(AppendOptions).
		SetNoCanonicalize(true)

	if err := o.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if o.options != "rw,noatime,noexec" {
		t.Errorf("options = %q, want rw,noatime,noexec", o.options)
	}
}

func TestPrepareIgnoreOptionsDiscardsCallerOptions(t *testing.T) {
	fstab := fstabWith(entry.NewFsTabEntry("/dev/sdb1", "/mnt", "ext4", "ro", 0, 0))
	o := New(nil, fstab, nil).
		SetTarget("/mnt").
		SetOptions("rw,noexec").
		SetMode(IgnoreOptions).
		SetNoCanonicalize(true)

	if err := o.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if o.options != "ro" {
		t.Errorf("options = %q, want fstab's ro with caller options discarded", o.options)
	}
}

func TestPrepareNoReadFromFstabKeepsCallerOptionsOnly(t *testing.T) {
	fstab := fstabWith(entry.NewFsTabEntry("/dev/sdb1", "/mnt", "ext4", "ro,noatime", 0, 0))
	o := New(nil, fstab, nil).
		SetTarget("/mnt").
		SetOptions("rw").
		SetMode(NoReadFromFstab).
		SetNoCanonicalize(true)

	if err := o.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if o.options != "rw" {
		t.Errorf("options = %q, want caller's rw verbatim", o.options)
	}
}

func TestPrepareRejectsFSTypeExcludedByFilter(t *testing.T) {
	o := New(nil, nil, nil).
		SetSource("/dev/sdc1").SetTarget("/mnt").SetFSType("vfat").
		SetFSTypeFilter("ext2,ext3,ext4").
		SetNoCanonicalize(true).SetForceUnrestricted(true)

	if err := o.Prepare(); err == nil {
		t.Error("expected error: vfat excluded by ext2,ext3,ext4 filter")
	}
	if o.Result().Code&exitcode.Usage == 0 {
		t.Errorf("result code = %v, want Usage bit set", o.Result().Code)
	}
}

func TestPrepareAllowsFSTypeMatchingFilter(t *testing.T) {
	o := New(nil, nil, nil).
		SetSource("/dev/sdc1").SetTarget("/mnt").SetFSType("ext4").
		SetFSTypeFilter("ext2,ext3,ext4").
		SetNoCanonicalize(true).SetForceUnrestricted(true).SetDisableHelper(true)

	if err := o.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
}

// Scenario E (spec §8): an unprivileged caller whose target is not backed
// by a user/users fstab entry is rejected before any syscall is attempted.
func TestPrepareSafetyCheckRejectsUnprivilegedCallerWithoutUserOption(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("safety check is bypassed for root; this test requires an unprivileged process")
	}
	fstab := fstabWith(entry.NewFsTabEntry("/dev/sdd1", "/mnt", "ext4", "defaults", 0, 0))
	o := New(nil, fstab, nil).SetTarget("/mnt").SetNoCanonicalize(true)

	if err := o.Prepare(); err == nil {
		t.Error("expected error: unprivileged caller without a user/users fstab entry")
	}
	if o.Result().Code&exitcode.User == 0 {
		t.Errorf("result code = %v, want User bit set", o.Result().Code)
	}
}

func TestPrepareSafetyCheckAllowsUnprivilegedCallerWithUsersOption(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("safety check is bypassed for root; this test requires an unprivileged process")
	}
	fstab := fstabWith(entry.NewFsTabEntry("/dev/sdd1", "/mnt", "ext4", "users,noauto", 0, 0))
	o := New(nil, fstab, nil).SetTarget("/mnt").SetNoCanonicalize(true).SetDisableHelper(true)

	if err := o.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v, want safety check to pass for a users fstab entry", err)
	}
}

func TestPrepareForceUnrestrictedBypassesSafetyCheck(t *testing.T) {
	o := New(nil, nil, nil).
		SetSource("/dev/sde1").SetTarget("/mnt").SetFSType("ext4").
		SetForceUnrestricted(true).SetNoCanonicalize(true).SetDisableHelper(true)

	if err := o.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v, want force_unrestricted to bypass the safety check", err)
	}
}

func TestDoMountRejectsWrongState(t *testing.T) {
	o := New(nil, nil, nil)
	if err := o.DoMount(); err == nil {
		t.Error("expected error invoking DoMount from Idle")
	}
}

func TestFinalizeRejectsWrongState(t *testing.T) {
	o := New(nil, nil, nil)
	if err := o.Finalize(); err == nil {
		t.Error("expected error invoking Finalize from Idle")
	}
}

func TestFinalizeIsNoOpAfterFailedSyscall(t *testing.T) {
	o := New(nil, nil, nil)
	o.state = SyscallInvoked
	o.result = exitcode.Result{Code: exitcode.SysError, Reason: "boom"}

	if err := o.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v, want nil (no utab write on failure)", err)
	}
	if o.State() != Finalized {
		t.Errorf("state = %v, want Finalized", o.State())
	}
}

func TestMountEndToEndWithTmpfs(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("mount(2) requires CAP_SYS_ADMIN")
	}

	tmpUtab, err := os.CreateTemp("", "gomount-utab-*")
	if err != nil {
		t.Fatal(err)
	}
	tmpUtab.Close()
	defer os.Remove(tmpUtab.Name())

	dir := t.TempDir()
	c := cache.New()
	o := New(c, nil, nil).
		SetSource("tmpfs").SetTarget(dir).SetFSType("tmpfs").
		SetOptions("size=1m").
		SetForceUnrestricted(true).
		SetUTabUpdater(utab.New().WithPath(tmpUtab.Name()))

	if err := o.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if o.State() != Finalized {
		t.Errorf("state = %v, want Finalized", o.State())
	}

	o.ResetSyscallStatus()
	o2 := New(nil, nil, nil).SetTarget(dir).SetForceUnrestricted(true).SetDisableHelper(true)
	if err := o2.Unmount(); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}
}
