// Package bootstrap mounts the standard early-boot virtual filesystems
// (devtmpfs, devpts, proc, sysfs, and a tmpfs /run) that an init process
// needs before anything else can run. It generalizes the fixed mount table
// once hard-coded into this library's pid-1 '/init' command into a
// reusable operation any caller — not just a pid-1 process — can invoke
// through the Mount Orchestrator.
package bootstrap

import (
	"os"

	"github.com/platinasystems/gomount/internal/debug"
	"github.com/platinasystems/gomount/internal/mount"
	"github.com/platinasystems/gomount/internal/utab"
)

// VirtualMount describes one early-boot mount point.
type VirtualMount struct {
	Target  string
	Source  string
	FSType  string
	Options string
	Mode    os.FileMode
}

// Standard is the conventional set of virtual filesystems a Linux init
// process mounts before anything else, preserving the table and mode bits
// this package's pid-1 predecessor used.
var Standard = []VirtualMount{
	{"/dev", "devtmpfs", "devtmpfs", "", 0755},
	{"/dev/pts", "devpts", "devpts", "", 0755},
	{"/proc", "proc", "proc", "", 0555},
	{"/sys", "sysfs", "sysfs", "", 0555},
	{"/run", "tmpfs", "tmpfs", "", 0755},
}

// MountAll mounts each entry in table in order, creating its target
// directory first if absent. It does not stop at the first failure; it logs
// each one (subsystem "fs") and returns the last error encountered, if any,
// so a caller can decide whether a partial bootstrap is fatal.
func MountAll(table []VirtualMount) error {
	var lastErr error
	for _, vm := range table {
		if err := ensureDir(vm.Target, vm.Mode); err != nil {
			debug.Logf(debug.FS, "bootstrap", vm.Target, "mkdir failed:", err)
			lastErr = err
			continue
		}
		// /run/mount/utab lives under /run, which is itself one of this
		// table's entries: a utab write attempted before /run is mounted
		// would fail even though the mount syscall succeeded. These early
		// virtual filesystems were never utab-tracked by this package's
		// pid-1 predecessor either, so Finalize is a deliberate no-op here.
		o := mount.New(nil, nil, nil).
			SetSource(vm.Source).
			SetTarget(vm.Target).
			SetFSType(vm.FSType).
			SetOptions(vm.Options).
			SetNoCanonicalize(true).
			SetForceUnrestricted(true).
			SetDisableHelper(true).
			SetUTabUpdater(utab.New().WithForceReadOnly(true))
		if err := o.Mount(); err != nil {
			debug.Logf(debug.FS, "bootstrap", vm.Target, "mount failed:", err)
			lastErr = err
		}
	}
	return lastErr
}

func ensureDir(path string, mode os.FileMode) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.Mkdir(path, mode)
	} else if err != nil {
		return err
	}
	return nil
}
