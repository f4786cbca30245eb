// Package utab implements the utab Updater of spec §4.8: a locked
// read-modify-write against /run/mount/utab (or its override), staging
// inserts/updates and removals before a single atomic apply.
package utab

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/platinasystems/gomount/internal/config"
	"github.com/platinasystems/gomount/internal/debug"
	"github.com/platinasystems/gomount/internal/entry"
	"github.com/platinasystems/gomount/internal/errdefs"
	"github.com/platinasystems/gomount/internal/table"
	"github.com/platinasystems/gomount/internal/tableio"
)

// Locker is an acquired exclusive hold, released by Unlock.
type Locker interface {
	Unlock() error
}

// LockProvider is the pluggable locking collaborator named in spec §4.8.
type LockProvider interface {
	Lock(path string) (Locker, error)
}

type stagedSet struct {
	e     *entry.UTabEntry
	flags uint64
}

// Updater stages utab changes and applies them under an exclusive lock.
type Updater struct {
	mu            sync.Mutex
	path          string
	lockProvider  LockProvider
	forceReadOnly bool
	sets          map[string]stagedSet // keyed by target
	unsets        map[string]bool      // keyed by target
}

// New creates an Updater against the default (or LIBMOUNT_UTAB-overridden)
// utab path, using DefaultFileLock.
func New() *Updater {
	return &Updater{
		path:         config.UTabPath(),
		lockProvider: DefaultFileLock{},
		sets:         make(map[string]stagedSet),
		unsets:       make(map[string]bool),
	}
}

// WithPath overrides the target file, chiefly for tests.
func (u *Updater) WithPath(path string) *Updater {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.path = path
	return u
}

// WithLockProvider overrides the locking collaborator.
func (u *Updater) WithLockProvider(p LockProvider) *Updater {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lockProvider = p
	return u
}

// WithForceReadOnly short-circuits Apply to a no-op, for dry runs.
func (u *Updater) WithForceReadOnly(v bool) *Updater {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.forceReadOnly = v
	return u
}

// SetEntry stages an insert/update of e, keyed by its target.
func (u *Updater) SetEntry(e *entry.UTabEntry, mountFlags uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.unsets, e.Target())
	u.sets[e.Target()] = stagedSet{e: e, flags: mountFlags}
}

// SetUmount stages a removal of the entry at target.
func (u *Updater) SetUmount(target string, mountFlags uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.sets, target)
	u.unsets[target] = true
}

// Apply performs the locked read-modify-write: acquire an exclusive lock,
// read the current table, splice in staged changes, and atomically replace
// the file — unless the result is byte-identical to the input, in which
// case no write occurs (spec §4.8 idempotence).
func (u *Updater) Apply() error {
	u.mu.Lock()
	if u.forceReadOnly {
		u.mu.Unlock()
		return nil
	}
	path := u.path
	lockProvider := u.lockProvider
	sets := u.sets
	unsets := u.unsets
	u.sets = make(map[string]stagedSet)
	u.unsets = make(map[string]bool)
	u.mu.Unlock()

	if len(sets) == 0 && len(unsets) == 0 {
		return nil
	}

	lock, err := lockProvider.Lock(path)
	if err != nil {
		return errdefs.Wrap(errdefs.KindLock, err, "acquiring utab lock")
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			debug.Logf(debug.Update, "apply", path, "unlock failed:", uerr)
		}
	}()

	before, tbl, err := readTable(path)
	if err != nil {
		return err
	}

	for target := range unsets {
		for i := 0; i < tbl.Len(); i++ {
			e, _ := tbl.At(i)
			if e.Target() == target {
				tbl.Remove(i)
				i--
			}
		}
	}
	for target, staged := range sets {
		replaced := false
		for i := 0; i < tbl.Len(); i++ {
			e, _ := tbl.At(i)
			if e.Target() == target {
				tbl.Remove(i)
				tbl.Insert(i, staged.e)
				replaced = true
				break
			}
		}
		if !replaced {
			tbl.Push(staged.e)
		}
	}

	var after bytes.Buffer
	if err := tableio.WriteUTab(&after, tbl); err != nil {
		return errdefs.Wrap(errdefs.KindIO, err, "serializing utab")
	}

	if bytes.Equal(before, after.Bytes()) {
		debug.Logf(debug.Update, "apply", path, "no-op: content unchanged")
		return nil
	}

	return writeAtomic(path, after.Bytes())
}

func readTable(path string) ([]byte, *table.Table, error) {
	tbl := table.New()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tbl, nil
		}
		return nil, nil, errdefs.Wrap(errdefs.KindIO, err, "reading "+path)
	}
	if err := tableio.ParseUTab(bytes.NewReader(data), path, tbl); err != nil {
		return nil, nil, err
	}
	return data, tbl, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".utab-*")
	if err != nil {
		return errdefs.Wrap(errdefs.KindIO, err, "creating temp utab file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errdefs.Wrap(errdefs.KindIO, err, "writing temp utab file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errdefs.Wrap(errdefs.KindIO, err, "fsyncing temp utab file")
	}
	if err := tmp.Close(); err != nil {
		return errdefs.Wrap(errdefs.KindIO, err, "closing temp utab file")
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		debug.Logf(debug.Update, "apply", path, "chmod failed:", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errdefs.Wrap(errdefs.KindIO, err, "renaming temp utab file over "+path)
	}
	return nil
}

// DefaultFileLock acquires an exclusive advisory flock on path, blocking
// all signals except a configurable alarm/trap pair for the hold's
// duration (spec §4.8's locking contract, §5's cancellation policy).
type DefaultFileLock struct {
	// Alarm and Trap name the two signals left unblocked during the
	// critical section. Both default to nil (block everything) when the
	// zero value is used via DefaultFileLock{}.
	Alarm os.Signal
	Trap  os.Signal
}

type flockHandle struct {
	fd       int
	restorer func()
}

func (d DefaultFileLock) Lock(path string) (Locker, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		unix.Close(fd)
		return nil, err
	}
	restorer := blockSignalsExcept(d.Alarm, d.Trap)
	return &flockHandle{fd: fd, restorer: restorer}, nil
}

func (h *flockHandle) Unlock() error {
	h.restorer()
	if err := unix.Flock(h.fd, unix.LOCK_UN); err != nil {
		unix.Close(h.fd)
		return err
	}
	return unix.Close(h.fd)
}
