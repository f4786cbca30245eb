// Package nsswitch implements the Namespace Switcher of spec §4.12: an
// orchestrator may carry a reference to a mount namespace distinct from the
// calling process's own and explicitly switch into and back out of it.
package nsswitch

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/platinasystems/gomount/internal/debug"
	"github.com/platinasystems/gomount/internal/errdefs"
)

// Handle is a prior mount namespace, captured so a Switcher can return to
// it later.
type Handle struct {
	fd int
}

// Close releases the handle's held file descriptor.
func (h *Handle) Close() error {
	if h == nil || h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	return err
}

// Switcher moves the calling OS thread into a target mount namespace and
// back. Namespace operations are thread-scoped on Linux (CLONE_NEWNS), so a
// Switcher pins its goroutine to its OS thread for the life of the switch
// (spec §9, "thread-affinity of namespace operations").
type Switcher struct {
	targetPath string
	original   *Handle
	active     bool
}

// New creates a Switcher targeting the mount namespace described by
// nsPath, typically "/proc/<pid>/ns/mnt".
func New(nsPath string) *Switcher {
	return &Switcher{targetPath: nsPath}
}

// SwitchToTargetNamespace enters the target namespace, returning a Handle
// for the namespace the caller occupied beforehand. Call
// SwitchToOriginalNamespace (or Handle.Close after manually restoring) to
// undo it.
func (s *Switcher) SwitchToTargetNamespace() (*Handle, error) {
	if s.active {
		return nil, errdefs.New(errdefs.KindNamespace, "nsswitch: already switched; restore before switching again")
	}
	runtime.LockOSThread()

	selfFd, err := unix.Open("/proc/thread-self/ns/mnt", unix.O_RDONLY, 0)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, errdefs.Wrap(errdefs.KindNamespace, err, "opening current mount namespace")
	}

	targetFd, err := unix.Open(s.targetPath, unix.O_RDONLY, 0)
	if err != nil {
		unix.Close(selfFd)
		runtime.UnlockOSThread()
		return nil, errdefs.Wrap(errdefs.KindNamespace, err, "opening target namespace "+s.targetPath)
	}
	defer unix.Close(targetFd)

	if err := unix.Setns(targetFd, unix.CLONE_NEWNS); err != nil {
		unix.Close(selfFd)
		runtime.UnlockOSThread()
		return nil, errdefs.Wrap(errdefs.KindNamespace, err, "entering target namespace "+s.targetPath)
	}

	s.original = &Handle{fd: selfFd}
	s.active = true
	debug.Logf(debug.Cxt, "nsswitch", "entered", s.targetPath)
	return s.original, nil
}

// SwitchToOriginalNamespace returns to the namespace captured by the most
// recent SwitchToTargetNamespace call.
func (s *Switcher) SwitchToOriginalNamespace() error {
	if !s.active || s.original == nil {
		return nil
	}
	defer runtime.UnlockOSThread()
	defer func() {
		s.original.Close()
		s.original = nil
		s.active = false
	}()

	if err := unix.Setns(s.original.fd, unix.CLONE_NEWNS); err != nil {
		return errdefs.Wrap(errdefs.KindNamespace, err, "restoring original namespace")
	}
	debug.Logf(debug.Cxt, "nsswitch", "restored original namespace")
	return nil
}

// Unshare creates a new mount namespace for the calling OS thread, used
// when the orchestrator itself is meant to originate (rather than switch
// into) a namespace.
func Unshare() error {
	runtime.LockOSThread()
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		runtime.UnlockOSThread()
		return errdefs.Wrap(errdefs.KindNamespace, err, "unshare(CLONE_NEWNS)")
	}
	return nil
}

// PidNamespacePath formats the conventional /proc/<pid>/ns/mnt path for a
// process, for callers building a Switcher around another process's
// namespace.
func PidNamespacePath(pid int) string {
	return fmt.Sprintf("/proc/%d/ns/mnt", pid)
}
