package nsswitch

import (
	"os"
	"testing"
)

func TestPidNamespacePath(t *testing.T) {
	if got := PidNamespacePath(1234); got != "/proc/1234/ns/mnt" {
		t.Errorf("PidNamespacePath(1234) = %q", got)
	}
}

func TestSwitchToTargetNamespaceRejectsDoubleSwitch(t *testing.T) {
	s := New("/proc/self/ns/mnt")
	s.active = true
	s.original = &Handle{fd: -1}

	if _, err := s.SwitchToTargetNamespace(); err == nil {
		t.Error("expected error on double switch without restore")
	}
}

func TestSwitchToOriginalNamespaceIsNoOpWhenNotSwitched(t *testing.T) {
	s := New("/proc/self/ns/mnt")
	if err := s.SwitchToOriginalNamespace(); err != nil {
		t.Errorf("restoring an unswitched Switcher should be a no-op, got %v", err)
	}
}

// SwitchToTargetNamespace requires CAP_SYS_ADMIN; this exercises the real
// syscall path only when the suite is run as root.
func TestSwitchRoundTripAsRoot(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires CAP_SYS_ADMIN to enter a mount namespace")
	}
	s := New("/proc/self/ns/mnt")
	orig, err := s.SwitchToTargetNamespace()
	if err != nil {
		t.Fatal(err)
	}
	defer orig.Close()

	if err := s.SwitchToOriginalNamespace(); err != nil {
		t.Fatal(err)
	}
}
