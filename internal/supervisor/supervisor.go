// Package supervisor implements the Process Supervisor of spec §4.11:
// given a policy and a sequence of fstab/mountinfo entries, either invoke
// the orchestrator inline or fork a child process per entry, reap them,
// and aggregate the worst-case exit status.
package supervisor

import (
	"os"
	"os/exec"
	"sync"

	reaper "github.com/ramr/go-reaper"

	"github.com/platinasystems/gomount/internal/debug"
	"github.com/platinasystems/gomount/internal/entry"
	"github.com/platinasystems/gomount/internal/exitcode"
)

// Policy selects how the Supervisor dispatches work.
type Policy int

const (
	SingleProcess Policy = iota
	ForkPerEntry
)

// WorkFunc performs one orchestrator mount/umount attempt in-process,
// used directly by SingleProcess policy.
type WorkFunc func(entry.Entry) exitcode.Result

// ChildCommand builds the *exec.Cmd that performs one entry's mount
// attempt out-of-process (typically a re-exec of the calling binary with
// a hidden worker subcommand), used by ForkPerEntry policy. The child's
// process exit code must itself be an exitcode.Code value.
type ChildCommand func(entry.Entry) *exec.Cmd

var startReaperOnce sync.Once

// startReaperIfInit mirrors this library's init-detection idiom (the
// process this package reimplements behaves specially at pid 1): when the
// Supervisor itself is pid 1 — the common case for a container entrypoint
// driving mounts — double-forked mount helpers can be reparented to it and
// never reaped by exec.Cmd.Wait. go-reaper's background loop collects
// those; direct children are still waited for explicitly below.
func startReaperIfInit() {
	startReaperOnce.Do(func() {
		if os.Getpid() == 1 {
			go reaper.Reap()
		}
	})
}

// Supervisor dispatches a sequence of entries per Policy and tallies
// results.
type Supervisor struct {
	policy Policy

	mu       sync.Mutex
	children []*exec.Cmd
}

// New creates a Supervisor under the given Policy.
func New(policy Policy) *Supervisor {
	if policy == ForkPerEntry {
		startReaperIfInit()
	}
	return &Supervisor{policy: policy}
}

// Policy reports the Supervisor's dispatch policy.
func (s *Supervisor) Policy() Policy { return s.policy }

// Run dispatches entries in order. Under SingleProcess it calls work
// in-process for each entry and preserves iteration order (spec §4.11).
// Under ForkPerEntry it forks and starts a child per entry with spawn,
// providing no ordering guarantee across entries, then waits for all of
// them. It returns the number of entries dispatched, the number that
// failed, and the bitwise-OR aggregate exit code.
func (s *Supervisor) Run(entries []entry.Entry, work WorkFunc, spawn ChildCommand) (nChildren, nErrors int, aggregate exitcode.Code) {
	switch s.policy {
	case SingleProcess:
		for _, e := range entries {
			res := work(e)
			nChildren++
			aggregate |= res.Code
			if res.Code&(exitcode.Fail|exitcode.SysError|exitcode.Software|exitcode.User|exitcode.FileIO) != 0 {
				nErrors++
			}
		}
		return nChildren, nErrors, aggregate
	default:
		for _, e := range entries {
			if err := s.NextMount(e, spawn); err != nil {
				debug.Logf(debug.Cxt, "supervisor", "spawn failed:", err)
			}
		}
		return s.WaitForChildren()
	}
}

// NextMount forks and starts one child for e using spawn, per spec
// §4.10's "next_mount() from a sequence over fstab forks a child".
func (s *Supervisor) NextMount(e entry.Entry, spawn ChildCommand) error {
	cmd := spawn(e)
	if err := cmd.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	s.children = append(s.children, cmd)
	s.mu.Unlock()
	return nil
}

// WaitForChildren waits for every child started by NextMount, tallying
// the aggregate exit status. Children that could not even be started are
// not counted here; callers see that failure from NextMount's return.
func (s *Supervisor) WaitForChildren() (nChildren, nErrors int, aggregate exitcode.Code) {
	s.mu.Lock()
	children := s.children
	s.children = nil
	s.mu.Unlock()

	for _, cmd := range children {
		nChildren++
		code := exitcode.Code(0)
		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitcode.Code(exitErr.ExitCode())
			} else {
				code = exitcode.Fail
			}
		}
		aggregate |= code
		if code != exitcode.Success {
			nErrors++
		}
	}
	return nChildren, nErrors, aggregate
}
