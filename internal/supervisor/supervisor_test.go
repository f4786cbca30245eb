package supervisor

import (
	"os/exec"
	"testing"

	"github.com/platinasystems/gomount/internal/entry"
	"github.com/platinasystems/gomount/internal/exitcode"
)

func entries(n int) []entry.Entry {
	out := make([]entry.Entry, n)
	for i := range out {
		out[i] = entry.NewFsTabEntry("/dev/sda1", "/mnt", "ext4", "rw", 0, 0)
	}
	return out
}

func TestRunSingleProcessPreservesOrderAndAggregates(t *testing.T) {
	s := New(SingleProcess)
	var order []int
	i := 0
	work := func(e entry.Entry) exitcode.Result {
		order = append(order, i)
		i++
		if i == 2 {
			return exitcode.Result{Code: exitcode.Fail, Reason: "boom"}
		}
		return exitcode.Result{Code: exitcode.Success}
	}

	nChildren, nErrors, aggregate := s.Run(entries(3), work, nil)
	if nChildren != 3 {
		t.Errorf("nChildren = %d, want 3", nChildren)
	}
	if nErrors != 1 {
		t.Errorf("nErrors = %d, want 1", nErrors)
	}
	if aggregate != exitcode.Fail {
		t.Errorf("aggregate = %v, want Fail", aggregate)
	}
	if len(order) != 3 || order[0] != 0 || order[2] != 2 {
		t.Errorf("order = %v, want sequential 0,1,2", order)
	}
}

func TestRunForkPerEntryWaitsAllChildren(t *testing.T) {
	s := New(ForkPerEntry)
	spawn := func(e entry.Entry) *exec.Cmd {
		return exec.Command("/bin/true")
	}

	nChildren, nErrors, aggregate := s.Run(entries(3), nil, spawn)
	if nChildren != 3 {
		t.Errorf("nChildren = %d, want 3", nChildren)
	}
	if nErrors != 0 {
		t.Errorf("nErrors = %d, want 0", nErrors)
	}
	if aggregate != exitcode.Success {
		t.Errorf("aggregate = %v, want Success", aggregate)
	}
}

func TestRunForkPerEntryTalliesFailures(t *testing.T) {
	s := New(ForkPerEntry)
	spawn := func(e entry.Entry) *exec.Cmd {
		return exec.Command("/bin/false")
	}

	nChildren, nErrors, _ := s.Run(entries(2), nil, spawn)
	if nChildren != 2 {
		t.Errorf("nChildren = %d, want 2", nChildren)
	}
	if nErrors != 2 {
		t.Errorf("nErrors = %d, want 2", nErrors)
	}
}
