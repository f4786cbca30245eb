// Package gomount is the public facade over this module's internal mount-
// table machinery: fstab/mountinfo/swaps/utab parsing, the mount-option
// algebra, the resolution cache, the ordered table model and its differ,
// the utab updater, the change monitor, the mount orchestrator, the
// process supervisor, and the namespace switcher. Callers that only need
// one piece are free to import the relevant internal/... package directly
// from within this module; this file exists for the common "do the whole
// mount-table workflow" case.
package gomount

import (
	"github.com/platinasystems/gomount/internal/cache"
	"github.com/platinasystems/gomount/internal/differ"
	"github.com/platinasystems/gomount/internal/entry"
	"github.com/platinasystems/gomount/internal/exitcode"
	"github.com/platinasystems/gomount/internal/mount"
	"github.com/platinasystems/gomount/internal/optstring"
	"github.com/platinasystems/gomount/internal/supervisor"
	"github.com/platinasystems/gomount/internal/table"
)

// Library bundles the long-lived collaborators a mount-table workflow
// shares across operations: a resolution cache and the two tables most
// operations read from or compare against.
type Library struct {
	Cache     *cache.Cache
	Fstab     *table.Table
	MountInfo *table.Table
}

// New builds a Library over an already-loaded fstab and mountinfo table
// (see internal/tableio to populate them from disk) and a fresh Cache.
func New(fstab, mountInfo *table.Table) *Library {
	c := cache.New()
	if mountInfo != nil {
		c.ImportPaths(mountInfo)
	}
	fstab.SetCache(c)
	mountInfo.SetCache(c)
	return &Library{Cache: c, Fstab: fstab, MountInfo: mountInfo}
}

// MountAllOptions configures MountAllFromFstab.
type MountAllOptions struct {
	// Fake reports what would be mounted without invoking mount(2).
	Fake bool
	// ForceUnrestricted bypasses the unprivileged-caller safety check
	// (spec §4.10); ordinarily only a root caller's mount-all runs
	// unrestricted by default.
	ForceUnrestricted bool
	// Parallel dispatches entries through the fork-per-entry Process
	// Supervisor policy instead of running them in fstab order.
	Parallel bool
	// ChildCommand is required when Parallel is true; see
	// internal/supervisor.ChildCommand.
	ChildCommand supervisor.ChildCommand
}

// MountAllFromFstab mounts every fstab entry that is not already present
// in MountInfo and is not marked noauto, mirroring the batch "mount -a"
// workflow (spec §4.11). Under the in-process policy it returns one Result
// per entry attempted, in fstab order. When Parallel is set and a
// ChildCommand is given, it returns nil: that path reports no per-entry
// Results.
func (l *Library) MountAllFromFstab(opts MountAllOptions) []exitcode.Result {
	candidates := l.eligibleFstabEntries()

	work := func(e entry.Entry) exitcode.Result {
		fe := e.(*entry.FsTabEntry)
		if opts.Fake {
			return exitcode.Result{Code: exitcode.Success, Reason: "fake: " + fe.Target()}
		}
		o := mount.New(l.Cache, l.Fstab, l.MountInfo).
			SetTarget(fe.Target()).
			SetForceUnrestricted(opts.ForceUnrestricted)
		if err := o.Mount(); err != nil {
			return o.Result()
		}
		return o.Result()
	}

	if opts.Parallel && opts.ChildCommand != nil {
		s := supervisor.New(supervisor.ForkPerEntry)
		entries := make([]entry.Entry, len(candidates))
		for i, fe := range candidates {
			entries[i] = fe
		}
		_, _, _ = s.Run(entries, nil, opts.ChildCommand)
		// Parallel dispatch reports aggregate status only; per-entry
		// Results require the in-process SingleProcess policy below.
		return nil
	}

	s := supervisor.New(supervisor.SingleProcess)
	results := make([]exitcode.Result, 0, len(candidates))
	entries := make([]entry.Entry, len(candidates))
	for i, fe := range candidates {
		entries[i] = fe
	}
	capture := func(e entry.Entry) exitcode.Result {
		r := work(e)
		results = append(results, r)
		return r
	}
	s.Run(entries, capture, nil)
	return results
}

func (l *Library) eligibleFstabEntries() []*entry.FsTabEntry {
	var out []*entry.FsTabEntry
	for _, e := range l.Fstab.All() {
		fe, ok := e.(*entry.FsTabEntry)
		if !ok {
			continue
		}
		if optstring.MatchAny(fe.Options(), "+noauto") {
			continue
		}
		if l.MountInfo != nil {
			if _, already := l.MountInfo.FindByTarget(fe.Target()); already {
				continue
			}
		}
		out = append(out, fe)
	}
	return out
}

// Diff compares two mountinfo snapshots, reporting the changes needed to
// turn before into after (spec §4.7).
func Diff(before, after *table.Table) ([]differ.Change, int) {
	return differ.Diff(before, after)
}
