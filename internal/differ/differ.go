// Package differ implements the Table Differ of spec §4.7: comparing two
// snapshots of a mount table (typically consecutive mountinfo parses) and
// producing a change log classified as Mount, Umount, Remount, Move or
// Propagation.
package differ

import (
	"fmt"

	"github.com/platinasystems/gomount/internal/entry"
	"github.com/platinasystems/gomount/internal/table"
)

// Kind classifies one detected change.
type Kind int

const (
	Mount Kind = iota
	Umount
	Remount
	Move
	PropagationChange
)

func (k Kind) String() string {
	switch k {
	case Mount:
		return "Mount"
	case Umount:
		return "Umount"
	case Remount:
		return "Remount"
	case Move:
		return "Move"
	case PropagationChange:
		return "Propagation"
	default:
		return "Unknown"
	}
}

// Change is one entry in the change log.
type Change struct {
	Kind   Kind
	Source string
	Target string
	Old    entry.Entry // nil for Mount
	New    entry.Entry // nil for Umount
}

func (c Change) String() string {
	return fmt.Sprintf("%s{source:%q target:%q}", c.Kind, c.Source, c.Target)
}

// identity is the (source, root) pair entries are matched by: target is
// deliberately excluded so that a target change on an otherwise-identical
// entry is detected as Move rather than an Umount+Mount pair (spec §4.7).
// root is empty for variants that do not carry one.
type identity struct {
	source, root string
}

func rootOf(e entry.Entry) string {
	if mi, ok := e.(*entry.MountInfoEntry); ok {
		return mi.Root
	}
	return ""
}

func identityOf(e entry.Entry) identity {
	return identity{source: e.Source(), root: rootOf(e)}
}

func optionsOf(e entry.Entry) string {
	switch v := e.(type) {
	case *entry.MountInfoEntry:
		return v.VFSOptions + "\x00" + v.FSOptions
	case *entry.FsTabEntry:
		return v.Options()
	case *entry.UTabEntry:
		return v.UserOptions
	default:
		return ""
	}
}

func propagationOf(e entry.Entry) (entry.Propagation, bool) {
	if mi, ok := e.(*entry.MountInfoEntry); ok {
		return mi.PropagationFlags(), true
	}
	return 0, false
}

// Diff compares source against other, matching entries by their (source,
// root) identity. Additions (present in other, absent from source) are
// emitted as Mount in other's iteration order; removals (present in
// source, absent from other) are emitted as Umount in source's iteration
// order; entries present in both are compared for option, target or
// propagation drift and emitted as Remount/Move/Propagation in source's
// iteration order. Diff returns the change log and its length.
func Diff(source, other *table.Table) ([]Change, int) {
	otherByID := make(map[identity]entry.Entry, other.Len())
	for _, e := range other.All() {
		otherByID[identityOf(e)] = e
	}

	var changes []Change
	seen := make(map[identity]bool, source.Len())

	for _, e := range source.All() {
		id := identityOf(e)
		seen[id] = true
		otherE, ok := otherByID[id]
		if !ok {
			changes = append(changes, Change{Kind: Umount, Source: id.source, Target: e.Target(), Old: e})
			continue
		}
		if e.Target() != otherE.Target() {
			changes = append(changes, Change{Kind: Move, Source: id.source, Target: otherE.Target(), Old: e, New: otherE})
			continue
		}
		if oldProp, ok1 := propagationOf(e); ok1 {
			if newProp, ok2 := propagationOf(otherE); ok2 && oldProp != newProp {
				changes = append(changes, Change{Kind: PropagationChange, Source: id.source, Target: e.Target(), Old: e, New: otherE})
				continue
			}
		}
		if optionsOf(e) != optionsOf(otherE) {
			changes = append(changes, Change{Kind: Remount, Source: id.source, Target: e.Target(), Old: e, New: otherE})
		}
	}

	// additions, in other's iteration order
	remaining := make(map[identity]bool, len(otherByID))
	for id := range otherByID {
		remaining[id] = true
	}
	for _, e := range other.All() {
		id := identityOf(e)
		if seen[id] || !remaining[id] {
			continue
		}
		// guard against duplicate identities in other: only the first
		// occurrence in iteration order is reported as the addition
		remaining[id] = false
		changes = append(changes, Change{Kind: Mount, Source: id.source, Target: e.Target(), New: e})
	}

	return changes, len(changes)
}
