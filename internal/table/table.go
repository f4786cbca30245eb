// Package table implements the Table Model of spec §4.5: an ordered
// sequence of entry.Entry with position-aware insertion/removal, a
// bidirectional cursor, predicate-based search from either end, stable
// deduplication, and mount-point/device lookups. A Table optionally shares a
// *cache.Cache used by its Entry-matching searches.
package table

import (
	"github.com/platinasystems/gomount/internal/cache"
	"github.com/platinasystems/gomount/internal/entry"
)

// ParserAction tells a Table's parser-error hook whether to keep reading
// after a malformed line.
type ParserAction int

const (
	Continue ParserAction = iota
	Stop
)

// ParserErrorFunc is the per-table parser-error hook of spec §4.5, invoked
// for every syntactically defective line encountered during import. The
// default behavior (nil hook) is Continue.
type ParserErrorFunc func(filename string, lineNumber int, lineText string) ParserAction

// Table is an ordered sequence of Entries.
type Table struct {
	entries     []entry.Entry
	cache       *cache.Cache
	introComment    string
	trailingComment string
	onParseError ParserErrorFunc
}

// New creates an empty Table with no associated Cache.
func New() *Table {
	return &Table{}
}

// SetCache attaches a Cache used by subsequent Entry-matching searches. A
// Table holds a borrowed reference only; it does not own the Cache (spec
// §9).
func (t *Table) SetCache(c *cache.Cache) { t.cache = c }

func (t *Table) Cache() *cache.Cache { return t.cache }

// SetParserErrorFunc installs the malformed-line callback used by table I/O.
func (t *Table) SetParserErrorFunc(f ParserErrorFunc) { t.onParseError = f }

func (t *Table) ParserErrorFunc() ParserErrorFunc { return t.onParseError }

func (t *Table) SetIntroComment(s string)    { t.introComment = s }
func (t *Table) IntroComment() string        { return t.introComment }
func (t *Table) SetTrailingComment(s string) { t.trailingComment = s }
func (t *Table) TrailingComment() string     { return t.trailingComment }

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }

// IsEmpty reports whether the table has no entries.
func (t *Table) IsEmpty() bool { return len(t.entries) == 0 }

// Push appends e to the end of the table.
func (t *Table) Push(e entry.Entry) { t.entries = append(t.entries, e) }

// PushFront prepends e to the table.
func (t *Table) PushFront(e entry.Entry) {
	t.entries = append([]entry.Entry{e}, t.entries...)
}

// Insert places e at position pos, shifting later entries down.
func (t *Table) Insert(pos int, e entry.Entry) error {
	if pos < 0 || pos > len(t.entries) {
		return errOutOfRange(pos, len(t.entries))
	}
	t.entries = append(t.entries, nil)
	copy(t.entries[pos+1:], t.entries[pos:])
	t.entries[pos] = e
	return nil
}

// Remove deletes and returns the entry at pos.
func (t *Table) Remove(pos int) (entry.Entry, error) {
	if pos < 0 || pos >= len(t.entries) {
		return nil, errOutOfRange(pos, len(t.entries))
	}
	e := t.entries[pos]
	t.entries = append(t.entries[:pos], t.entries[pos+1:]...)
	return e, nil
}

// Transfer moves the entry at pos in t to position otherPos in other,
// atomically: t shrinks by one, other grows by one.
func (t *Table) Transfer(pos int, other *Table, otherPos int) error {
	e, err := t.Remove(pos)
	if err != nil {
		return err
	}
	if err := other.Insert(otherPos, e); err != nil {
		// restore t on failure so a failed transfer leaves tables
		// unchanged (spec §7)
		_ = t.Insert(pos, e)
		return err
	}
	return nil
}

// At returns the entry at position pos.
func (t *Table) At(pos int) (entry.Entry, error) {
	if pos < 0 || pos >= len(t.entries) {
		return nil, errOutOfRange(pos, len(t.entries))
	}
	return t.entries[pos], nil
}

// First returns the first entry, if any.
func (t *Table) First() (entry.Entry, bool) {
	if len(t.entries) == 0 {
		return nil, false
	}
	return t.entries[0], true
}

// Last returns the last entry, if any.
func (t *Table) Last() (entry.Entry, bool) {
	if len(t.entries) == 0 {
		return nil, false
	}
	return t.entries[len(t.entries)-1], true
}

// All returns the entries in iteration order. Callers must not mutate the
// returned slice's backing array.
func (t *Table) All() []entry.Entry { return t.entries }

// Targets implements cache.MountInfoSnapshot for ImportPaths pre-seeding.
func (t *Table) Targets() []string {
	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		if target := e.Target(); target != "" {
			out = append(out, target)
		}
	}
	return out
}

// Cursor is a bidirectional iterator over a Table, positioned between two
// entries.
type Cursor struct {
	t   *Table
	pos int
}

// Iter returns a Cursor positioned before the first entry.
func (t *Table) Iter() *Cursor { return &Cursor{t: t, pos: 0} }

// AdvanceTo repositions the cursor such that the next forward Next() call
// yields the entry at pos, and the next backward Prev() call yields the
// entry before pos.
func (c *Cursor) AdvanceTo(pos int) { c.pos = pos }

// Next returns the entry at the cursor and advances it forward, or false at
// the end.
func (c *Cursor) Next() (entry.Entry, bool) {
	if c.pos >= len(c.t.entries) {
		return nil, false
	}
	e := c.t.entries[c.pos]
	c.pos++
	return e, true
}

// Prev moves the cursor back one position and returns the entry there, or
// false at the start.
func (c *Cursor) Prev() (entry.Entry, bool) {
	if c.pos <= 0 {
		return nil, false
	}
	c.pos--
	return c.t.entries[c.pos], true
}

// Predicate tests one Entry.
type Predicate func(entry.Entry) bool

// FindFirst scans from the head, returning the first entry matching pred.
func (t *Table) FindFirst(pred Predicate) (entry.Entry, int, bool) {
	for i, e := range t.entries {
		if pred(e) {
			return e, i, true
		}
	}
	return nil, -1, false
}

// FindBackFirst scans from the tail, returning the highest-index entry
// matching pred.
func (t *Table) FindBackFirst(pred Predicate) (entry.Entry, int, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if pred(t.entries[i]) {
			return t.entries[i], i, true
		}
	}
	return nil, -1, false
}

func (t *Table) FindBySource(source string) (entry.Entry, bool) {
	e, _, ok := t.FindFirst(func(e entry.Entry) bool { return e.IsSource(source, t.cache) })
	return e, ok
}

func (t *Table) FindBackBySource(source string) (entry.Entry, bool) {
	e, _, ok := t.FindBackFirst(func(e entry.Entry) bool { return e.IsSource(source, t.cache) })
	return e, ok
}

func (t *Table) FindByTarget(target string) (entry.Entry, bool) {
	e, _, ok := t.FindFirst(func(e entry.Entry) bool { return e.IsTarget(target, t.cache) })
	return e, ok
}

func (t *Table) FindBackByTarget(target string) (entry.Entry, bool) {
	e, _, ok := t.FindBackFirst(func(e entry.Entry) bool { return e.IsTarget(target, t.cache) })
	return e, ok
}

func (t *Table) FindByPair(source, target string) (entry.Entry, bool) {
	e, _, ok := t.FindFirst(func(e entry.Entry) bool {
		return e.IsSource(source, t.cache) && e.IsTarget(target, t.cache)
	})
	return e, ok
}

func (t *Table) FindBySourcePath(path string) (entry.Entry, bool) {
	e, _, ok := t.FindFirst(func(e entry.Entry) bool { return e.IsExactSource(path) })
	return e, ok
}

// FindByTargetWithOption finds the first entry whose target matches and for
// which the caller's matches predicate holds; the caller supplies the
// option test since option storage differs per variant.
func (t *Table) FindByTargetWithOption(target string, matches func(entry.Entry) bool) (entry.Entry, bool) {
	e, _, ok := t.FindFirst(func(e entry.Entry) bool {
		return e.IsTarget(target, t.cache) && matches(e)
	})
	return e, ok
}

// DedupFirstBy retains the first of each equivalence class under eq,
// preserving survivors' input order. O(n^2), acceptable for mount-table
// sizes (spec §4.5).
func (t *Table) DedupFirstBy(eq func(a, b entry.Entry) bool) {
	var out []entry.Entry
	for _, e := range t.entries {
		dup := false
		for _, kept := range out {
			if eq(kept, e) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	t.entries = out
}

// DedupLastBy retains the last of each equivalence class under eq,
// preserving survivors' input order.
func (t *Table) DedupLastBy(eq func(a, b entry.Entry) bool) {
	keep := make([]bool, len(t.entries))
	for i := range t.entries {
		keep[i] = true
		for j := i + 1; j < len(t.entries); j++ {
			if eq(t.entries[i], t.entries[j]) {
				keep[i] = false
				break
			}
		}
	}
	var out []entry.Entry
	for i, e := range t.entries {
		if keep[i] {
			out = append(out, e)
		}
	}
	t.entries = out
}

// FindMountPoint returns the deepest entry whose target is a prefix of
// path, scanning forward.
func (t *Table) FindMountPoint(path string) (entry.Entry, bool) {
	return findMountPoint(t.entries, path, false)
}

// FindBackMountPoint is FindMountPoint scanning from the tail.
func (t *Table) FindBackMountPoint(path string) (entry.Entry, bool) {
	return findMountPoint(t.entries, path, true)
}

func findMountPoint(entries []entry.Entry, path string, backward bool) (entry.Entry, bool) {
	var best entry.Entry
	bestLen := -1
	iterate := func(e entry.Entry) {
		target := e.Target()
		if target == "" {
			return
		}
		if isPrefixPath(target, path) && len(target) > bestLen {
			best = e
			bestLen = len(target)
		}
	}
	if backward {
		for i := len(entries) - 1; i >= 0; i-- {
			iterate(entries[i])
		}
	} else {
		for _, e := range entries {
			iterate(e)
		}
	}
	return best, best != nil
}

func isPrefixPath(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

// FindByDevice looks up a MountInfoEntry by its (major, minor) device
// number pair.
func (t *Table) FindByDevice(major, minor uint32) (*entry.MountInfoEntry, bool) {
	for _, e := range t.entries {
		if mi, ok := e.(*entry.MountInfoEntry); ok {
			gotMajor, gotMinor := mi.DeviceIDMajorMinor()
			if uint32(gotMajor) == major && uint32(gotMinor) == minor {
				return mi, true
			}
		}
	}
	return nil, false
}

type rangeError struct {
	pos, len int
}

func (e rangeError) Error() string {
	return "table: position out of range"
}

func errOutOfRange(pos, length int) error { return rangeError{pos, length} }
