// Package entry implements the Entry Model of spec §4.4: a shared
// capability interface plus four concrete variants (FsTabEntry,
// MountInfoEntry, SwapsEntry, UTabEntry), replacing the macro-generated
// parallel structs of the source this library reimplements (spec §9,
// "Polymorphism across entry types").
package entry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/platinasystems/gomount/internal/cache"
	"github.com/platinasystems/gomount/internal/tag"
)

// Entry is the capability set shared by all four variants (spec §4.4).
type Entry interface {
	Source() string
	Target() string
	FSType() string
	// IsSource performs up to four comparisons in order, succeeding on
	// the first match: raw equality, canonicalized-candidate vs raw
	// source, canonicalized vs canonicalized, canonicalized-candidate vs
	// tag-resolved source.
	IsSource(candidate string, c *cache.Cache) bool
	// IsExactSource compares raw strings only, collapsing redundant
	// forward slashes.
	IsExactSource(candidate string) bool
	IsTarget(candidate string, c *cache.Cache) bool
	Copy() Entry
	DebugString() string
}

func collapseSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

func isExactMatch(raw, candidate string) bool {
	return collapseSlashes(raw) == collapseSlashes(candidate)
}

// matchPath implements the shared four-step comparison used by IsSource and
// IsTarget for string-valued fields that may be device paths.
func matchPath(raw, candidate string, c *cache.Cache, asTag func(string) (tag.Tag, bool)) bool {
	if raw == candidate {
		return true
	}
	if c == nil {
		return false
	}
	canonCandidate, ok := c.Canonicalize(candidate)
	if !ok {
		canonCandidate = candidate
	}
	if canonCandidate == raw {
		return true
	}
	canonRaw, ok := c.Canonicalize(raw)
	if ok && canonCandidate == canonRaw {
		return true
	}
	if asTag != nil {
		if t, ok := asTag(raw); ok {
			if resolved, ok := c.ResolveTag(t); ok && canonCandidate == resolved {
				return true
			}
		}
	}
	return false
}

func tryParseTag(raw string) (tag.Tag, bool) {
	t, err := tag.Parse(raw)
	if err != nil {
		return tag.Tag{}, false
	}
	return t, true
}

// ---- FsTabEntry ----

// FsTabEntry is one /etc/fstab data line (spec §3).
type FsTabEntry struct {
	source         string
	target         string
	fsType         string
	options        string
	backupFreq     int
	fsckOrder      int
	comment        string
}

// NewFsTabEntry builds a well-formed FsTabEntry. Use FsTabEntryBuilder for
// incremental/partial construction.
func NewFsTabEntry(source, target, fsType, options string, backupFreq, fsckOrder int) *FsTabEntry {
	return &FsTabEntry{
		source: source, target: target, fsType: fsType,
		options: options, backupFreq: backupFreq, fsckOrder: fsckOrder,
	}
}

func (e *FsTabEntry) Source() string  { return e.source }
func (e *FsTabEntry) Target() string  { return e.target }
func (e *FsTabEntry) FSType() string  { return e.fsType }
func (e *FsTabEntry) Options() string { return e.options }
func (e *FsTabEntry) BackupFrequency() int { return e.backupFreq }
func (e *FsTabEntry) FsckOrder() int       { return e.fsckOrder }
func (e *FsTabEntry) Comment() string      { return e.comment }

// AppendComment concatenates text to any existing comment, inserting a
// newline between successive comments if one is not already present.
func (e *FsTabEntry) AppendComment(text string) {
	if e.comment == "" {
		e.comment = text
		return
	}
	if !strings.HasSuffix(e.comment, "\n") && !strings.HasPrefix(text, "\n") {
		e.comment += "\n"
	}
	e.comment += text
}

// Tag returns Some(Tag) iff source is of the form NAME=value with a
// recognized tag name.
func (e *FsTabEntry) Tag() (tag.Tag, bool) {
	return tryParseTag(e.source)
}

func (e *FsTabEntry) IsSource(candidate string, c *cache.Cache) bool {
	return matchPath(e.source, candidate, c, tryParseTag)
}

func (e *FsTabEntry) IsExactSource(candidate string) bool {
	return isExactMatch(e.source, candidate)
}

func (e *FsTabEntry) IsTarget(candidate string, c *cache.Cache) bool {
	return matchPath(e.target, candidate, c, nil)
}

func (e *FsTabEntry) Copy() Entry {
	cp := *e
	return &cp
}

func (e *FsTabEntry) DebugString() string {
	return fmt.Sprintf("FsTabEntry{source:%q target:%q fstype:%q options:%q freq:%d pass:%d}",
		e.source, e.target, e.fsType, e.options, e.backupFreq, e.fsckOrder)
}

// FsTabEntryBuilder constructs an FsTabEntry incrementally; only source is
// required.
type FsTabEntryBuilder struct {
	e FsTabEntry
	sourceSet bool
}

func NewFsTabEntryBuilder() *FsTabEntryBuilder { return &FsTabEntryBuilder{} }

func (b *FsTabEntryBuilder) Source(s string) *FsTabEntryBuilder  { b.e.source = s; b.sourceSet = true; return b }
func (b *FsTabEntryBuilder) Target(s string) *FsTabEntryBuilder  { b.e.target = s; return b }
func (b *FsTabEntryBuilder) FSType(s string) *FsTabEntryBuilder  { b.e.fsType = s; return b }
func (b *FsTabEntryBuilder) Options(s string) *FsTabEntryBuilder { b.e.options = s; return b }
func (b *FsTabEntryBuilder) BackupFrequency(n int) *FsTabEntryBuilder { b.e.backupFreq = n; return b }
func (b *FsTabEntryBuilder) FsckOrder(n int) *FsTabEntryBuilder       { b.e.fsckOrder = n; return b }
func (b *FsTabEntryBuilder) Comment(s string) *FsTabEntryBuilder     { b.e.comment = s; return b }

func (b *FsTabEntryBuilder) Build() (*FsTabEntry, error) {
	if !b.sourceSet || b.e.source == "" {
		return nil, fmt.Errorf("fstab entry builder: source is required")
	}
	cp := b.e
	return &cp, nil
}

// ---- MountInfoEntry ----

// MountInfoEntry is one /proc/self/mountinfo line (spec §3, §4.4).
type MountInfoEntry struct {
	MountID        int
	ParentID       int
	DeviceMajor    uint32
	DeviceMinor    uint32
	Root           string
	target         string
	VFSOptions     string
	OptionalFields string
	FSOptions      string
	source         string
	fsType         string
	Tid            int
}

func (e *MountInfoEntry) Source() string { return e.source }
func (e *MountInfoEntry) Target() string { return e.target }
func (e *MountInfoEntry) FSType() string { return e.fsType }

func (e *MountInfoEntry) IsSource(candidate string, c *cache.Cache) bool {
	return matchPath(e.source, candidate, c, tryParseTag)
}

func (e *MountInfoEntry) IsExactSource(candidate string) bool {
	return isExactMatch(e.source, candidate)
}

func (e *MountInfoEntry) IsTarget(candidate string, c *cache.Cache) bool {
	return matchPath(e.target, candidate, c, nil)
}

func (e *MountInfoEntry) SetTarget(t string) { e.target = t }
func (e *MountInfoEntry) SetSource(s string) { e.source = s }
func (e *MountInfoEntry) SetFSType(t string) { e.fsType = t }

// DeviceID returns the classic BSD-style encoding observed in the library
// this package reimplements: major=(x>>8)&0xff; minor=(x&0xff)|((x&0xffff0000)>>8).
// Spec §9 flags this as disagreeing with the modern Linux dev_t encoding,
// but directs implementers to preserve the observed behavior.
func (e *MountInfoEntry) DeviceID() uint64 {
	x := uint64(e.DeviceMajor)<<8 | uint64(e.DeviceMinor&0xff) | (uint64(e.DeviceMinor&0xffff00) << 8)
	return x
}

// DeviceIDMajorMinor returns the (major, minor) pair decoded straight from
// the mountinfo "major:minor" field, independent of the BSD-style DeviceID
// encoding above.
func (e *MountInfoEntry) DeviceIDMajorMinor() (uint64, uint64) {
	return uint64(e.DeviceMajor), uint64(e.DeviceMinor)
}

// Propagation enumerates the four mutually-exclusive mount propagation
// classes (spec §3, GLOSSARY).
type Propagation int

const (
	PropagationPrivate Propagation = iota
	PropagationShared
	PropagationSlave
	PropagationUnbindable
)

// PropagationFlags decodes the optional-fields column for its propagation
// token, defaulting to Private (the kernel default, absent from the file
// when active, per spec §3).
func (e *MountInfoEntry) PropagationFlags() Propagation {
	switch {
	case strings.Contains(e.OptionalFields, "shared:"):
		return PropagationShared
	case strings.Contains(e.OptionalFields, "master:"):
		return PropagationSlave
	case strings.Contains(e.OptionalFields, "unbindable"):
		return PropagationUnbindable
	default:
		return PropagationPrivate
	}
}

// FullVFSOptions fills in the kernel defaults the file omits (spec §4.4).
// A default is appended only when the line sets neither it nor its
// opposite (an explicit "ro" suppresses "rw", "relatime" suppresses
// "norelatime"), so explicitly set options take precedence. defaults is
// the definition-order list of implied options, normally
// flagmap.FullDefaults.
func (e *MountInfoEntry) FullVFSOptions(defaults []string) string {
	present := make(map[string]bool)
	for _, raw := range strings.Split(e.VFSOptions, ",") {
		if raw == "" {
			continue
		}
		name := raw
		if idx := strings.IndexByte(raw, '='); idx >= 0 {
			name = raw[:idx]
		}
		present[name] = true
	}
	out := append([]string(nil), strings.Split(e.VFSOptions, ",")...)
	if len(out) == 1 && out[0] == "" {
		out = nil
	}
	opposite := map[string]string{"rw": "ro", "async": "sync", "loud": "silent"}
	for _, d := range defaults {
		alt, ok := opposite[d]
		if !ok {
			if strings.HasPrefix(d, "no") {
				alt = d[2:]
			} else {
				alt = "no" + d
			}
		}
		if !present[d] && !present[alt] {
			out = append(out, d)
		}
	}
	return strings.Join(out, ",")
}

func (e *MountInfoEntry) Copy() Entry {
	cp := *e
	return &cp
}

func (e *MountInfoEntry) DebugString() string {
	return fmt.Sprintf("MountInfoEntry{id:%d parent:%d dev:%d:%d root:%q target:%q fstype:%q source:%q}",
		e.MountID, e.ParentID, e.DeviceMajor, e.DeviceMinor, e.Root, e.target, e.fsType, e.source)
}

// ---- SwapsEntry ----

// SwapsEntry is one /proc/swaps data line (spec §3).
type SwapsEntry struct {
	source   string
	swapType string
	SizeKiB  int64
	UsedKiB  int64
	Priority int
}

func NewSwapsEntry(source, swapType string, size, used int64, priority int) *SwapsEntry {
	return &SwapsEntry{source: source, swapType: swapType, SizeKiB: size, UsedKiB: used, Priority: priority}
}

func (e *SwapsEntry) Source() string { return e.source }
func (e *SwapsEntry) Target() string { return "" }
func (e *SwapsEntry) FSType() string { return "swap" }
func (e *SwapsEntry) SwapType() string { return e.swapType }

// SourcePath extracts the device/file path backing this swap area. Spec §9
// notes the source this package reimplements leaks a "$entry_type" macro
// placeholder into its log messages around this accessor; that is a logging
// artifact only, not behavior, so it is not reproduced here.
func (e *SwapsEntry) SourcePath() string { return e.source }

func (e *SwapsEntry) IsSource(candidate string, c *cache.Cache) bool {
	return matchPath(e.source, candidate, c, tryParseTag)
}

func (e *SwapsEntry) IsExactSource(candidate string) bool { return isExactMatch(e.source, candidate) }
func (e *SwapsEntry) IsTarget(string, *cache.Cache) bool  { return false }

func (e *SwapsEntry) Copy() Entry {
	cp := *e
	return &cp
}

func (e *SwapsEntry) DebugString() string {
	return fmt.Sprintf("SwapsEntry{source:%q type:%q size:%d used:%d priority:%d}",
		e.source, e.swapType, e.SizeKiB, e.UsedKiB, e.Priority)
}

// ---- UTabEntry ----

// UTabEntry is one /run/mount/utab data line (spec §3).
type UTabEntry struct {
	MountID     int
	Root        string
	source      string
	target      string
	UserOptions string
	attrs       map[string]string
	BindSource  string
}

func NewUTabEntry(source, target string) *UTabEntry {
	return &UTabEntry{source: source, target: target, attrs: make(map[string]string)}
}

func (e *UTabEntry) Source() string { return e.source }
func (e *UTabEntry) Target() string { return e.target }
func (e *UTabEntry) FSType() string { return "" }

func (e *UTabEntry) SetSource(s string) { e.source = s }
func (e *UTabEntry) SetTarget(t string) { e.target = t }

// Attrs returns the named attribute dictionary (a copy, to preserve
// encapsulation of mutation through Append/Prepend/Replace).
func (e *UTabEntry) Attrs() map[string]string {
	out := make(map[string]string, len(e.attrs))
	for k, v := range e.attrs {
		out[k] = v
	}
	return out
}

// AppendAttr appends to, prepends to, or replaces an attribute's string
// value, mirroring the comma-joined option-string conventions of §4.1.
func (e *UTabEntry) AppendAttr(name, value string) {
	if e.attrs == nil {
		e.attrs = make(map[string]string)
	}
	if cur, ok := e.attrs[name]; ok && cur != "" {
		e.attrs[name] = cur + "," + value
	} else {
		e.attrs[name] = value
	}
}

func (e *UTabEntry) PrependAttr(name, value string) {
	if e.attrs == nil {
		e.attrs = make(map[string]string)
	}
	if cur, ok := e.attrs[name]; ok && cur != "" {
		e.attrs[name] = value + "," + cur
	} else {
		e.attrs[name] = value
	}
}

func (e *UTabEntry) ReplaceAttr(name, value string) {
	if e.attrs == nil {
		e.attrs = make(map[string]string)
	}
	e.attrs[name] = value
}

// AttrsString renders the attribute dictionary as "key=value,..." in
// lexical key order, for the utab trailing field.
func (e *UTabEntry) AttrsString() string {
	if len(e.attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.attrs))
	for k := range e.attrs {
		keys = append(keys, k)
	}
	// lexical order keeps round-trip output deterministic
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(e.attrs[k])
	}
	return sb.String()
}

func (e *UTabEntry) IsSource(candidate string, c *cache.Cache) bool {
	return matchPath(e.source, candidate, c, tryParseTag)
}

func (e *UTabEntry) IsExactSource(candidate string) bool { return isExactMatch(e.source, candidate) }

func (e *UTabEntry) IsTarget(candidate string, c *cache.Cache) bool {
	return matchPath(e.target, candidate, c, nil)
}

func (e *UTabEntry) Copy() Entry {
	cp := *e
	cp.attrs = make(map[string]string, len(e.attrs))
	for k, v := range e.attrs {
		cp.attrs[k] = v
	}
	return &cp
}

func (e *UTabEntry) DebugString() string {
	return fmt.Sprintf("UTabEntry{id:%d root:%q source:%q target:%q attrs:%q}",
		e.MountID, e.Root, e.source, e.target, e.AttrsString())
}

// ParseDeviceID parses a "major:minor" mountinfo field.
func ParseDeviceID(s string) (major, minor uint32, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("entry: malformed device id %q", s)
	}
	maj, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	min, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(maj), uint32(min), nil
}
