// Package cache implements the content-addressed Resolution Cache of spec
// §4.3: memoized path canonicalization and Tag → device-path resolution,
// shared across Table lookups. A Cache is a pure memo: it holds no
// ownership over the paths or tags it describes (spec §9).
package cache

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/platinasystems/loopback"

	"github.com/platinasystems/gomount/internal/debug"
	"github.com/platinasystems/gomount/internal/tag"
)

// Category selects which device-property classes Prober.Probe should
// attempt to resolve, per spec §4.3 ("configure which filesystem-property
// categories to probe").
type Category int

const (
	CategoryLabel Category = 1 << iota
	CategoryUuid
	CategoryPartLabel
	CategoryPartUuid
	CategoryId
	CategoryAll = CategoryLabel | CategoryUuid | CategoryPartLabel | CategoryPartUuid | CategoryId
)

// Prober is the external device-probing collaborator named in spec §6: it
// inspects a block device's superblock/partition metadata and reports the
// tags it carries. The default implementation walks the conventional
// /dev/disk/by-* symlink farm; a caller may substitute a libblkid-backed
// prober without gomount depending on cgo.
type Prober interface {
	Probe(devicePath string, categories Category) ([]tag.Tag, error)
}

// MountInfoSnapshot is the minimal view of a mountinfo snapshot the Cache
// needs to pre-seed canonical paths, satisfied by *table.Table without an
// import cycle.
type MountInfoSnapshot interface {
	Targets() []string
}

// Cache memoizes canonical paths and tag→device lookups. It is safe for
// concurrent readers; mutation (inserting a newly resolved entry) is
// serialized against them (spec §4.3 guarantees).
type Cache struct {
	mu         sync.RWMutex
	paths      map[string]string
	tagToPath  map[string]string
	prober     Prober
	categories Category
}

// New creates an empty Cache using the default /dev/disk/by-* Prober and
// all tag categories enabled.
func New() *Cache {
	return &Cache{
		paths:      make(map[string]string),
		tagToPath:  make(map[string]string),
		prober:     defaultProber{},
		categories: CategoryAll,
	}
}

// WithProber overrides the device-probing collaborator.
func (c *Cache) WithProber(p Prober) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prober = p
	return c
}

// WithCategories restricts which tag categories ImportTags/ResolveTag will
// probe for.
func (c *Cache) WithCategories(cats Category) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories = cats
	return c
}

// Canonicalize resolves path to an absolute, symlink-free form, substituting
// the backing file for a /dev/loopN source. Lookups are idempotent and
// memoized.
func (c *Cache) Canonicalize(path string) (string, bool) {
	c.mu.RLock()
	if v, ok := c.paths[path]; ok {
		c.mu.RUnlock()
		return v, true
	}
	c.mu.RUnlock()

	resolved, err := canonicalizeUncached(path)
	if err != nil {
		debug.Logf(debug.Cache, "canonicalize", path, "failed:", err)
		return "", false
	}

	c.mu.Lock()
	c.paths[path] = resolved
	c.mu.Unlock()
	return resolved, true
}

func canonicalizeUncached(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Non-existent paths (e.g. a target not yet created) still
		// canonicalize by lexical cleaning; only I/O errors beyond
		// "not found" are real failures.
		if os.IsNotExist(err) {
			return filepath.Clean(abs), nil
		}
		return "", err
	}
	if backing, ok := loopBackingFile(resolved); ok {
		return backing, nil
	}
	return resolved, nil
}

// loopBackingFile substitutes the backing file of a /dev/loopN device, per
// spec §3's "loopback-device backing file substituted for /dev/loopN
// entries".
func loopBackingFile(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasPrefix(filepath.Dir(path), "/dev") || !strings.HasPrefix(base, "loop") {
		return "", false
	}
	if _, err := strconv.Atoi(strings.TrimPrefix(base, "loop")); err != nil {
		return "", false
	}
	backing, err := loopback.BackingFile(path)
	if err != nil || backing == "" {
		return "", false
	}
	return backing, true
}

// ResolveTag probes for the first block device carrying t, memoizing the
// result. A tag that does not resolve returns ("", false), not an error;
// probe I/O failures are logged and treated the same way.
func (c *Cache) ResolveTag(t tag.Tag) (string, bool) {
	key := t.String()
	c.mu.RLock()
	if v, ok := c.tagToPath[key]; ok {
		c.mu.RUnlock()
		return v, true
	}
	c.mu.RUnlock()

	path, ok := c.probeForTag(t)
	if !ok {
		return "", false
	}
	c.mu.Lock()
	c.tagToPath[key] = path
	c.mu.Unlock()
	return path, true
}

func (c *Cache) probeForTag(t tag.Tag) (string, bool) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		debug.Logf(debug.Cache, "resolve_tag", t.String(), "readdir /dev failed:", err)
		return "", false
	}
	for _, ent := range entries {
		if !strings.HasPrefix(ent.Name(), "sd") && !strings.HasPrefix(ent.Name(), "nvme") &&
			!strings.HasPrefix(ent.Name(), "vd") && !strings.HasPrefix(ent.Name(), "loop") {
			continue
		}
		dev := filepath.Join("/dev", ent.Name())
		if c.DeviceHasTag(dev, t) {
			return dev, true
		}
	}
	return "", false
}

// DeviceHasTag probes devicePath and reports whether it carries t.
func (c *Cache) DeviceHasTag(devicePath string, t tag.Tag) bool {
	c.mu.RLock()
	prober, cats := c.prober, c.categories
	c.mu.RUnlock()

	tags, err := prober.Probe(devicePath, cats)
	if err != nil {
		debug.Logf(debug.Cache, "device_has_tag", devicePath, "probe failed:", err)
		return false
	}
	for _, got := range tags {
		if got.Name() == t.Name() && got.Value() == t.Value() {
			return true
		}
	}
	return false
}

// ImportPaths pre-populates canonical-path entries from an existing mount
// snapshot, avoiding probes for already-known targets.
func (c *Cache) ImportPaths(snapshot MountInfoSnapshot) {
	for _, target := range snapshot.Targets() {
		c.Canonicalize(target)
	}
}

// ImportTags eagerly probes and caches all tags of one device.
func (c *Cache) ImportTags(devicePath string) error {
	c.mu.RLock()
	prober, cats := c.prober, c.categories
	c.mu.RUnlock()

	tags, err := prober.Probe(devicePath, cats)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for _, t := range tags {
		c.tagToPath[t.String()] = devicePath
	}
	c.mu.Unlock()
	return nil
}

// Clear drops all memoized entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = make(map[string]string)
	c.tagToPath = make(map[string]string)
}

// defaultProber reads the conventional /dev/disk/by-{label,uuid,partlabel,
// partuuid,id} symlink farms maintained by the system's udev rules.
type defaultProber struct{}

var byDirs = map[Category]struct {
	dir  string
	name tag.Name
}{
	CategoryLabel:     {"/dev/disk/by-label", tag.Label},
	CategoryUuid:      {"/dev/disk/by-uuid", tag.Uuid},
	CategoryPartLabel: {"/dev/disk/by-partlabel", tag.PartLabel},
	CategoryPartUuid:  {"/dev/disk/by-partuuid", tag.PartUuid},
	CategoryId:        {"/dev/disk/by-id", tag.Id},
}

func (defaultProber) Probe(devicePath string, categories Category) ([]tag.Tag, error) {
	target, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		target = devicePath
	}
	var found []tag.Tag
	for cat, loc := range byDirs {
		if categories&cat == 0 {
			continue
		}
		entries, err := os.ReadDir(loc.dir)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			link := filepath.Join(loc.dir, ent.Name())
			resolved, err := filepath.EvalSymlinks(link)
			if err != nil || resolved != target {
				continue
			}
			found = append(found, tag.New(loc.name, ent.Name()))
		}
	}
	return found, nil
}
