// Package flagmap holds the two static maps (kernel mount flags, userspace
// mount flags) described in spec §4.2. They exist solely to be consumed by
// internal/optstring and internal/mount when reconstituting a flag set from
// an options string, or vice versa.
package flagmap

import "golang.org/x/sys/unix"

// Attr tags special handling a flag map entry requires.
type Attr int

const (
	// Negated means the option's presence in a list clears the bit
	// rather than setting it (e.g. "noatime" wouldn't be one of these;
	// rather the few options whose *name itself* asks for a bit to be
	// cleared, such as "rw" clearing MS_RDONLY).
	Negated Attr = 1 << iota
	// FsIo means the option is passed straight through as filesystem
	// I/O data, never translated to a flag bit.
	FsIo
	// NotInMountInfo means the option never appears in mountinfo's
	// vfs-options column even though the kernel recognizes it.
	NotInMountInfo
	// RequiresArgument means the option must carry a "=value" suffix.
	RequiresArgument
)

// Entry describes one recognized mount option token.
type Entry struct {
	Name  string
	Bit   uint64
	Attrs Attr
}

func (e Entry) Has(a Attr) bool { return e.Attrs&a != 0 }

// Map is an ordered set of Entry, preserving definition order: spec §4.2
// requires flag-set-to-string conversion to use a deterministic order equal
// to the map's definition order.
type Map []Entry

// Kernel is the static map of kernel mount(2) flags.
var Kernel = Map{
	{"ro", unix.MS_RDONLY, 0},
	{"rw", unix.MS_RDONLY, Negated},
	{"nosuid", unix.MS_NOSUID, 0},
	{"suid", unix.MS_NOSUID, Negated},
	{"nodev", unix.MS_NODEV, 0},
	{"dev", unix.MS_NODEV, Negated},
	{"noexec", unix.MS_NOEXEC, 0},
	{"exec", unix.MS_NOEXEC, Negated},
	{"sync", unix.MS_SYNCHRONOUS, 0},
	{"async", unix.MS_SYNCHRONOUS, Negated},
	{"remount", unix.MS_REMOUNT, 0},
	{"mand", unix.MS_MANDLOCK, 0},
	{"nomand", unix.MS_MANDLOCK, Negated},
	{"dirsync", unix.MS_DIRSYNC, 0},
	{"atime", unix.MS_NOATIME, Negated},
	{"noatime", unix.MS_NOATIME, 0},
	{"diratime", unix.MS_NODIRATIME, Negated},
	{"nodiratime", unix.MS_NODIRATIME, 0},
	{"bind", unix.MS_BIND, 0},
	{"rbind", unix.MS_BIND | unix.MS_REC, 0},
	{"move", unix.MS_MOVE, 0},
	{"silent", unix.MS_SILENT, 0},
	{"loud", unix.MS_SILENT, Negated},
	{"acl", unix.MS_POSIXACL, 0},
	{"noacl", unix.MS_POSIXACL, Negated},
	{"unbindable", unix.MS_UNBINDABLE, 0},
	{"runbindable", unix.MS_UNBINDABLE | unix.MS_REC, 0},
	{"private", unix.MS_PRIVATE, 0},
	{"rprivate", unix.MS_PRIVATE | unix.MS_REC, 0},
	{"slave", unix.MS_SLAVE, 0},
	{"rslave", unix.MS_SLAVE | unix.MS_REC, 0},
	{"shared", unix.MS_SHARED, 0},
	{"rshared", unix.MS_SHARED | unix.MS_REC, 0},
	{"relatime", unix.MS_RELATIME, 0},
	{"norelatime", unix.MS_RELATIME, Negated},
	{"iversion", unix.MS_I_VERSION, 0},
	{"noiversion", unix.MS_I_VERSION, Negated},
	{"strictatime", unix.MS_STRICTATIME, 0},
	{"nostrictatime", unix.MS_STRICTATIME, Negated},
	{"lazytime", unix.MS_LAZYTIME, 0},
	{"nolazytime", unix.MS_LAZYTIME, Negated, },
}

// Userspace is the static map of userspace-only mount options (spec §4.2,
// modeled on UserspaceMountFlag).
var Userspace = Map{
	{"defaults", 0, FsIo},
	{"auto", 0, Negated | NotInMountInfo},
	{"noauto", 1 << 0, NotInMountInfo},
	{"user", 1 << 1, NotInMountInfo},
	{"nouser", 1 << 1, Negated | NotInMountInfo},
	{"users", 1 << 2, NotInMountInfo},
	{"group", 1 << 3, NotInMountInfo},
	{"owner", 1 << 4, NotInMountInfo},
	{"nofail", 1 << 5, NotInMountInfo},
	{"_netdev", 1 << 6, NotInMountInfo},
	{"comment", 1 << 7, NotInMountInfo | RequiresArgument},
	{"x-gomount.comment", 1 << 7, NotInMountInfo | RequiresArgument},
	{"x-fstab-comment", 1 << 8, NotInMountInfo | RequiresArgument},
	{"loop", 1 << 9, NotInMountInfo},
	{"offset", 1 << 10, NotInMountInfo | RequiresArgument},
	{"sizelimit", 1 << 11, NotInMountInfo | RequiresArgument},
	{"encryption", 1 << 12, NotInMountInfo | RequiresArgument},
	{"verity.hashdevice", 1 << 13, NotInMountInfo | RequiresArgument},
	{"verity.roothash", 1 << 14, NotInMountInfo | RequiresArgument},
	{"verity.roothashfile", 1 << 15, NotInMountInfo | RequiresArgument},
	{"verity.hashoffset", 1 << 16, NotInMountInfo | RequiresArgument},
	{"verity.fecdevice", 1 << 17, NotInMountInfo | RequiresArgument},
	{"verity.fecoffset", 1 << 18, NotInMountInfo | RequiresArgument},
	{"verity.fecroots", 1 << 19, NotInMountInfo | RequiresArgument},
	{"x-mount.mkdir", 1 << 20, NotInMountInfo},
	{"mount.helper", 1 << 21, NotInMountInfo | RequiresArgument},
	{"umount.helper", 1 << 22, NotInMountInfo | RequiresArgument},
}

// Lookup searches a Map for name, returning its Entry and whether found.
func (m Map) Lookup(name string) (Entry, bool) {
	for _, e := range m {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// FullDefaults lists the kernel default options mountinfo's "full" view
// fills in when a line omits them (spec §4.4): rw, exec, suid, dev, async,
// loud, nomand, atime, diratime, norelatime, nostrictatime, nolazytime,
// symfollow.
var FullDefaults = []string{
	"rw", "exec", "suid", "dev", "async", "loud", "nomand",
	"atime", "diratime", "norelatime", "nostrictatime", "nolazytime",
	"symfollow",
}
