// Package fstype implements FileSystem, a closed enumeration of recognized
// filesystem type names. Per spec §1 this is a thin collaborator: the core
// only needs to parse and format these names.
package fstype

import "github.com/pkg/errors"

// FileSystem is a recognized Linux filesystem or blkid superblock type name.
type FileSystem int

const (
	Unknown FileSystem = iota
	Ext2
	Ext3
	Ext4
	XFS
	Btrfs
	F2FS
	VFAT
	NTFS
	ISO9660
	TmpFS
	DevTmpFS
	ProcFS
	SysFS
	DevPTS
	OverlayFS
	Squashfs
	NFS
	NFS4
	CIFS
	Swap
	None
	Auto
)

var names = map[FileSystem]string{
	Ext2: "ext2", Ext3: "ext3", Ext4: "ext4", XFS: "xfs", Btrfs: "btrfs",
	F2FS: "f2fs", VFAT: "vfat", NTFS: "ntfs", ISO9660: "iso9660",
	TmpFS: "tmpfs", DevTmpFS: "devtmpfs", ProcFS: "proc", SysFS: "sysfs",
	DevPTS: "devpts", OverlayFS: "overlay", Squashfs: "squashfs",
	NFS: "nfs", NFS4: "nfs4", CIFS: "cifs", Swap: "swap", None: "none",
	Auto: "auto",
}

var byName map[string]FileSystem

func init() {
	byName = make(map[string]FileSystem, len(names))
	for fs, n := range names {
		byName[n] = fs
	}
}

// Parse maps a filesystem type name to a FileSystem. The empty string maps
// to Unknown without error; any other unrecognized name is a parse error.
func Parse(s string) (FileSystem, error) {
	if s == "" {
		return Unknown, nil
	}
	if fs, ok := byName[s]; ok {
		return fs, nil
	}
	return Unknown, errors.Errorf("fstype: unrecognized filesystem type %q", s)
}

// String renders the canonical type name, or "" for Unknown.
func (fs FileSystem) String() string {
	return names[fs]
}
