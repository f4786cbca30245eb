// Package config centralizes the default file paths and environment
// variable overrides described in spec §6. Values are resolved once; the
// library does not support re-reading the environment mid-process (spec §9,
// "Global state").
package config

import (
	"os"
	"sync"
)

const (
	DefaultFsTab     = "/etc/fstab"
	DefaultMTab      = "/etc/mtab"
	DefaultMountInfo = "/proc/self/mountinfo"
	DefaultSwaps     = "/proc/swaps"
	DefaultUTab      = "/run/mount/utab"
)

// FsTabPath returns /etc/fstab, or the LIBMOUNT_FSTAB override.
func FsTabPath() string {
	return envOr("LIBMOUNT_FSTAB", DefaultFsTab)
}

// MTabPath returns /etc/mtab, or the LIBMOUNT_MTAB override.
func MTabPath() string {
	return envOr("LIBMOUNT_MTAB", DefaultMTab)
}

// SwapsPath returns /proc/swaps, or the LIBMOUNT_SWAPS override.
func SwapsPath() string {
	return envOr("LIBMOUNT_SWAPS", DefaultSwaps)
}

// UTabPath returns /run/mount/utab, or the LIBMOUNT_UTAB override.
func UTabPath() string {
	return envOr("LIBMOUNT_UTAB", DefaultUTab)
}

// MountInfoPath returns /proc/self/mountinfo. It has no environment override
// in spec §6: it names the kernel's live view of the calling process.
func MountInfoPath() string {
	return DefaultMountInfo
}

var (
	envMu    sync.Mutex
	envCache = map[string]string{}
)

// envOr resolves key on first use and returns the same value afterwards.
func envOr(key, fallback string) string {
	envMu.Lock()
	defer envMu.Unlock()
	if v, ok := envCache[key]; ok {
		return v
	}
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		v = fallback
	}
	envCache[key] = v
	return v
}
