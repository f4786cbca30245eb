package bootstrap

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMountAllOnTmpfs(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("mount(2) requires CAP_SYS_ADMIN")
	}
	dir := t.TempDir()
	table := []VirtualMount{
		{Target: dir, Source: "tmpfs", FSType: "tmpfs", Options: "size=1m", Mode: 0755},
	}
	if err := MountAll(table); err != nil {
		t.Fatalf("MountAll() error = %v", err)
	}
}

func TestEnsureDirCreatesMissingDirectory(t *testing.T) {
	dir := t.TempDir() + "/child"
	require.NoError(t, ensureDir(dir, 0755))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir(), "ensureDir should create a directory")
}
