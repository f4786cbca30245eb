// Command gomount drives the Mount Orchestrator from the command line,
// in the spirit of this library's own mount/umount commands: parse a
// handful of named flags and parameters out of argv, then dispatch to the
// library proper.
package main

import (
	"fmt"
	"os"

	"github.com/platinasystems/flags"
	"github.com/platinasystems/parms"

	"github.com/platinasystems/gomount"
	"github.com/platinasystems/gomount/internal/cache"
	"github.com/platinasystems/gomount/internal/config"
	"github.com/platinasystems/gomount/internal/exitcode"
	"github.com/platinasystems/gomount/internal/mount"
	"github.com/platinasystems/gomount/internal/table"
	"github.com/platinasystems/gomount/internal/tableio"
)

func main() {
	os.Exit(int(run(os.Args[1:])))
}

func run(args []string) exitcode.Code {
	flag, args := flags.New(args,
		"-u", "--umount",
		"-r", "--remount",
		"--fake",
		"--no-canonicalize",
		"--force-unrestricted",
		"--lazy",
		"--force",
		"-a", "--all",
	)
	parm, args := parms.New(args, "-t", "-o")

	if flag.ByName["-a"] || flag.ByName["--all"] {
		return mountAll(flag, parm)
	}

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "gomount: missing source or target")
		return exitcode.Usage
	}

	source, target := argsToSourceTarget(args)
	fstab, mountInfo := loadSystemTables()
	c := cache.New()

	o := mount.New(c, fstab, mountInfo).
		SetSource(source).
		SetTarget(target).
		SetFSType(parm.ByName["-t"]).
		SetOptions(parm.ByName["-o"]).
		SetRemount(flag.ByName["-r"] || flag.ByName["--remount"]).
		SetLazyUnmount(flag.ByName["--lazy"]).
		SetForceUnmount(flag.ByName["--force"]).
		SetForceUnrestricted(flag.ByName["--force-unrestricted"]).
		SetNoCanonicalize(flag.ByName["--no-canonicalize"])

	if flag.ByName["--fake"] {
		fmt.Printf("gomount: fake mount %s on %s\n", source, target)
		return exitcode.Success
	}

	var err error
	if flag.ByName["-u"] || flag.ByName["--umount"] {
		err = o.Unmount()
	} else {
		err = o.Mount()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "gomount:", o.Result().Explain())
		return o.Result().Code
	}
	return exitcode.Success
}

// argsToSourceTarget accepts either "source target" (two positional args)
// or a single positional arg treated as a fstab-resolved target, per this
// command's own historical calling convention.
func argsToSourceTarget(args []string) (source, target string) {
	switch len(args) {
	case 1:
		return "", args[0]
	default:
		return args[0], args[1]
	}
}

func loadSystemTables() (fstab, mountInfo *table.Table) {
	fstab = table.New()
	if f, err := os.Open(config.FsTabPath()); err == nil {
		defer f.Close()
		tableio.ParseFsTab(f, config.FsTabPath(), fstab, false)
	}
	mountInfo = table.New()
	if f, err := os.Open(config.MountInfoPath()); err == nil {
		defer f.Close()
		tableio.ParseMountInfo(f, config.MountInfoPath(), mountInfo)
	}
	return fstab, mountInfo
}

// mountAll mounts every eligible fstab entry (spec §4.11's sequence-driven
// supervisor mode), skipping entries that are already mounted.
func mountAll(flag *flags.Flags, parm *parms.Parms) exitcode.Code {
	fstab, mountInfo := loadSystemTables()
	lib := gomount.New(fstab, mountInfo)
	results := lib.MountAllFromFstab(gomount.MountAllOptions{
		Fake:              flag.ByName["--fake"],
		ForceUnrestricted: flag.ByName["--force-unrestricted"],
	})

	var aggregate exitcode.Code
	for _, r := range results {
		aggregate |= r.Code
		if r.Code != exitcode.Success {
			fmt.Fprintln(os.Stderr, "gomount:", r.Reason)
		}
	}
	return aggregate
}
