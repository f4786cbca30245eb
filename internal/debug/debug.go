// Package debug gates verbose logging behind the subsystem tokens named by
// the LIBMOUNT_DEBUG environment variable, mirroring the one-shot,
// non-reinitializable debug mask the library it reimplements exposes.
package debug

import (
	"os"
	"strings"
	"sync"

	"github.com/platinasystems/log"
)

// Subsystem identifies one of the debug token groups from spec §6.
type Subsystem string

const (
	Cache   Subsystem = "cache"
	Cxt     Subsystem = "cxt"
	Diff    Subsystem = "diff"
	FS      Subsystem = "fs"
	Hook    Subsystem = "hook"
	Locks   Subsystem = "locks"
	Loop    Subsystem = "loop"
	Options Subsystem = "options"
	Optlist Subsystem = "optlist"
	Tab     Subsystem = "tab"
	Update  Subsystem = "update"
	Utils   Subsystem = "utils"
	Monitor Subsystem = "monitor"
	Btrfs   Subsystem = "btrfs"
	Verify  Subsystem = "verify"
)

var (
	once    sync.Once
	enabled map[Subsystem]bool
	all     bool
)

// Init parses LIBMOUNT_DEBUG once. Subsequent calls are no-ops: the debug
// mode, once set, does not change for the life of the process.
func Init() {
	once.Do(func() {
		enabled = make(map[Subsystem]bool)
		raw := os.Getenv("LIBMOUNT_DEBUG")
		if raw == "" {
			return
		}
		for _, tok := range strings.Split(raw, ",") {
			tok = strings.TrimSpace(tok)
			switch tok {
			case "":
				continue
			case "all":
				all = true
			case "help":
				printHelp()
			default:
				enabled[Subsystem(tok)] = true
			}
		}
	})
}

// On reports whether a subsystem's debug messages should be emitted.
func On(s Subsystem) bool {
	Init()
	return all || enabled[s]
}

// Logf emits a tagged debug message for subsystem s, in the teacher's own
// "tag, ... " argument style (github.com/platinasystems/goes/goes/machine/
// slashinit logs as log.Print("err", path, ": ", err)).
func Logf(s Subsystem, args ...interface{}) {
	if !On(s) {
		return
	}
	line := append([]interface{}{string(s)}, args...)
	log.Print(line...)
}

func printHelp() {
	log.Print("help", "LIBMOUNT_DEBUG accepts: all, cache, cxt, diff, fs, "+
		"hook, locks, loop, options, optlist, tab, update, utils, "+
		"monitor, btrfs, verify, help")
}
