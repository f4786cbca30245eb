// Package mount implements the Mount Orchestrator of spec §4.10: the
// prepare → do_mount → finalize state machine that turns a partially
// specified mount request into a kernel mount(2) or helper invocation,
// then records it in the userspace utab.
//
// Beyond merging caller flags, invoking the syscall and reporting a result,
// it handles fstab-aware field resolution, policy-driven option merging,
// and utab bookkeeping.
package mount

import (
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/platinasystems/gomount/internal/cache"
	"github.com/platinasystems/gomount/internal/debug"
	"github.com/platinasystems/gomount/internal/entry"
	"github.com/platinasystems/gomount/internal/errdefs"
	"github.com/platinasystems/gomount/internal/exitcode"
	"github.com/platinasystems/gomount/internal/flagmap"
	"github.com/platinasystems/gomount/internal/nsswitch"
	"github.com/platinasystems/gomount/internal/optstring"
	"github.com/platinasystems/gomount/internal/table"
	"github.com/platinasystems/gomount/internal/utab"
)

// State is the Orchestrator's position in the prepare/do_mount/finalize
// state machine.
type State int

const (
	Idle State = iota
	Prepared
	SyscallInvoked
	Finalized
)

// MountOptionsMode selects how caller-supplied options merge with fstab
// (or, for remount, current mountinfo) options (spec §4.10).
type MountOptionsMode int

const (
	Auto MountOptionsMode = iota
	NoReadFromFstab
	ForceFstabOptions
	ReadFromFstab
	ReadFromMountinfo
	IgnoreOptions
	AppendOptions
	PrependOptions
	ReplaceOptions
	NonRootUser
)

// Intent distinguishes a mount attempt from an unmount attempt; the two
// share the Idle→Prepared→SyscallInvoked→Finalized machine (spec §4.10
// "Unmount: mirrored states and transitions").
type Intent int

const (
	IntentMount Intent = iota
	IntentUnmount
)

func isKernelOption(name string) bool {
	_, ok := flagmap.Kernel.Lookup(name)
	return ok
}

func isUserspaceOption(name string) bool {
	_, ok := flagmap.Userspace.Lookup(name)
	return ok
}

// Orchestrator drives one mount or unmount attempt. It is not safe for
// concurrent use; distinct goroutines must use distinct Orchestrators
// (spec §5).
type Orchestrator struct {
	state  State
	intent Intent

	source, target, fsType, options string
	fsTypeFilter                    string

	noCanonicalize     bool
	forceRW            bool
	disableHelper      bool
	forceUnrestricted  bool
	swapMatchingEnabled bool
	isRemount          bool
	lazyUnmount        bool
	forceUnmount       bool

	mode MountOptionsMode

	cache      *cache.Cache
	fstab      *table.Table
	mountInfo  *table.Table
	switcher   *nsswitch.Switcher
	updater    *utab.Updater

	kernelFlags     uintptr
	fsSpecificData  string
	helperPath      string
	matchedFsTab    *entry.FsTabEntry
	matchedMountInfo *entry.MountInfoEntry

	result exitcode.Result
}

// New creates an Idle Orchestrator. fstab and mountInfo may be nil when
// field resolution and remount-option fallback are not needed; c may be
// nil to disable canonicalization-based matching.
func New(c *cache.Cache, fstab, mountInfo *table.Table) *Orchestrator {
	return &Orchestrator{
		cache:     c,
		fstab:     fstab,
		mountInfo: mountInfo,
		mode:      Auto,
		updater:   utab.New(),
	}
}

func (o *Orchestrator) SetSource(s string) *Orchestrator   { o.source = s; return o }
func (o *Orchestrator) SetTarget(s string) *Orchestrator   { o.target = s; return o }
func (o *Orchestrator) SetFSType(s string) *Orchestrator   { o.fsType = s; return o }
func (o *Orchestrator) SetOptions(s string) *Orchestrator  { o.options = s; return o }
func (o *Orchestrator) SetFSTypeFilter(s string) *Orchestrator { o.fsTypeFilter = s; return o }
func (o *Orchestrator) SetMode(m MountOptionsMode) *Orchestrator { o.mode = m; return o }
func (o *Orchestrator) SetForceRW(v bool) *Orchestrator     { o.forceRW = v; return o }
func (o *Orchestrator) SetNoCanonicalize(v bool) *Orchestrator { o.noCanonicalize = v; return o }
func (o *Orchestrator) SetDisableHelper(v bool) *Orchestrator { o.disableHelper = v; return o }
func (o *Orchestrator) SetForceUnrestricted(v bool) *Orchestrator { o.forceUnrestricted = v; return o }
func (o *Orchestrator) SetSwapMatching(v bool) *Orchestrator { o.swapMatchingEnabled = v; return o }
func (o *Orchestrator) SetRemount(v bool) *Orchestrator     { o.isRemount = v; return o }
func (o *Orchestrator) SetLazyUnmount(v bool) *Orchestrator { o.lazyUnmount = v; return o }
func (o *Orchestrator) SetForceUnmount(v bool) *Orchestrator { o.forceUnmount = v; return o }
func (o *Orchestrator) SetNamespaceSwitcher(s *nsswitch.Switcher) *Orchestrator { o.switcher = s; return o }
func (o *Orchestrator) SetUTabUpdater(u *utab.Updater) *Orchestrator { o.updater = u; return o }

func (o *Orchestrator) State() State  { return o.state }
func (o *Orchestrator) Result() exitcode.Result { return o.result }

// ResetSyscallStatus returns the Orchestrator to Idle so it can be reused,
// as spec §4.10 requires between operations.
func (o *Orchestrator) ResetSyscallStatus() {
	o.state = Idle
	o.result = exitcode.Result{}
	o.matchedFsTab = nil
	o.matchedMountInfo = nil
	o.helperPath = ""
}

func wrongState(got, want State) error {
	return errdefs.New(errdefs.KindConfig, "mount: wrong state (reset_syscall_status required between operations)")
}

// Prepare resolves missing fields, canonicalizes paths, merges options per
// Mode, computes the kernel flag set, and selects a helper (Idle →
// Prepared).
func (o *Orchestrator) Prepare() error {
	if o.state != Idle {
		return wrongState(o.state, Idle)
	}
	if o.source == "" && o.target == "" {
		o.result = exitcode.Result{Code: exitcode.Usage, Reason: "mount: source and target both empty"}
		return errdefs.New(errdefs.KindConfig, o.result.Reason)
	}

	if err := o.resolveFromFstab(); err != nil {
		return err
	}
	o.canonicalizePaths()

	if err := o.safetyCheck(); err != nil {
		return err
	}

	mergedOptions := o.mergeOptions()
	kernelOpts, userspaceOpts, fsOpts := optstring.Split(mergedOptions, isKernelOption, isUserspaceOption)
	o.kernelFlags = computeKernelFlags(kernelOpts)
	if o.isRemount {
		o.kernelFlags |= unix.MS_REMOUNT
	}
	o.fsSpecificData = fsOpts
	// not used on its own: Finalize records the whole merged option string,
	// kernel and filesystem options included, as the utab entry's options.
	_ = userspaceOpts

	if o.fsTypeFilter != "" && !optstring.MatchAny(o.fsType, o.fsTypeFilter) {
		o.result = exitcode.Result{Code: exitcode.Usage, Reason: "mount: fs type excluded by filter " + o.fsTypeFilter}
		return errdefs.New(errdefs.KindConfig, o.result.Reason)
	}

	if !o.disableHelper {
		o.helperPath = lookupHelper(o.intent, o.fsType)
	}

	o.options = mergedOptions
	o.state = Prepared
	return nil
}

// resolveFromFstab fills in a missing target (from source) or a missing
// source (from target, or from a swap-area match when swap matching is
// enabled), per spec §4.10.
func (o *Orchestrator) resolveFromFstab() error {
	if o.fstab == nil {
		return nil
	}
	if o.target != "" && o.source == "" {
		if e, ok := o.fstab.FindByTarget(o.target); ok {
			fe, ok := e.(*entry.FsTabEntry)
			if ok {
				o.source = fe.Source()
				if o.fsType == "" {
					o.fsType = fe.FSType()
				}
				o.matchedFsTab = fe
			}
		} else if o.swapMatchingEnabled {
			// the lone argument may name the source rather than the target
			if e, ok := o.fstab.FindBySource(o.target); ok {
				if fe, ok := e.(*entry.FsTabEntry); ok {
					o.source = fe.Source()
					o.target = fe.Target()
					if o.fsType == "" {
						o.fsType = fe.FSType()
					}
					o.matchedFsTab = fe
				}
			}
		}
	} else if o.source != "" && o.target == "" {
		if e, ok := o.fstab.FindBySource(o.source); ok {
			if fe, ok := e.(*entry.FsTabEntry); ok {
				o.target = fe.Target()
				if o.fsType == "" {
					o.fsType = fe.FSType()
				}
				o.matchedFsTab = fe
			}
		}
	}
	if o.matchedFsTab == nil && o.target != "" {
		if e, ok := o.fstab.FindByTarget(o.target); ok {
			o.matchedFsTab, _ = e.(*entry.FsTabEntry)
		}
	}
	return nil
}

func (o *Orchestrator) canonicalizePaths() {
	if o.noCanonicalize || o.cache == nil {
		return
	}
	if o.source != "" {
		if c, ok := o.cache.Canonicalize(o.source); ok {
			o.source = c
		}
	}
	if o.target != "" {
		if c, ok := o.cache.Canonicalize(o.target); ok {
			o.target = c
		}
	}
}

// safetyCheck enforces spec §4.10's default restriction: an unprivileged
// caller may only mount a source/target carrying user or users in its
// fstab entry, unless force_unrestricted was explicitly set.
func (o *Orchestrator) safetyCheck() error {
	if o.forceUnrestricted || isRoot() {
		return nil
	}
	if o.matchedFsTab == nil || !optstring.MatchAny(o.matchedFsTab.Options(), "user,users") {
		o.result = exitcode.Result{Code: exitcode.User, Reason: "mount: unprivileged caller requires a user/users fstab entry"}
		return errdefs.New(errdefs.KindPermission, o.result.Reason)
	}
	return nil
}

// mergeOptions applies the MountOptionsMode policy chain of spec §4.10.
func (o *Orchestrator) mergeOptions() string {
	mode := o.mode
	if mode == Auto {
		if !isRoot() {
			mode = NonRootUser
		} else {
			mode = o.resolveAutoMode()
		}
	}

	fstabOpts := ""
	if o.matchedFsTab != nil {
		fstabOpts = o.matchedFsTab.Options()
	}

	switch mode {
	case NoReadFromFstab:
		return o.options
	case ForceFstabOptions:
		if fstabOpts != "" {
			return fstabOpts
		}
		return o.options
	case ReadFromFstab:
		if o.options == "" {
			return fstabOpts
		}
		return o.options
	case ReadFromMountinfo:
		if o.options == "" && o.isRemount && o.matchedMountInfo == nil && o.target != "" {
			o.matchedMountInfo, _ = o.FindUmountFS(o.target)
		}
		if o.options == "" && o.isRemount && o.matchedMountInfo != nil {
			return o.matchedMountInfo.FullVFSOptions(flagmap.FullDefaults)
		}
		return o.options
	case IgnoreOptions:
		return fstabOpts
	case AppendOptions:
		return joinOptions(fstabOpts, o.options)
	case PrependOptions:
		return joinOptions(o.options, fstabOpts)
	case ReplaceOptions:
		return o.options
	case NonRootUser:
		return joinOptions(fstabOpts, o.options)
	default:
		return o.options
	}
}

// resolveAutoMode picks a policy for Auto based on which fields the
// caller set and whether this is a first mount or a remount (spec
// §4.10).
func (o *Orchestrator) resolveAutoMode() MountOptionsMode {
	switch {
	case o.isRemount:
		return ReadFromMountinfo
	case o.matchedFsTab != nil:
		return ReadFromFstab
	default:
		return NoReadFromFstab
	}
}

func joinOptions(first, second string) string {
	switch {
	case first == "":
		return second
	case second == "":
		return first
	default:
		return first + "," + second
	}
}

func computeKernelFlags(kernelOpts string) uintptr {
	var flags uintptr
	present := make(map[string]bool)
	for _, t := range optstring.Iter(kernelOpts) {
		present[t.Name] = true
	}
	for _, e := range flagmap.Kernel {
		if !present[e.Name] {
			continue
		}
		if e.Has(flagmap.Negated) {
			flags &^= uintptr(e.Bit)
		} else {
			flags |= uintptr(e.Bit)
		}
	}
	return flags
}

func lookupHelper(intent Intent, fsType string) string {
	prefix := "mount."
	if intent == IntentUnmount {
		prefix = "umount."
	}
	if fsType == "" || fsType == "auto" {
		return ""
	}
	path, err := exec.LookPath(prefix + fsType)
	if err != nil {
		return ""
	}
	return path
}

// DoMount invokes the mount syscall (or a selected helper) (Prepared →
// SyscallInvoked). On EACCES/EROFS without ForceRW it retries read-only.
func (o *Orchestrator) DoMount() error {
	if o.state != Prepared {
		return wrongState(o.state, Prepared)
	}
	defer func() { o.state = SyscallInvoked }()

	if o.switcher != nil {
		if _, err := o.switcher.SwitchToTargetNamespace(); err != nil {
			o.result = exitcode.Result{Code: exitcode.SysError, Reason: err.Error()}
			return err
		}
		defer o.switcher.SwitchToOriginalNamespace()
	}

	if o.helperPath != "" {
		return o.doMountViaHelper()
	}
	return o.doMountSyscall()
}

func (o *Orchestrator) doMountViaHelper() error {
	argv := []string{o.source, o.target, "-t", o.fsType}
	if o.fsSpecificData != "" {
		argv = append(argv, "-o", o.fsSpecificData)
	}
	cmd := exec.Command(o.helperPath, argv...)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			o.result = exitcode.Result{Code: exitcode.SysError, Reason: "mount helper " + o.helperPath + " failed"}
			return errdefs.Helper(exitErr.ExitCode(), err)
		}
		o.result = exitcode.Result{Code: exitcode.Software, Reason: err.Error()}
		return errdefs.Wrap(errdefs.KindHelper, err, "invoking "+o.helperPath)
	}
	o.result = exitcode.Result{Code: exitcode.Success}
	return nil
}

func (o *Orchestrator) doMountSyscall() error {
	if o.intent == IntentUnmount {
		return o.doUnmountSyscall()
	}

	err := unix.Mount(o.source, o.target, o.fsType, o.kernelFlags, o.fsSpecificData)
	if err != nil {
		if !o.forceRW && (err == unix.EACCES || err == unix.EROFS) {
			debug.Logf(debug.FS, "do_mount", o.target, "retrying read-only after", err)
			err = unix.Mount(o.source, o.target, o.fsType, o.kernelFlags|unix.MS_RDONLY, o.fsSpecificData)
		}
	}
	if err != nil {
		o.result = exitcode.Result{Code: exitcode.SysError, Reason: "mount: " + err.Error()}
		return errdefs.Syscall(int(err.(unix.Errno)), err)
	}
	o.result = exitcode.Result{Code: exitcode.Success}
	return nil
}

func (o *Orchestrator) doUnmountSyscall() error {
	flags := 0
	if o.lazyUnmount {
		flags |= unix.MNT_DETACH
	}
	if o.forceUnmount {
		flags |= unix.MNT_FORCE
	}
	if err := unix.Unmount(o.target, flags); err != nil {
		o.result = exitcode.Result{Code: exitcode.SysError, Reason: "umount: " + err.Error()}
		return errdefs.Syscall(int(err.(unix.Errno)), err)
	}
	o.result = exitcode.Result{Code: exitcode.Success}
	return nil
}

// Finalize stages and applies the userspace-utab update on success
// (SyscallInvoked → Finalized).
func (o *Orchestrator) Finalize() error {
	if o.state != SyscallInvoked {
		return wrongState(o.state, SyscallInvoked)
	}
	defer func() { o.state = Finalized }()

	if o.result.Code != exitcode.Success {
		return nil
	}
	if o.updater == nil {
		return nil
	}

	if o.intent == IntentUnmount {
		o.updater.SetUmount(o.target, uint64(o.kernelFlags))
	} else {
		ue := entry.NewUTabEntry(o.source, o.target)
		ue.UserOptions = o.options
		o.updater.SetEntry(ue, uint64(o.kernelFlags))
	}
	if err := o.updater.Apply(); err != nil {
		o.result = exitcode.Result{Code: exitcode.FileIO, Reason: err.Error()}
		return err
	}
	return nil
}

// Mount runs Prepare, DoMount and Finalize in sequence, stopping at the
// first error.
func (o *Orchestrator) Mount() error {
	o.intent = IntentMount
	if err := o.Prepare(); err != nil {
		return err
	}
	if err := o.DoMount(); err != nil {
		return err
	}
	return o.Finalize()
}

// Unmount runs the mirrored state machine for an unmount.
func (o *Orchestrator) Unmount() error {
	o.intent = IntentUnmount
	if o.target != "" && o.mountInfo != nil {
		if mi, ok := o.FindUmountFS(o.target); ok {
			o.matchedMountInfo = mi
			if o.source == "" {
				o.source = mi.Source()
			}
		}
	}
	if err := o.Prepare(); err != nil {
		return err
	}
	if err := o.DoMount(); err != nil {
		return err
	}
	return o.Finalize()
}

// FindUmountFS locates the last MountInfoEntry whose target matches target
// (spec §4.10). It matches by mount point only; target is not tried as a
// source path or a tag.
func (o *Orchestrator) FindUmountFS(target string) (*entry.MountInfoEntry, bool) {
	if o.mountInfo == nil {
		return nil, false
	}
	e, ok := o.mountInfo.FindBackByTarget(target)
	if !ok {
		return nil, false
	}
	mi, ok := e.(*entry.MountInfoEntry)
	return mi, ok
}

func isRoot() bool { return os.Geteuid() == 0 }
