// Package monitor implements the Table Monitor of spec §4.9: a single
// pollable descriptor multiplexing the kernel's mount-table change
// notification (poll(2) on /proc/self/mountinfo, readable with POLLERR|
// POLLPRI whenever the mount tree changes — see proc(5)) with an inotify
// watch on one userspace file (normally /run/mount/utab).
package monitor

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/platinasystems/gomount/internal/config"
	"github.com/platinasystems/gomount/internal/debug"
	"github.com/platinasystems/gomount/internal/errdefs"
)

// Kind distinguishes which watched source produced a change.
type Kind int

const (
	KindKernel Kind = iota
	KindUserSpace
)

// Change is one drained notification.
type Change struct {
	Filename string
	Kind     Kind
}

// WaitResult is the outcome of Wait.
type WaitResult int

const (
	ChangeDetected WaitResult = iota
	TimeOut
)

// Monitor aggregates the kernel and userspace watchers behind one epoll fd.
type Monitor struct {
	epollFd int

	kernelFd   int
	kernelPath string

	inotifyFd  int
	userWatch  int
	userPath   string
	userPathSet bool

	pending []Change
}

// New creates a Monitor with no active watches and its backing epoll
// instance.
func New() (*Monitor, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindIO, err, "creating epoll instance")
	}
	return &Monitor{epollFd: epollFd, kernelFd: -1, inotifyFd: -1, userWatch: -1}, nil
}

// WatchKernel opens /proc/self/mountinfo and registers it
// for POLLPRI|POLLERR readiness, the kernel's mount-change notification.
func (m *Monitor) WatchKernel() error {
	if m.kernelFd >= 0 {
		return nil
	}
	path := config.MountInfoPath()
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return errdefs.Wrap(errdefs.KindIO, err, "opening "+path)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLPRI | unix.EPOLLERR, Fd: int32(fd)}
	if err := unix.EpollCtl(m.epollFd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		return errdefs.Wrap(errdefs.KindIO, err, "registering kernel watch")
	}
	m.kernelFd = fd
	m.kernelPath = path
	return nil
}

// UnwatchKernel deregisters and closes the kernel watch, if active.
func (m *Monitor) UnwatchKernel() error {
	if m.kernelFd < 0 {
		return nil
	}
	unix.EpollCtl(m.epollFd, unix.EPOLL_CTL_DEL, m.kernelFd, nil)
	err := unix.Close(m.kernelFd)
	m.kernelFd = -1
	return err
}

// WatchUserSpace watches file (or the default utab path when file is
// empty) for modifications. Once set, the watched path cannot change for
// the life of the Monitor (spec §4.9 guarantee); calling WatchUserSpace a
// second time with a different path is an error.
func (m *Monitor) WatchUserSpace(file string) error {
	if file == "" {
		file = config.UTabPath()
	}
	if m.userPathSet && file != m.userPath {
		return errdefs.New(errdefs.KindConfig, "monitor: userspace watch path is fixed after first use")
	}

	if m.inotifyFd < 0 {
		fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
		if err != nil {
			return errdefs.Wrap(errdefs.KindIO, err, "creating inotify instance")
		}
		m.inotifyFd = fd
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(m.epollFd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			unix.Close(fd)
			m.inotifyFd = -1
			return errdefs.Wrap(errdefs.KindIO, err, "registering userspace watch")
		}
	}

	wd, err := unix.InotifyAddWatch(m.inotifyFd, file,
		unix.IN_MODIFY|unix.IN_MOVE_SELF|unix.IN_CLOSE_WRITE|unix.IN_ATTRIB)
	if err != nil {
		// a not-yet-existing utab is not fatal: watch its directory instead
		// and rely on IN_CREATE to pick it up once written.
		if os.IsNotExist(err) {
			dir := dirOf(file)
			wd, err = unix.InotifyAddWatch(m.inotifyFd, dir, unix.IN_CREATE|unix.IN_MOVED_TO)
		}
		if err != nil {
			return errdefs.Wrap(errdefs.KindIO, err, "watching "+file)
		}
	}
	m.userWatch = wd
	m.userPath = file
	m.userPathSet = true
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return "."
}

// UnwatchUserSpace deregisters the inotify watch without forgetting the
// fixed path, so a later WatchUserSpace("") or WatchUserSpace(samePath)
// still succeeds.
func (m *Monitor) UnwatchUserSpace() error {
	if m.inotifyFd < 0 || m.userWatch < 0 {
		return nil
	}
	_, err := unix.InotifyRmWatch(m.inotifyFd, uint32(m.userWatch))
	m.userWatch = -1
	return err
}

// GetFD returns the single pollable descriptor that becomes readable when
// any watched source has events.
func (m *Monitor) GetFD() int { return m.epollFd }

// Wait blocks until an event arrives or timeoutMs elapses (0 polls).
func (m *Monitor) Wait(timeoutMs int) (WaitResult, error) {
	var events [8]unix.EpollEvent
	n, err := unix.EpollWait(m.epollFd, events[:], timeoutMs)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok && errno == unix.EINTR {
			return TimeOut, nil
		}
		return TimeOut, errdefs.Wrap(errdefs.KindIO, err, "epoll_wait")
	}
	if n == 0 {
		return TimeOut, nil
	}
	for _, ev := range events[:n] {
		switch int(ev.Fd) {
		case m.kernelFd:
			m.pending = append(m.pending, Change{Filename: m.kernelPath, Kind: KindKernel})
		case m.inotifyFd:
			m.drainInotify()
		}
	}
	return ChangeDetected, nil
}

func (m *Monitor) drainInotify() {
	var buf [4096]byte
	n, err := unix.Read(m.inotifyFd, buf[:])
	if err != nil || n <= 0 {
		return
	}
	// all events of one read are coalesced into a single userspace change
	offset := 0
	events := 0
	for offset+unix.SizeofInotifyEvent <= n {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		nameLen := int(raw.Len)
		offset += unix.SizeofInotifyEvent + nameLen
		events++
	}
	if events == 0 {
		debug.Logf(debug.Monitor, "drain", m.userPath, "spurious inotify wakeup")
		return
	}
	m.pending = append(m.pending, Change{Filename: m.userPath, Kind: KindUserSpace})
}

// NextChange drains one pending change; ok is false once the queue is
// empty.
func (m *Monitor) NextChange() (Change, bool) {
	if len(m.pending) == 0 {
		return Change{}, false
	}
	c := m.pending[0]
	m.pending = m.pending[1:]
	return c, true
}

// EventCleanup discards any changes still queued after NextChange, so the
// next Wait starts from an empty queue.
func (m *Monitor) EventCleanup() {
	m.pending = nil
}

// Close releases the epoll instance and any active watches.
func (m *Monitor) Close() error {
	m.UnwatchKernel()
	if m.inotifyFd >= 0 {
		unix.Close(m.inotifyFd)
		m.inotifyFd = -1
	}
	return unix.Close(m.epollFd)
}
