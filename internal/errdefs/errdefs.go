// Package errdefs implements the error taxonomy from spec §7. Every error
// surfaced by gomount carries one Kind so callers can switch on failure
// class without string matching.
package errdefs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a gomount error per spec §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindIO
	KindPermission
	KindAlreadyMounted
	KindSyscall
	KindHelper
	KindLock
	KindNamespace
	KindConfig
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "Parse"
	case KindIO:
		return "Io"
	case KindPermission:
		return "Permission"
	case KindAlreadyMounted:
		return "AlreadyMounted"
	case KindSyscall:
		return "Syscall"
	case KindHelper:
		return "Helper"
	case KindLock:
		return "Lock"
	case KindNamespace:
		return "Namespace"
	case KindConfig:
		return "Config"
	case KindNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type gomount returns. Code carries a
// Syscall/Helper-specific numeric code when relevant (errno or helper exit
// status); it is zero otherwise.
type Error struct {
	Kind Kind
	Code int
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a Kind-tagged error with a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap attaches a Kind and message to an underlying error, preserving it for
// errors.Is/As and %w-style unwrapping.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: msg, err: errors.WithStack(err)}
}

// Wrapf is Wrap with formatted messages.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	return Wrap(kind, err, fmt.Sprintf(format, args...))
}

// Syscall builds a KindSyscall error carrying the kernel errno.
func Syscall(errno int, err error) error {
	e := Wrap(KindSyscall, err, "mount syscall failed")
	if ge, ok := e.(*Error); ok {
		ge.Code = errno
	}
	return e
}

// Helper builds a KindHelper error carrying the mount helper's exit code.
func Helper(code int, err error) error {
	e := Wrap(KindHelper, err, "mount helper failed")
	if ge, ok := e.(*Error); ok {
		ge.Code = code
	}
	return e
}

// KindOf extracts the Kind from err, or KindUnknown if err does not carry
// one.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// CodeOf extracts the numeric code (errno or helper exit status) from err.
func CodeOf(err error) int {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return 0
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
