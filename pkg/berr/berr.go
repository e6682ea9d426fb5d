// Package berr declares the error kinds buildsys surfaces to callers, so
// that errors can be tested by kind instead of by matching message text.
package berr

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind distinguishes the error taxonomy from spec §7.
type Kind int

const (
	// Configuration covers missing required environment variables,
	// malformed jobserver handshakes, mismatched fds/auth pairs, and
	// integer overflow while parsing descriptor numbers.
	Configuration Kind = iota
	// Filesystem covers create/read/remove/rename/walk/strip-prefix
	// failures and the empty-parent-of-path case during marker cleanup.
	Filesystem
	// Subprocess covers failure to spawn the container builder and
	// non-success exits not covered by the retry policy.
	Subprocess
	// Protocol covers a broker client receiving the wrong descriptor
	// count, or failure to duplicate a received descriptor.
	Protocol
	// Concurrency covers failure to set up an FdBroker's listening
	// socket (create, bind, listen) for the duration of one build.
	Concurrency
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Filesystem:
		return "filesystem"
	case Subprocess:
		return "subprocess"
	case Protocol:
		return "protocol"
	case Concurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying a Kind and a frame for diagnostics,
// modeled on the teacher's commands.ComplexError / xerrors pattern.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
	frame   xerrors.Frame
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		frame:   xerrors.Caller(1),
	}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Wrapped: cause,
		frame:   xerrors.Caller(1),
	}
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// FormatError implements xerrors.Formatter so that Error participates in
// %+v stack-trace formatting the way ComplexError does in the teacher.
func (e *Error) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())
	e.frame.Format(p)
	return nil
}

// Format implements fmt.Formatter.
func (e *Error) Format(f fmt.State, c rune) {
	xerrors.FormatError(e, f, c)
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if xerrors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}
