// Package errs implements the error taxonomy from the container's error
// handling design: a small set of kinds, not a type per failure, attached
// to otherwise ordinary wrapped errors so callers can classify a failure
// with errors.As while the message text a caller/test sees is whatever the
// operation itself produced.
package errs

import "fmt"

// Kind classifies a failure the way the container's contract distinguishes
// them: where it surfaces and whether it is recoverable.
type Kind int

const (
	// Usage covers disposed-container, max-process, unknown-message-type,
	// not-found and similar caller-visible errors.
	Usage Kind = iota
	// Timeout marks a pending request that exceeded its budget.
	Timeout
	// Execution covers failures thrown by an executor or in-sandbox handler.
	Execution
	// Transport covers worker channel failures not tied to one pending request.
	Transport
	// Fatal marks container initialization failure; the container is
	// permanently disposed afterward.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Usage:
		return "usage"
	case Timeout:
		return "timeout"
	case Execution:
		return "execution"
	case Transport:
		return "transport"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so it can be classified
// without string matching, while Error() returns the plain message text.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error from a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds a Kind-tagged error from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, keeping its message as-is.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: err.Error(), Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

// Disposed is the sentinel-text error every public container call returns
// once the container has been torn down, per the container's contract.
var Disposed = New(Usage, "disposed")
