// Package verrors implements the error taxonomy of §7: a small set of
// sentinel kinds that every other package wraps its failures in, so the
// controller can do errors.As-based dispatch (abort vs. warn) without each
// package inventing its own error type.
package verrors

import "fmt"

// Kind is one of the error classes named in §7.
type Kind string

const (
	InvalidArgument Kind = "invalid-argument"
	InputError      Kind = "input-error"
	SupervisorError Kind = "supervisor-error"
	OverlayError    Kind = "overlay-error"
	InspectionError Kind = "inspection-error"
	ConversionError Kind = "conversion-error"
	CopyError       Kind = "copy-error"
	OutputError     Kind = "output-error"
	CleanupError    Kind = "cleanup-error"
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string // short description of what was being attempted
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Fatal reports whether a pipeline-facing error must abort the run. Every
// kind is fatal except CleanupError, which §7 says is logged and swallowed.
func Fatal(err error) bool {
	var ve *Error
	if as(err, &ve) {
		return ve.Kind != CleanupError
	}
	return err != nil
}

// as is a tiny local errors.As to avoid importing "errors" twice with two
// different aliases in call sites that also use github.com/pkg/errors.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
