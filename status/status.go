// Package status defines the error kinds returned by the lowering engine.
//
// Every fallible operation returns a plain error; callers that need to tell
// feasibility gaps from real defects use KindOf or Is:
//
//   - InvalidArgument: malformed or out-of-contract input (bad rank, dtype, mismatched shapes).
//   - Unimplemented: well-formed input that is intentionally not supported (yet).
//   - NotFound: dangling reference.
//   - AlreadyExists: duplicate publication.
//   - OutOfRange: axis or rank outside representable bounds.
//   - Internal: post-condition violation, an engine defect.
//
// Context can be added with github.com/pkg/errors (WithMessagef, Wrapf): the kind survives wrapping.
package status

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error.
type Kind int

const (
	// Unknown is returned by KindOf for errors not created by this package.
	Unknown Kind = iota
	InvalidArgument
	Unimplemented
	NotFound
	AlreadyExists
	OutOfRange
	Internal
)

var kindNames = map[Kind]string{
	Unknown:         "Unknown",
	InvalidArgument: "InvalidArgument",
	Unimplemented:   "Unimplemented",
	NotFound:        "NotFound",
	AlreadyExists:   "AlreadyExists",
	OutOfRange:      "OutOfRange",
	Internal:        "Internal",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, found := kindNames[k]; found {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is an error tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Msg
}

// Errorf creates a new error of the given kind, with a stack trace attached.
func Errorf(kind Kind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// InvalidArgumentf creates an InvalidArgument error.
func InvalidArgumentf(format string, args ...any) error {
	return Errorf(InvalidArgument, format, args...)
}

// Unimplementedf creates an Unimplemented error.
func Unimplementedf(format string, args ...any) error {
	return Errorf(Unimplemented, format, args...)
}

// NotFoundf creates a NotFound error.
func NotFoundf(format string, args ...any) error {
	return Errorf(NotFound, format, args...)
}

// AlreadyExistsf creates an AlreadyExists error.
func AlreadyExistsf(format string, args ...any) error {
	return Errorf(AlreadyExists, format, args...)
}

// OutOfRangef creates an OutOfRange error.
func OutOfRangef(format string, args ...any) error {
	return Errorf(OutOfRange, format, args...)
}

// Internalf creates an Internal error.
func Internalf(format string, args ...any) error {
	return Errorf(Internal, format, args...)
}

// KindOf returns the Kind of err, looking through any wrapping.
// It returns Unknown for nil or for errors not created by this package.
func KindOf(err error) Kind {
	var statusErr *Error
	if errors.As(err, &statusErr) {
		return statusErr.Kind
	}
	return Unknown
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// WithKind tags err with kind, keeping its message. It returns nil if err is nil.
// It is used when a lower level failure must be reported with a different kind (e.g.: a broadcast
// failure of a binary op is always reported as InvalidArgument).
func WithKind(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	var statusErr *Error
	if errors.As(err, &statusErr) {
		msg = msg + ": " + statusErr.Msg
	} else {
		msg = msg + ": " + err.Error()
	}
	return Errorf(kind, "%s", msg)
}
