// Package boxerr defines the uniform error-kind taxonomy propagated
// across the box lifecycle engine, wrapping containerd/errdefs'
// categorized sentinel errors at the boundary for the Kinds that have a
// close errdefs analogue, so callers outside this module can match with
// errdefs.IsNotFound and friends instead of depending on boxerr.Kind.
package boxerr

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Kind categorizes why an operation failed.
type Kind int

const (
	// KindInternal marks a broken invariant: missing upstream pipeline
	// slot, poisoned lock, or similar programming error.
	KindInternal Kind = iota
	// KindNotFound marks an unknown box id or name.
	KindNotFound
	// KindInvalidArgument marks a caller error: duplicate name, bad
	// options, non-absolute home path.
	KindInvalidArgument
	// KindInvalidState marks an operation illegal for the box's current
	// status.
	KindInvalidState
	// KindStorage marks a database or filesystem I/O failure.
	KindStorage
	// KindEngine marks a VMM subprocess spawn/attach/stop failure.
	KindEngine
	// KindUnsupported marks a platform lacking a required capability.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidState:
		return "invalid_state"
	case KindStorage:
		return "storage"
	case KindEngine:
		return "engine"
	case KindUnsupported:
		return "unsupported"
	default:
		return "internal"
	}
}

// Error is the concrete error type returned from every core operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// errdefsWrap maps a Kind onto the containerd/errdefs category it mirrors
// and wraps err in the matching sentinel, so errdefs.IsNotFound(err) (and
// siblings) can see through a *boxerr.Error the same way boxerr.Is does.
// KindInternal, KindStorage, and KindEngine have no close errdefs
// analogue and are left as hand-rolled kinds.
func errdefsWrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	switch kind {
	case KindNotFound:
		return errdefs.ErrNotFound(err)
	case KindInvalidArgument:
		return errdefs.ErrInvalidArgument(err)
	case KindInvalidState:
		return errdefs.ErrFailedPrecondition(err)
	case KindUnsupported:
		return errdefs.ErrNotImplemented(err)
	default:
		return err
	}
}

func newErr(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: errdefsWrap(kind, err)}
}

func NotFound(op string, err error) *Error         { return newErr(KindNotFound, op, err) }
func InvalidArgument(op string, err error) *Error   { return newErr(KindInvalidArgument, op, err) }
func InvalidState(op string, err error) *Error      { return newErr(KindInvalidState, op, err) }
func Storage(op string, err error) *Error           { return newErr(KindStorage, op, err) }
func Engine(op string, err error) *Error            { return newErr(KindEngine, op, err) }
func Unsupported(op string, err error) *Error       { return newErr(KindUnsupported, op, err) }
func Internal(op string, err error) *Error          { return newErr(KindInternal, op, err) }

// NotFoundf builds a KindNotFound error from a format string, matching
// the fmt.Errorf ergonomics used throughout the core.
func NotFoundf(op, format string, args ...any) *Error {
	return newErr(KindNotFound, op, fmt.Errorf(format, args...))
}

func InvalidArgumentf(op, format string, args ...any) *Error {
	return newErr(KindInvalidArgument, op, fmt.Errorf(format, args...))
}

func InvalidStatef(op, format string, args ...any) *Error {
	return newErr(KindInvalidState, op, fmt.Errorf(format, args...))
}

func Storagef(op, format string, args ...any) *Error {
	return newErr(KindStorage, op, fmt.Errorf(format, args...))
}

func Enginef(op, format string, args ...any) *Error {
	return newErr(KindEngine, op, fmt.Errorf(format, args...))
}

func Unsupportedf(op, format string, args ...any) *Error {
	return newErr(KindUnsupported, op, fmt.Errorf(format, args...))
}

func Internalf(op, format string, args ...any) *Error {
	return newErr(KindInternal, op, fmt.Errorf(format, args...))
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}
