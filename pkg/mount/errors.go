package mount

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors used to tag failures of mount operations.
// Callers inspect the tag with KindOf rather than matching messages.
var (
	// ErrTransport means a call to the mount collaborator failed
	ErrTransport = errors.New("mount transport failure")

	// ErrLimitViolation means a goto target lies outside the travel limits
	ErrLimitViolation = errors.New("target outside travel limits")

	// ErrPrecondition means the operation is not allowed in the current state
	ErrPrecondition = errors.New("precondition not met")

	// ErrUndefinedGeometry means a two-star polar estimate is degenerate
	ErrUndefinedGeometry = errors.New("undefined alignment geometry")

	errInvalidTotal = errors.New("encoder total must be positive")
)

// Kind is the result tag of a mount operation.
type Kind int

const (
	KindOK Kind = iota
	KindTransport
	KindLimitViolation
	KindPrecondition
	KindUndefinedGeometry
	KindUnknown
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindTransport:
		return "transport"
	case KindLimitViolation:
		return "limit_violation"
	case KindPrecondition:
		return "precondition"
	case KindUndefinedGeometry:
		return "undefined_geometry"
	default:
		return "unknown"
	}
}

// KindOf returns the result tag for err. A nil error is KindOK.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrLimitViolation):
		return KindLimitViolation
	case errors.Is(err, ErrPrecondition):
		return KindPrecondition
	case errors.Is(err, ErrUndefinedGeometry):
		return KindUndefinedGeometry
	default:
		return KindUnknown
	}
}

// TransportError records which collaborator call failed.
type TransportError struct {
	Op   string
	Axis Axis
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mount %s(%s): %v", e.Op, e.Axis, e.Err)
}

// Unwrap returns the underlying failure.
func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Precondition returns an ErrPrecondition tagged error with the given reason.
func Precondition(format string, args ...interface{}) error {
	return errors.Wrapf(ErrPrecondition, format, args...)
}

// LimitViolation returns an ErrLimitViolation tagged error with the given reason.
func LimitViolation(format string, args ...interface{}) error {
	return errors.Wrapf(ErrLimitViolation, format, args...)
}

func transport(op string, axis Axis, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Axis: axis, Err: err}
}
