// Package apperr classifies failures so callers can decide whether to
// report, swallow, retry or abort without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// Input is a malformed argument or a reference to a missing entity made by a user.
	Input
	// PermissionDenied is the chat platform refusing an action.
	PermissionDenied
	// NotFound is a platform target or a store row that does not exist.
	NotFound
	// ConfigurationViolation is a settings change rejected by the store.
	ConfigurationViolation
	// TransientInfra is a timeout or connection failure worth retrying.
	TransientInfra
	// Fatal is an unexpected failure inside an event handler.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case PermissionDenied:
		return "permission_denied"
	case NotFound:
		return "not_found"
	case ConfigurationViolation:
		return "configuration_violation"
	case TransientInfra:
		return "transient_infra"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Op != "" && e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare sentinels below by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrInput                  = &Error{Kind: Input}
	ErrPermissionDenied       = &Error{Kind: PermissionDenied}
	ErrNotFound               = &Error{Kind: NotFound}
	ErrConfigurationViolation = &Error{Kind: ConfigurationViolation}
	ErrTransient              = &Error{Kind: TransientInfra}
	ErrFatal                  = &Error{Kind: Fatal}
)

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool  { return errors.Is(err, ErrNotFound) }
func IsForbidden(err error) bool { return errors.Is(err, ErrPermissionDenied) }
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
