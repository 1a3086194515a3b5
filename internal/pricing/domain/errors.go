package pricing

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pricing and persistence failures.
type ErrorKind string

const (
	KindInvalidDimension   ErrorKind = "invalid_dimension"
	KindFrameNotFound      ErrorKind = "frame_not_found"
	KindRateTableNotFound  ErrorKind = "rate_table_not_found"
	KindUnknownMaterial    ErrorKind = "unknown_material"
	KindMissingParameter   ErrorKind = "missing_parameter"
	KindInvalidState       ErrorKind = "invalid_state"
	KindPersistenceFailure ErrorKind = "persistence_failure"
)

var (
	ErrInvalidDimension   = errors.New("pricing: invalid dimension")
	ErrFrameNotFound      = errors.New("pricing: frame not found")
	ErrRateTableNotFound  = errors.New("pricing: rate table not found")
	ErrUnknownMaterial    = errors.New("pricing: unknown material")
	ErrMissingParameter   = errors.New("pricing: missing parameter")
	ErrInvalidState       = errors.New("pricing: invalid state")
	ErrPersistenceFailure = errors.New("pricing: persistence failure")
)

var sentinels = map[ErrorKind]error{
	KindInvalidDimension:   ErrInvalidDimension,
	KindFrameNotFound:      ErrFrameNotFound,
	KindRateTableNotFound:  ErrRateTableNotFound,
	KindUnknownMaterial:    ErrUnknownMaterial,
	KindMissingParameter:   ErrMissingParameter,
	KindInvalidState:       ErrInvalidState,
	KindPersistenceFailure: ErrPersistenceFailure,
}

// Error is a classified failure. Ref names the offending id or field.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Ref     string    `json:"ref,omitempty"`
	cause   error
}

// NewError builds a classified error.
func NewError(kind ErrorKind, ref, format string, args ...any) *Error {
	return &Error{Kind: kind, Ref: ref, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a storage fault keeping its reason.
func PersistenceError(op string, cause error) *Error {
	msg := op
	if cause != nil {
		msg = op + ": " + cause.Error()
	}
	return &Error{Kind: KindPersistenceFailure, Message: msg, cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Ref != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Ref)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches the sentinel of the error kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	return sentinels[e.Kind] == target
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// KindOf returns the kind of a classified error or "" for other errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
