package model

import (
	"errors"
	"fmt"
)

// Code is a stable identifier for a failure mode of the model.
type Code string

const (
	// NotPresent means the handle has no corresponding live element.
	NotPresent Code = "NOT_PRESENT"
	// ReadOnly means the element's kind forbids the attempted mutation.
	ReadOnly Code = "READ_ONLY"
	// IOFailure means reading or writing backing storage failed.
	IOFailure Code = "IO_FAILURE"
	// InconsistentState means a build was requested for an element that is
	// already being built. It indicates a defect, not a user error.
	InconsistentState Code = "INCONSISTENT_STATE"
)

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrNotPresent        = &Error{Code: NotPresent}
	ErrReadOnly          = &Error{Code: ReadOnly}
	ErrIOFailure         = &Error{Code: IOFailure}
	ErrInconsistentState = &Error{Code: InconsistentState}
)

// Error is a model failure tied to a handle.
type Error struct {
	Code   Code
	Handle Handle
	Op     string
	Err    error
}

// NewError builds an *Error. cause may be nil.
func NewError(code Code, op string, h Handle, cause error) *Error {
	return &Error{Code: code, Op: op, Handle: h, Err: cause}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s]", e.Code)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if !e.Handle.IsZero() {
		msg += " " + e.Handle.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsNotPresent reports whether err carries the NotPresent code.
func IsNotPresent(err error) bool {
	return errors.Is(err, ErrNotPresent)
}
