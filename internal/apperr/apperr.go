// Package apperr provides a small typed error taxonomy for corpuscore.
// Errors carry a model.FailureReason so handlers can attach it to debug/audit
// output without re-deriving it from error strings.
package apperr

import (
	"errors"
	"fmt"

	"github.com/lexcite/corpuscore/internal/model"
)

// Error wraps an underlying cause with a classified failure reason.
type Error struct {
	Reason model.FailureReason
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error.
func New(op string, reason model.FailureReason, err error) *Error {
	return &Error{Op: op, Reason: reason, Err: err}
}

// ReasonOf extracts the FailureReason from err, defaulting to
// model.FailureOther when err does not carry one.
func ReasonOf(err error) model.FailureReason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return model.FailureOther
}
