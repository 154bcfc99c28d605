package model

import (
	"errors"
	"fmt"
)

// ErrNotFound matches any NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// ErrConflict reports that a concurrent write won the race for the same
// rotation slot. The write left no partial state behind.
var ErrConflict = errors.New("rotation slot conflict")

// ValidationError reports malformed input to an operation. It is terminal
// and never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing referenced record.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match typed not-found errors.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InfrastructureError wraps a repository or storage failure. The operation
// that produced it left no partial mutation behind.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Infra wraps err as an InfrastructureError unless it already carries a
// domain discriminant.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		nf *NotFoundError
		ve *ValidationError
	)
	if errors.As(err, &nf) || errors.As(err, &ve) || errors.Is(err, ErrConflict) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}
