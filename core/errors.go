package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// PolicyError reports a request rejected by a business rule (already marked, absence limit...).
// It is surfaced to the caller as is and never retried.
type PolicyError struct {
	msg string
}

func NewPolicyError(msg string) *PolicyError {
	return &PolicyError{msg}
}

func (err *PolicyError) Error() string {
	return err.msg
}

type NotFoundError struct {
	msg string
}

func NewNotFoundError(msg string) *NotFoundError {
	return &NotFoundError{msg}
}

func (err *NotFoundError) Error() string {
	return err.msg
}

// ConflictError reports a lost optimistic concurrency race on a stored document.
type ConflictError struct {
	msg string
}

func NewConflictError(msg string) *ConflictError {
	return &ConflictError{msg}
}

func (err *ConflictError) Error() string {
	return err.msg
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
