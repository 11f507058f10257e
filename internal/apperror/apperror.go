// Package apperror defines the closed set of domain errors and the normalizer
// that turns any error into the {type, messages} shape sent to clients.
//
// HOW IT FITS TOGETHER:
// Each constructor returns an *AppError that wraps one of the sentinel errors
// below. Callers check the kind with errors.Is (the sentinel) and read the
// human-readable messages with errors.As (the *AppError):
//
//	err := apperror.Duplicate("email", "email already exists")
//	errors.Is(err, apperror.ErrDuplicate) // true, even after fmt.Errorf("...: %w", err)
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrDuplicate    = errors.New("duplicate")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
)

// Type names used in the JSON error body.
const (
	TypeValidation = "validation"
	TypeDuplicate  = "duplicate"
	TypeNotFound   = "not_found"
	TypeAuth       = "auth"
	TypeConflict   = "conflict"
	TypeUnknown    = "unknown"
)

// UnknownMessage is the only message clients see for errors outside the closed set.
const UnknownMessage = "An unknown error occurred"

type AppError struct {
	Err      error    // sentinel identifying the kind
	Messages []string // human-readable messages, in the order they were found
	Field    string   // optional: the field that caused the error
}

func (e *AppError) Error() string {
	return strings.Join(e.Messages, "; ")
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation collects one or more rule violations into a single error.
func Validation(messages ...string) *AppError {
	return &AppError{Err: ErrValidation, Messages: messages}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:      ErrValidation,
		Messages: []string{message},
		Field:    field,
	}
}

// Duplicate reports a unique-constraint collision on field.
func Duplicate(field, message string) *AppError {
	return &AppError{
		Err:      ErrDuplicate,
		Messages: []string{message},
		Field:    field,
	}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:      ErrNotFound,
		Messages: []string{fmt.Sprintf("%s not found with id %s", resource, id)},
	}
}

// NotFoundMessage is NotFound with a caller-supplied message, for lookups
// that are not keyed by id (slug, email).
func NotFoundMessage(message string) *AppError {
	return &AppError{Err: ErrNotFound, Messages: []string{message}}
}

// Unauthorized means the caller could not be identified (missing or dead session).
func Unauthorized(message string) *AppError {
	return &AppError{Err: ErrUnauthorized, Messages: []string{message}}
}

// Forbidden means the caller is identified but does not own the resource.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{Err: ErrForbidden, Messages: []string{message}}
}

func Conflict(field, message string) *AppError {
	return &AppError{
		Err:      ErrConflict,
		Messages: []string{message},
		Field:    field,
	}
}
