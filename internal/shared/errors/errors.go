// Package errors carries the typed failures returned by the services and
// their mapping to API codes and HTTP statuses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for errors.Is checks
var (
	ErrNotFound               = errors.New("resource not found")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrBusinessRule           = errors.New("business rule violation")
	ErrConflict               = errors.New("conflict")
	ErrInternal               = errors.New("internal error")
)

const codeInternal = "INTERNAL_ERROR"

type kind struct {
	code   string
	status int
}

var kinds = map[error]kind{
	ErrNotFound:               {"NOT_FOUND", http.StatusNotFound},
	ErrInvalidArgument:        {"INVALID_ARGUMENT", http.StatusBadRequest},
	ErrInsufficientStock:      {"INSUFFICIENT_STOCK", http.StatusConflict},
	ErrInvalidStateTransition: {"INVALID_STATE_TRANSITION", http.StatusConflict},
	ErrUnauthorized:           {"UNAUTHORIZED", http.StatusUnauthorized},
	ErrForbidden:              {"FORBIDDEN", http.StatusForbidden},
	ErrBusinessRule:           {"BUSINESS_RULE_VIOLATION", http.StatusUnprocessableEntity},
	ErrConflict:               {"CONFLICT", http.StatusConflict},
	ErrInternal:               {codeInternal, http.StatusInternalServerError},
}

// AppError is what services return and what the API renders
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Code == codeInternal && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Internal reports whether the error should be hidden from API clients
func (e *AppError) Internal() bool { return e.Code == codeInternal }

func newError(sentinel error, message string) *AppError {
	k := kinds[sentinel]
	return &AppError{Err: sentinel, Message: message, Code: k.code, HTTPStatus: k.status}
}

func (e *AppError) with(details map[string]string) *AppError {
	e.Details = details
	return e
}

func NotFound(resource, id string) *AppError {
	return newError(ErrNotFound, resource+" not found").
		with(map[string]string{"resource": resource, "id": id})
}

// InvalidArgument is for malformed input: non-positive quantities, wrong
// organization types, unknown enum values.
func InvalidArgument(message string) *AppError {
	return newError(ErrInvalidArgument, message)
}

// Validation is InvalidArgument with per-field details
func Validation(message string, details map[string]string) *AppError {
	return newError(ErrInvalidArgument, message).with(details)
}

// InsufficientStock is returned when a deduction exceeds the stock on hand
func InsufficientStock(bloodType string, available, requested int) *AppError {
	return newError(ErrInsufficientStock, "insufficient blood stock for "+bloodType).
		with(map[string]string{
			"blood_type": bloodType,
			"available":  fmt.Sprint(available),
			"requested":  fmt.Sprint(requested),
		})
}

// InvalidStateTransition is returned when an entity is not in the status an
// operation requires.
func InvalidStateTransition(message string) *AppError {
	return newError(ErrInvalidStateTransition, message)
}

func Unauthorized(message string) *AppError { return newError(ErrUnauthorized, message) }

func Forbidden(message string) *AppError { return newError(ErrForbidden, message) }

// BusinessRuleViolation is for well-formed requests the domain refuses:
// duplicate active request, ineligible donor, no CBB in the city.
func BusinessRuleViolation(message string) *AppError {
	return newError(ErrBusinessRule, message)
}

func Conflict(message string) *AppError { return newError(ErrConflict, message) }

// Internal hides err behind a generic message
func Internal(err error) *AppError {
	e := newError(ErrInternal, "internal server error")
	e.Err = err
	return e
}

// Wrap attaches context to an infrastructure error. Errors that are already
// typed pass through unchanged.
func Wrap(err error, message string) *AppError {
	if appErr, ok := As(err); ok {
		return appErr
	}
	e := newError(ErrInternal, message)
	e.Err = err
	return e
}

func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
