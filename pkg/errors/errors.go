package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinels every AppError unwraps to.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrValidation     = errors.New("validation failed")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternal       = errors.New("internal error")
	ErrServiceUnavail = errors.New("service unavailable")
)

// Messages shared with clients. Unauthorized is intentionally uniform so the
// response never reveals which check failed.
const (
	MsgUnauthorized = "Unauthorized. Authentication is required and has failed or has not yet been provided."
	MsgValidation   = "Unprocessable entity, the provided data is not valid."
	MsgInternal     = "Try again later."
	MsgUnavailable  = "Service unavailable, try again later."
)

// AppError represents a structured application error with HTTP status mapping.
// Details carries itemized messages for validation failures.
type AppError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
	Status  int      `json:"-"`
	Err     error    `json:"-"`
}

func (e *AppError) Error() string {
	msg := e.Message
	if len(e.Details) > 0 {
		msg += " [" + strings.Join(e.Details, "; ") + "]"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error for the named resource.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found.", resource),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 422 error for a uniqueness violation.
func AlreadyExists(resource string) *AppError {
	msg := fmt.Sprintf("%s already exists.", resource)
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: msg,
		Details: []string{msg},
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrAlreadyExists,
	}
}

// Validation creates a 422 error carrying every collected field message.
func Validation(details ...string) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: MsgValidation,
		Details: details,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrValidation,
	}
}

// Unauthorized creates a 401 error with the uniform message.
func Unauthorized() *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: MsgUnauthorized,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// CannotGet creates a 500 error for data that must exist but could not be loaded.
func CannotGet(resource string) *AppError {
	return &AppError{
		Code:    "CANNOT_GET",
		Message: fmt.Sprintf("Cannot get %s.", resource),
		Status:  http.StatusInternalServerError,
		Err:     ErrInternal,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: MsgInternal,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Unavailable creates a 503 error for a failing upstream dependency.
func Unavailable(err error) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: MsgUnavailable,
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrServiceUnavail, err),
	}
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
