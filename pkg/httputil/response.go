package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/logger"
	"github.com/utafrali/identity/pkg/validator"
)

// Envelope is the JSON body of every API response.
type Envelope struct {
	Message string   `json:"message"`
	Ticket  string   `json:"ticket"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
	Data    any      `json:"data"`
}

var statusMessages = map[int]string{
	http.StatusOK:                    "Request was successful.",
	http.StatusCreated:               "Resource created successfully.",
	http.StatusBadRequest:            "Bad request.",
	http.StatusUnauthorized:          apperrors.MsgUnauthorized,
	http.StatusNotFound:              "The requested resource could not be found.",
	http.StatusRequestEntityTooLarge: "Request body too large.",
	http.StatusUnprocessableEntity:   apperrors.MsgValidation,
	http.StatusTooManyRequests:       "Too many requests, slow down.",
	http.StatusInternalServerError:   apperrors.MsgInternal,
	http.StatusServiceUnavailable:    apperrors.MsgUnavailable,
}

// StatusMessage returns the default envelope message for an HTTP status.
func StatusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return http.StatusText(status)
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess writes a success envelope carrying data.
func WriteSuccess(w http.ResponseWriter, r *http.Request, status int, data any) {
	WriteJSON(w, status, Envelope{
		Message: StatusMessage(status),
		Ticket:  logger.TicketFromContext(r.Context()),
		Success: true,
		Errors:  []string{},
		Data:    data,
	})
}

// WriteStatus writes a failure envelope for status with an optional data payload.
// It is used for outcomes that are not errors in the Go sense, such as a
// negative existence check answered with 404.
func WriteStatus(w http.ResponseWriter, r *http.Request, status int, data any) {
	WriteJSON(w, status, Envelope{
		Message: StatusMessage(status),
		Ticket:  logger.TicketFromContext(r.Context()),
		Success: status < 400,
		Errors:  []string{},
		Data:    data,
	})
}

// WriteError maps err onto the envelope. Server faults are logged with the
// request ticket and never expose their cause to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}
	ticket := logger.TicketFromContext(r.Context())

	env := Envelope{Ticket: ticket, Errors: []string{}}
	status := http.StatusInternalServerError

	var (
		appErr   *apperrors.AppError
		valErr   *validator.ValidationError
		maxBytes *http.MaxBytesError
	)
	switch {
	case errors.As(err, &valErr):
		status = http.StatusUnprocessableEntity
		env.Message = apperrors.MsgValidation
		env.Errors = valErr.Messages()
	case errors.As(err, &maxBytes):
		status = http.StatusRequestEntityTooLarge
		env.Message = StatusMessage(status)
	case errors.As(err, &appErr):
		status = appErr.Status
		env.Message = appErr.Message
		if len(appErr.Details) > 0 {
			env.Errors = appErr.Details
		}
	default:
		status = apperrors.HTTPStatus(err)
		env.Message = StatusMessage(status)
	}

	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("ticket", ticket),
		)
		if appErr == nil {
			env.Message = StatusMessage(status)
		}
	}

	WriteJSON(w, status, env)
}
