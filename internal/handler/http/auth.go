package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/identity/internal/service"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/httputil"
	"github.com/utafrali/identity/pkg/middleware"
)

// AuthHandler handles the /auth endpoints.
type AuthHandler struct {
	service AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if !decode(w, r, &in, h.logger) {
		return
	}

	if _, err := h.service.Register(r.Context(), in); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusCreated, nil)
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if !decode(w, r, &in, h.logger) {
		return
	}
	in.IP = middleware.ClientIP(r)

	res, err := h.service.Login(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, res)
}

// IssueOTP handles POST /auth/otp
func (h *AuthHandler) IssueOTP(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(r)
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized(), h.logger)
		return
	}

	var in service.OTPInput
	if !decode(w, r, &in, h.logger) {
		return
	}
	in.IP = middleware.ClientIP(r)

	res, err := h.service.IssueOTP(r.Context(), caller, in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, res)
}

// ForgetPassword handles POST /auth/forget-password
func (h *AuthHandler) ForgetPassword(w http.ResponseWriter, r *http.Request) {
	var in service.ForgetPasswordInput
	if !decode(w, r, &in, h.logger) {
		return
	}
	in.IP = middleware.ClientIP(r)

	if err := h.service.ForgetPassword(r.Context(), in); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, nil)
}

// ResetPassword handles PUT /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in service.ResetPasswordInput
	if !decode(w, r, &in, h.logger) {
		return
	}
	in.IP = middleware.ClientIP(r)

	if err := h.service.ResetPassword(r.Context(), in); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, nil)
}

// StartExternalLogin handles GET /auth/login/external/google
func (h *AuthHandler) StartExternalLogin(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(r)
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized(), h.logger)
		return
	}

	res, err := h.service.StartExternalLogin(r.Context(), caller, middleware.ClientIP(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, res)
}

// ExternalRedirect handles GET /auth/login/external/redirect
func (h *AuthHandler) ExternalRedirect(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("codeForRedirect")

	target, err := h.service.ResolveExternalRedirect(r.Context(), code, middleware.ClientIP(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// ExternalCallback handles GET /auth/login/external/google/callback
func (h *AuthHandler) ExternalCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		h.logger.WarnContext(r.Context(), "external login denied by provider",
			slog.String("reason", reason),
		)
		httputil.WriteError(w, r, apperrors.Unauthorized(), h.logger)
		return
	}

	target, err := h.service.CompleteExternalLogin(r.Context(), service.ExternalCallbackInput{
		Code:  q.Get("code"),
		State: q.Get("state"),
		IP:    middleware.ClientIP(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
