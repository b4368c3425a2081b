package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/identity/internal/service"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/httputil"
	"github.com/utafrali/identity/pkg/middleware"
)

// OAuthHandler handles the /oauth endpoints used by relying applications.
type OAuthHandler struct {
	service AuthService
	logger  *slog.Logger
}

// NewOAuthHandler creates a new oauth HTTP handler.
func NewOAuthHandler(svc AuthService, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{service: svc, logger: logger}
}

type emailExistsResponse struct {
	UserExists bool `json:"userExists"`
}

// SetContext handles PUT /oauth/set-context
func (h *OAuthHandler) SetContext(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(r)
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized(), h.logger)
		return
	}

	var in service.SetContextInput
	if !decode(w, r, &in, h.logger) {
		return
	}

	c, err := h.service.SetCallbackContext(r.Context(), caller, in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusCreated, c)
}

// GetContext handles GET /oauth/get-context
func (h *OAuthHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(r)
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized(), h.logger)
		return
	}

	v, err := h.service.GetCallbackContext(r.Context(), caller, r.URL.Query().Get("secretKey"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, v)
}

// UserInfo handles GET /oauth/user-info
func (h *OAuthHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(r)
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized(), h.logger)
		return
	}

	info, err := h.service.UserInfo(r.Context(), caller, r.URL.Query().Get("code"), middleware.ClientIP(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, info)
}

// CheckEmailExists handles POST /oauth/user-check-email-exists
func (h *OAuthHandler) CheckEmailExists(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(r)
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized(), h.logger)
		return
	}

	var in service.CheckEmailInput
	if !decode(w, r, &in, h.logger) {
		return
	}

	exists, err := h.service.CheckEmailExists(r.Context(), caller, in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if !exists {
		httputil.WriteStatus(w, r, http.StatusNotFound, emailExistsResponse{UserExists: false})
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, emailExistsResponse{UserExists: true})
}

// AssignApplicationRole handles PUT /oauth/user-assign-application-role
func (h *OAuthHandler) AssignApplicationRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(r)
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized(), h.logger)
		return
	}

	var in service.AssignRoleInput
	if !decode(w, r, &in, h.logger) {
		return
	}

	if err := h.service.AssignApplicationRole(r.Context(), caller, in); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, nil)
}
