package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/service"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/httputil"
	"github.com/utafrali/identity/pkg/middleware"
	"github.com/utafrali/identity/pkg/validator"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// AuthService is the orchestrator surface the handlers call.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*domain.Account, error)
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	IssueOTP(ctx context.Context, caller domain.Principal, in service.OTPInput) (*service.OTPResult, error)
	ForgetPassword(ctx context.Context, in service.ForgetPasswordInput) error
	ResetPassword(ctx context.Context, in service.ResetPasswordInput) error

	StartExternalLogin(ctx context.Context, caller domain.Principal, ip string) (*service.ExternalStartResult, error)
	ResolveExternalRedirect(ctx context.Context, code, ip string) (string, error)
	CompleteExternalLogin(ctx context.Context, in service.ExternalCallbackInput) (string, error)

	SetCallbackContext(ctx context.Context, caller domain.Principal, in service.SetContextInput) (*domain.CallbackContext, error)
	GetCallbackContext(ctx context.Context, caller domain.Principal, secretKey string) (*domain.CallbackContextView, error)
	UserInfo(ctx context.Context, caller domain.Principal, code, ip string) (*service.UserInfo, error)
	CheckEmailExists(ctx context.Context, caller domain.Principal, in service.CheckEmailInput) (bool, error)
	AssignApplicationRole(ctx context.Context, caller domain.Principal, in service.AssignRoleInput) error
}

// decode reads the JSON body into dst. On failure it writes the response and
// returns false.
func decode(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := validator.DecodeJSON(r, dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			httputil.WriteError(w, r, err, logger)
			return false
		}
		httputil.WriteError(w, r, apperrors.Validation("Request body must be valid JSON."), logger)
		return false
	}
	return true
}

// principal returns the authenticated caller stored by middleware.Auth.
func principal(r *http.Request) (domain.Principal, bool) {
	c := middleware.ClaimsFromContext(r.Context())
	if c == nil {
		return domain.Principal{}, false
	}
	return domain.Principal{
		AccountID: c.AccountID,
		Email:     c.Email,
		Name:      c.Name,
		ProjectID: c.ProjectID,
		Roles:     c.Roles,
	}, true
}
