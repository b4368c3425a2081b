package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/utafrali/identity/internal/domain"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/validator"
)

// SetContextInput holds the parameters for PUT /oauth/set-context.
type SetContextInput struct {
	CallbackURI string `json:"callbackUri" validate:"required,url,max=300"`
}

// CheckEmailInput holds the parameters for POST /oauth/user-check-email-exists.
type CheckEmailInput struct {
	Email     string `json:"email" validate:"required,email,max=150"`
	ProjectID int64  `json:"projectId" validate:"omitempty,gt=0"`
	Enabled   *bool  `json:"enabled"`
}

// AssignRoleInput holds the parameters for PUT /oauth/user-assign-application-role.
type AssignRoleInput struct {
	UserID    int64 `json:"userId" validate:"required,gt=0"`
	ProjectID int64 `json:"projectId" validate:"omitempty,gt=0"`
}

// UserInfo is the non-sensitive profile a user info code unlocks.
type UserInfo struct {
	ID              int64    `json:"id"`
	FirstName       string   `json:"firstName"`
	LastName        string   `json:"lastName"`
	Email           string   `json:"email"`
	Picture         string   `json:"picture,omitempty"`
	DefaultLanguage string   `json:"defaultLanguage"`
	ProjectID       int64    `json:"projectId"`
	EmailConfirmed  bool     `json:"emailConfirmed"`
	Roles           []string `json:"roles"`
}

// SetCallbackContext registers the caller's callback URL with a fresh secret,
// replacing any previous one.
func (s *AuthService) SetCallbackContext(ctx context.Context, caller domain.Principal, in SetContextInput) (*domain.CallbackContext, error) {
	if err := requireAdminGroup(caller); err != nil {
		return nil, err
	}
	if err := validator.Validate(in); err != nil {
		return nil, apperrors.Validation(validator.Messages(err)...)
	}

	c := &domain.CallbackContext{
		AccountID:    caller.AccountID,
		CallbackURL:  in.CallbackURI,
		ClientSecret: uuid.NewString(),
		Enabled:      true,
	}
	if err := s.callbacks.Replace(ctx, c); err != nil {
		return nil, fmt.Errorf("replace callback context: %w", err)
	}

	s.logger.InfoContext(ctx, "callback context set",
		slog.Int64("account_id", caller.AccountID),
	)
	return c, nil
}

// GetCallbackContext looks a context up by its client secret. Without a
// secret it returns the caller's own context in the caller's project.
func (s *AuthService) GetCallbackContext(ctx context.Context, caller domain.Principal, secretKey string) (*domain.CallbackContextView, error) {
	if err := requireAdminGroup(caller); err != nil {
		return nil, err
	}

	var (
		v   *domain.CallbackContextView
		err error
	)
	if secretKey != "" {
		v, err = s.callbacks.GetBySecret(ctx, secretKey)
	} else {
		v, err = s.callbacks.GetByAccount(ctx, caller.AccountID, caller.ProjectID)
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("Context")
		}
		return nil, fmt.Errorf("get callback context: %w", err)
	}
	return v, nil
}

// UserInfo redeems a user info code. The code stays valid until it expires.
// The account must belong to the project the caller acts on.
func (s *AuthService) UserInfo(ctx context.Context, caller domain.Principal, code, ip string) (*UserInfo, error) {
	if err := requireAdminGroup(caller); err != nil {
		return nil, err
	}

	t, err := s.tokens.Verify(ctx, code, ip, domain.KindOAuthUserInfo)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperrors.Unauthorized()
	}
	p, _ := t.Payload.(domain.UserInfoPayload)

	a, err := s.accountByID(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	if a == nil || a.ProjectID != s.targetProject(caller, a.ProjectID) {
		return nil, apperrors.Unauthorized()
	}

	roles, err := s.roles.RolesOf(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("get roles: %w", err)
	}

	return &UserInfo{
		ID:              a.ID,
		FirstName:       a.FirstName,
		LastName:        a.LastName,
		Email:           a.Email,
		Picture:         a.PictureURL,
		DefaultLanguage: a.DefaultLanguage,
		ProjectID:       a.ProjectID,
		EmailConfirmed:  a.EmailConfirmed,
		Roles:           roles,
	}, nil
}

// CheckEmailExists reports whether the email is registered in the project
// the caller acts on, optionally filtered by the enabled flag.
func (s *AuthService) CheckEmailExists(ctx context.Context, caller domain.Principal, in CheckEmailInput) (bool, error) {
	if err := requireAdminGroup(caller); err != nil {
		return false, err
	}
	if err := validator.Validate(in); err != nil {
		return false, apperrors.Validation(validator.Messages(err)...)
	}

	a, err := s.findAccount(ctx, in.Email, s.targetProject(caller, in.ProjectID))
	if err != nil {
		return false, err
	}
	if a == nil {
		return false, nil
	}
	if in.Enabled != nil && a.Enabled != *in.Enabled {
		return false, nil
	}
	return true, nil
}

// AssignApplicationRole grants APPLICATION to an account. Super users only.
func (s *AuthService) AssignApplicationRole(ctx context.Context, caller domain.Principal, in AssignRoleInput) error {
	if err := s.requireSuperUser(caller); err != nil {
		return err
	}
	if err := validator.Validate(in); err != nil {
		return apperrors.Validation(validator.Messages(err)...)
	}

	a, err := s.accountByID(ctx, in.UserID)
	if err != nil {
		return err
	}
	if a == nil || a.ProjectID != s.targetProject(caller, in.ProjectID) {
		return apperrors.NotFound("User")
	}

	if err := s.roles.Grant(ctx, a.ID, domain.RoleApplication); err != nil {
		return fmt.Errorf("grant application role: %w", err)
	}

	s.logger.InfoContext(ctx, "application role assigned",
		slog.Int64("account_id", a.ID),
		slog.Int64("granted_by", caller.AccountID),
	)
	return nil
}
