package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/mail"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/validator"
)

// ForgetPasswordInput holds the parameters for POST /auth/forget-password.
type ForgetPasswordInput struct {
	Email     string `json:"email" validate:"required,email,max=150"`
	ProjectID int64  `json:"projectId" validate:"omitempty,gt=0"`
	ClientURL string `json:"clientUrl" validate:"required,url,max=300"`

	IP string `json:"-"`
}

// ResetPasswordInput holds the parameters for PUT /auth/reset-password.
type ResetPasswordInput struct {
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,max=72"`

	IP string `json:"-"`
}

// ForgetPassword emails a single-use reset link bound to the requester IP.
func (s *AuthService) ForgetPassword(ctx context.Context, in ForgetPasswordInput) error {
	if err := validator.Validate(in); err != nil {
		return apperrors.Validation(validator.Messages(err)...)
	}

	projectID := in.ProjectID
	if projectID == 0 {
		projectID = s.policy.DefaultProjectID
	}
	if _, err := s.requireProject(ctx, projectID); err != nil {
		return err
	}

	a, err := s.findAccount(ctx, in.Email, projectID)
	if err != nil {
		return err
	}
	if a == nil || !a.Enabled {
		return apperrors.NotFound("User")
	}

	t, err := s.tokens.Issue(ctx, &a.ID, s.policy.ForgetPasswordTTL, in.IP, domain.ForgetPasswordPayload{})
	if err != nil {
		return err
	}

	link, err := withQuery(in.ClientURL, "code", t.Code)
	if err != nil {
		return apperrors.Validation("ClientUrl must be a valid URL.")
	}
	s.mailer.Dispatch(ctx, mail.ForgetPasswordMessage(a.Email, link, t.ExpiresAt))

	s.logger.InfoContext(ctx, "password reset requested",
		slog.Int64("account_id", a.ID),
	)
	return nil
}

// ResetPassword sets a new password using a forget-password code or the
// code handed out by an OTP login that cleared the password.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	msgs := validator.Messages(validator.Validate(in))
	if in.NewPassword != "" {
		msgs = append(msgs, passwordRules(in.NewPassword)...)
	}
	if len(msgs) > 0 {
		return apperrors.Validation(msgs...)
	}

	t, err := s.tokens.VerifyAny(ctx, in.Code, in.IP, domain.KindForgetPassword, domain.KindResetPasswordFromUserInfo)
	if err != nil {
		return err
	}
	if t == nil {
		return apperrors.Unauthorized()
	}

	a, err := s.accountByID(ctx, t.Owner())
	if err != nil {
		return err
	}
	if a == nil || !a.Enabled {
		return apperrors.Unauthorized()
	}

	digest, err := s.hashPassword(in.NewPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, a.ID, &digest, true); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	a.PasswordHash = &digest
	a.EmailConfirmed = true

	s.emit(ctx, "account.password_reset", func(ctx context.Context) error {
		return s.events.PublishAccountPasswordReset(ctx, a, false)
	})

	s.logger.InfoContext(ctx, "password reset completed",
		slog.Int64("account_id", a.ID),
		slog.String("kind", string(t.Kind)),
	)
	return nil
}

// withQuery returns rawURL with key=value added to its query string.
func withQuery(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
