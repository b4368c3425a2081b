package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/mail"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/validator"
)

// OTPInput holds the parameters for POST /auth/otp.
type OTPInput struct {
	Email             string `json:"email" validate:"required,email,max=150"`
	ProjectID         int64  `json:"projectId" validate:"omitempty,gt=0"`
	ResetUserPassword bool   `json:"resetUserPassword"`

	IP string `json:"-"`
}

// OTPResult is the continuation code for the login. The digits themselves
// only travel by email.
type OTPResult struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueOTP emails a four digit code to the target account and returns the
// opaque code the caller exchanges, together with the digits, at /auth/login.
func (s *AuthService) IssueOTP(ctx context.Context, caller domain.Principal, in OTPInput) (*OTPResult, error) {
	if err := requireAdminGroup(caller); err != nil {
		return nil, err
	}
	if err := validator.Validate(in); err != nil {
		return nil, apperrors.Validation(validator.Messages(err)...)
	}

	projectID := s.targetProject(caller, in.ProjectID)
	if _, err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}

	a, err := s.findAccount(ctx, in.Email, projectID)
	if err != nil {
		return nil, err
	}
	if a == nil || !a.Enabled {
		return nil, apperrors.NotFound("User")
	}

	digits, err := verificationCode()
	if err != nil {
		return nil, err
	}
	t, err := s.tokens.Issue(ctx, &a.ID, s.policy.OTPTTL, in.IP, domain.OTPPayload{
		VerificationCode:       digits,
		ResetPasswordOnSuccess: in.ResetUserPassword,
	})
	if err != nil {
		return nil, err
	}

	s.mailer.Dispatch(ctx, mail.OTPMessage(a.Email, digits, t.ExpiresAt))

	s.logger.InfoContext(ctx, "otp issued",
		slog.Int64("account_id", a.ID),
		slog.Int64("issuer_id", caller.AccountID),
		slog.Bool("reset_password", in.ResetUserPassword),
	)
	return &OTPResult{Code: t.Code, ExpiresAt: t.ExpiresAt}, nil
}

// verificationCode returns four random decimal digits.
func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}
