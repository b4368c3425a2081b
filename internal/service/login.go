package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/identity/internal/domain"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

// Login methods, used as metric labels.
const (
	methodPassword = "password"
	methodOTP      = "otp"
	methodRefresh  = "refresh"
	methodExternal = "external"
)

// LoginInput holds the parameters for POST /auth/login. Either the password
// triple or a continuation code is expected, never both.
type LoginInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	ProjectID int64  `json:"projectId"`

	ContinueWithCode string `json:"continueWithCode"`
	CodePassword     string `json:"codePassword"`

	IP string `json:"-"`
}

// LoginResult is the session handed out by a successful login.
type LoginResult struct {
	AccessToken           string    `json:"accessToken"`
	AccessExpiredAt       time.Time `json:"accessExpiredAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshExpiredAt      time.Time `json:"refreshExpiredAt"`
	UserInfoCode          string    `json:"userInfoCode"`
	UserInfoCodeExpiredAt time.Time `json:"userInfoCodeExpiredAt"`

	// Set when an OTP login cleared the password.
	ResetPasswordCode          string     `json:"resetPasswordCode,omitempty"`
	ResetPasswordCodeExpiredAt *time.Time `json:"resetPasswordCodeExpiredAt,omitempty"`
}

// Login authenticates with a password or redeems a continuation code.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if in.ContinueWithCode != "" {
		return s.continueLogin(ctx, in)
	}
	return s.passwordLogin(ctx, in)
}

func (s *AuthService) continueLogin(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if in.Email != "" || in.Password != "" || in.ProjectID != 0 {
		return nil, apperrors.Validation("Send only the code to continue the login.")
	}

	t, err := s.tokens.VerifyContinuation(ctx, in.ContinueWithCode, in.IP, in.CodePassword)
	if err != nil {
		return nil, err
	}
	if t == nil {
		loginsTotal.WithLabelValues(methodOTP, "rejected").Inc()
		return nil, apperrors.Unauthorized()
	}

	method := methodRefresh
	if t.Kind == domain.KindOTP {
		method = methodOTP
	}

	a, err := s.accountByID(ctx, t.Owner())
	if err != nil {
		return nil, err
	}
	if a == nil || !a.Enabled {
		loginsTotal.WithLabelValues(method, "rejected").Inc()
		return nil, apperrors.Unauthorized()
	}
	// A lockout clears the confirmation, which must also end refresh sessions.
	if t.Kind == domain.KindRefresh && !a.EmailConfirmed {
		loginsTotal.WithLabelValues(method, "rejected").Inc()
		return nil, apperrors.Unauthorized()
	}

	var reset *domain.Token
	if p, ok := t.Payload.(domain.OTPPayload); ok && p.ResetPasswordOnSuccess {
		reset, err = s.clearPassword(ctx, a, in.IP)
		if err != nil {
			return nil, err
		}
	}

	s.recordLoginSuccess(ctx, a)
	res, err := s.completeLogin(ctx, a, in.IP)
	if err != nil {
		return nil, err
	}
	if reset != nil {
		res.ResetPasswordCode = reset.Code
		res.ResetPasswordCodeExpiredAt = &reset.ExpiresAt
	}

	loginsTotal.WithLabelValues(method, "success").Inc()
	s.logger.InfoContext(ctx, "login continued",
		slog.Int64("account_id", a.ID),
		slog.String("kind", string(t.Kind)),
	)
	return res, nil
}

// clearPassword forces the account to choose a new password and returns the
// code that authorizes it.
func (s *AuthService) clearPassword(ctx context.Context, a *domain.Account, ip string) (*domain.Token, error) {
	if err := s.accounts.UpdatePassword(ctx, a.ID, nil, true); err != nil {
		return nil, fmt.Errorf("clear password: %w", err)
	}
	a.PasswordHash = nil

	s.emit(ctx, "account.password_reset", func(ctx context.Context) error {
		return s.events.PublishAccountPasswordReset(ctx, a, true)
	})

	return s.tokens.Issue(ctx, &a.ID, s.policy.ResetFromUserInfoTTL, ip, domain.ResetFromUserInfoPayload{})
}

func (s *AuthService) passwordLogin(ctx context.Context, in LoginInput) (*LoginResult, error) {
	var missing []string
	if in.Email == "" {
		missing = append(missing, "Email is required.")
	}
	if in.Password == "" {
		missing = append(missing, "Password is required.")
	}
	if in.ProjectID == 0 {
		missing = append(missing, "ProjectId is required.")
	}
	if len(missing) > 0 {
		return nil, apperrors.Validation(missing...)
	}

	if _, err := s.requireProject(ctx, in.ProjectID); err != nil {
		return nil, err
	}

	a, err := s.findAccount(ctx, in.Email, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if a == nil || !a.CanLogInWithPassword() {
		loginsTotal.WithLabelValues(methodPassword, "rejected").Inc()
		return nil, apperrors.Unauthorized()
	}

	if !passwordMatches(a, in.Password) {
		s.recordLoginFailure(ctx, a)
		loginsTotal.WithLabelValues(methodPassword, "rejected").Inc()
		return nil, apperrors.Unauthorized()
	}

	s.recordLoginSuccess(ctx, a)
	res, err := s.completeLogin(ctx, a, in.IP)
	if err != nil {
		return nil, err
	}

	loginsTotal.WithLabelValues(methodPassword, "success").Inc()
	s.logger.InfoContext(ctx, "user logged in",
		slog.Int64("account_id", a.ID),
		slog.Int64("project_id", a.ProjectID),
	)
	return res, nil
}

// completeLogin mints the access token and the refresh and user info codes.
func (s *AuthService) completeLogin(ctx context.Context, a *domain.Account, ip string) (*LoginResult, error) {
	roles, err := s.roles.RolesOf(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("get roles: %w", err)
	}
	if len(roles) == 0 {
		return nil, apperrors.CannotGet("Roles")
	}

	access, accessExp, err := s.sessions.GenerateAccessToken(a.ID, a.Email, a.DisplayName(), a.ProjectID, roles)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refresh, err := s.tokens.Issue(ctx, &a.ID, s.policy.RefreshTTL, ip, domain.RefreshPayload{})
	if err != nil {
		return nil, err
	}

	userInfo, err := s.tokens.Issue(ctx, &a.ID, s.policy.UserInfoTTL, ip, domain.UserInfoPayload{AccountID: a.ID})
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:           access,
		AccessExpiredAt:       accessExp,
		RefreshToken:          refresh.Code,
		RefreshExpiredAt:      refresh.ExpiresAt,
		UserInfoCode:          userInfo.Code,
		UserInfoCodeExpiredAt: userInfo.ExpiresAt,
	}, nil
}

// recordLoginSuccess resets the failure counter. The login stands even if the
// write fails.
func (s *AuthService) recordLoginSuccess(ctx context.Context, a *domain.Account) {
	if _, err := s.accounts.UpdateLoginOutcome(ctx, a.ID, true, s.policy.LockoutThreshold); err != nil {
		s.logger.WarnContext(ctx, "failed to record login",
			slog.Int64("account_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AuthService) recordLoginFailure(ctx context.Context, a *domain.Account) {
	locked, err := s.accounts.UpdateLoginOutcome(ctx, a.ID, false, s.policy.LockoutThreshold)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record failed login",
			slog.Int64("account_id", a.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !locked {
		return
	}

	a.EmailConfirmed = false
	s.logger.WarnContext(ctx, "account locked after failed logins",
		slog.Int64("account_id", a.ID),
		slog.Int("threshold", s.policy.LockoutThreshold),
	)
	s.emit(ctx, "account.locked", func(ctx context.Context) error {
		return s.events.PublishAccountLocked(ctx, a)
	})
}
