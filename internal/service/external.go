package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/oauth/google"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/httpclient"
)

// ExternalStartResult is the one-time code a browser redeems at
// /auth/login/external/redirect.
type ExternalStartResult struct {
	CodeForRedirect string    `json:"codeForRedirect"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// ExternalCallbackInput is what the provider sends back to the callback.
type ExternalCallbackInput struct {
	Code  string
	State string
	IP    string
}

// StartExternalLogin prepares a Google login that lands on the caller's
// registered callback URL.
func (s *AuthService) StartExternalLogin(ctx context.Context, caller domain.Principal, ip string) (*ExternalStartResult, error) {
	if s.google == nil {
		return nil, apperrors.NotFound("External provider")
	}
	if err := requireAdminGroup(caller); err != nil {
		return nil, err
	}

	cb, err := s.callbacks.GetByAccount(ctx, caller.AccountID, caller.ProjectID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("Callback context")
		}
		return nil, fmt.Errorf("get callback context: %w", err)
	}

	data, err := s.tokens.Issue(ctx, &caller.AccountID, s.policy.OAuthDataTTL, ip, domain.ExternalOAuthDataPayload{
		ProjectID:   cb.ProjectID,
		RedirectURL: cb.CallbackURL,
		OriginIP:    ip,
		Provider:    s.google.Name(),
	})
	if err != nil {
		return nil, err
	}

	redirect, err := s.tokens.Issue(ctx, &caller.AccountID, s.policy.OAuthRedirectTTL, ip, domain.ExternalOAuthRedirectPayload{
		AuthorizationURL: s.google.AuthCodeURL(data.Code),
	})
	if err != nil {
		return nil, err
	}

	return &ExternalStartResult{CodeForRedirect: redirect.Code, ExpiresAt: redirect.ExpiresAt}, nil
}

// ResolveExternalRedirect redeems a redirect code for the provider
// authorization URL.
func (s *AuthService) ResolveExternalRedirect(ctx context.Context, code, ip string) (string, error) {
	t, err := s.tokens.Verify(ctx, code, ip, domain.KindExternalOAuthRedirect)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", apperrors.Unauthorized()
	}
	p, ok := t.Payload.(domain.ExternalOAuthRedirectPayload)
	if !ok || p.AuthorizationURL == "" {
		return "", apperrors.Unauthorized()
	}
	return p.AuthorizationURL, nil
}

// CompleteExternalLogin handles the provider callback. It finds or creates
// the account for the profile email in the target project and returns the
// client URL carrying a user info code.
func (s *AuthService) CompleteExternalLogin(ctx context.Context, in ExternalCallbackInput) (string, error) {
	if s.google == nil {
		return "", apperrors.NotFound("External provider")
	}
	if in.Code == "" || in.State == "" {
		return "", apperrors.Unauthorized()
	}

	t, err := s.tokens.Verify(ctx, in.State, in.IP, domain.KindExternalOAuthData)
	if err != nil {
		return "", err
	}
	if t == nil {
		loginsTotal.WithLabelValues(methodExternal, "rejected").Inc()
		return "", apperrors.Unauthorized()
	}
	data, ok := t.Payload.(domain.ExternalOAuthDataPayload)
	if !ok || data.ProjectID == 0 || data.RedirectURL == "" {
		return "", apperrors.Unauthorized()
	}

	profile, err := s.google.Exchange(ctx, in.Code)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && httpclient.IsClientError(se.Status) {
			s.logger.WarnContext(ctx, "google rejected authorization code",
				slog.Int("status", se.Status),
			)
			loginsTotal.WithLabelValues(methodExternal, "rejected").Inc()
			return "", apperrors.Unauthorized()
		}
		return "", apperrors.Unavailable(err)
	}

	a, err := s.findOrCreateExternal(ctx, profile, data.ProjectID)
	if err != nil {
		return "", err
	}
	if !a.Enabled {
		loginsTotal.WithLabelValues(methodExternal, "rejected").Inc()
		return "", apperrors.Unauthorized()
	}
	s.recordLoginSuccess(ctx, a)

	userInfo, err := s.tokens.Issue(ctx, &a.ID, s.policy.UserInfoTTL, in.IP, domain.UserInfoPayload{AccountID: a.ID})
	if err != nil {
		return "", err
	}

	target, err := withQuery(data.RedirectURL, "userInfoCode", userInfo.Code)
	if err != nil {
		return "", fmt.Errorf("build client redirect: %w", err)
	}

	loginsTotal.WithLabelValues(methodExternal, "success").Inc()
	s.logger.InfoContext(ctx, "external login completed",
		slog.Int64("account_id", a.ID),
		slog.String("provider", data.Provider),
	)
	return target, nil
}

// findOrCreateExternal returns the account for profile in projectID,
// creating a password-less one on first sight.
func (s *AuthService) findOrCreateExternal(ctx context.Context, profile *google.Profile, projectID int64) (*domain.Account, error) {
	a, err := s.findAccount(ctx, profile.Email, projectID)
	if err != nil || a != nil {
		return a, err
	}

	lang := profile.Locale
	if lang == "" {
		lang = defaultLanguage
	}
	first, last := profile.GivenName, profile.FamilyName
	if first == "" {
		first, last, _ = strings.Cut(profile.Name, " ")
	}

	a = &domain.Account{
		FirstName:       first,
		LastName:        last,
		Email:           profile.Email,
		ProjectID:       projectID,
		DefaultLanguage: lang,
		PictureURL:      profile.Picture,
		EmailConfirmed:  profile.EmailVerified,
		Enabled:         true,
	}
	if err := s.accounts.Create(ctx, a, domain.DefaultRole); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			// Lost a race with a concurrent first login.
			existing, err := s.findAccount(ctx, profile.Email, projectID)
			if err == nil && existing == nil {
				err = fmt.Errorf("account %s missing after unique violation", profile.Email)
			}
			return existing, err
		}
		return nil, fmt.Errorf("create external account: %w", err)
	}

	s.emit(ctx, "account.registered", func(ctx context.Context) error {
		return s.events.PublishAccountRegistered(ctx, a, google.ProviderName)
	})
	s.logger.InfoContext(ctx, "account created from external login",
		slog.Int64("account_id", a.ID),
		slog.Int64("project_id", projectID),
	)
	return a, nil
}
