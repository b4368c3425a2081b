// Package google exchanges Google authorization codes for user profiles.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/utafrali/identity/pkg/httpclient"
)

// ProviderName is the provider tag stored with external login state.
const ProviderName = "google"

// Default Google OAuth 2.0 endpoints.
const (
	DefaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultTokenURL    = "https://oauth2.googleapis.com/token"
	DefaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

var defaultScopes = []string{"openid", "email", "profile"}

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides; empty means Google's.
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// Profile is the subset of the OpenID Connect userinfo response used to
// provision accounts.
type Profile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Locale        string `json:"locale"`
}

// Provider talks to Google's OAuth endpoints.
type Provider struct {
	cfg    Config
	client *httpclient.CircuitBreakerClient
}

// NewProvider creates a provider issuing requests through client.
func NewProvider(cfg Config, client *httpclient.CircuitBreakerClient) *Provider {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = DefaultUserInfoURL
	}
	return &Provider{cfg: cfg, client: client}
}

// Name returns the provider tag.
func (p *Provider) Name() string {
	return ProviderName
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", p.cfg.ClientID)
	q.Set("redirect_uri", p.cfg.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(defaultScopes, " "))
	q.Set("state", state)
	q.Set("access_type", "online")
	q.Set("prompt", "select_account")
	return p.cfg.AuthURL + "?" + q.Encode()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Exchange trades an authorization code for the user's profile.
func (p *Provider) Exchange(ctx context.Context, code string) (*Profile, error) {
	accessToken, err := p.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return p.userInfo(ctx, accessToken)
}

func (p *Provider) exchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("redirect_uri", p.cfg.RedirectURL)
	form.Set("grant_type", "authorization_code")

	resp, err := p.client.Post(ctx, p.cfg.TokenURL, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("google token exchange: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("google token exchange: %w", httpclient.ParseResponseError(resp, "google token endpoint"))
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode google token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("google token response has no access token")
	}
	return tok.AccessToken, nil
}

func (p *Provider) userInfo(ctx context.Context, accessToken string) (*Profile, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	header.Set("Accept", "application/json")

	resp, err := p.client.Get(ctx, p.cfg.UserInfoURL, header)
	if err != nil {
		return nil, fmt.Errorf("google userinfo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google userinfo: %w", httpclient.ParseResponseError(resp, "google userinfo endpoint"))
	}
	defer resp.Body.Close()

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode google userinfo: %w", err)
	}
	if profile.Email == "" {
		return nil, fmt.Errorf("google userinfo has no email")
	}
	return &profile, nil
}
