package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnvs(t, map[string]string{"ENVIRONMENT": "development"})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, time.Hour, cfg.JWTAccessExpiry)
	assert.Equal(t, 168*time.Hour, cfg.TokenRefreshTTL)
	assert.Equal(t, 5*time.Minute, cfg.TokenUserInfoTTL)
	assert.Equal(t, 10*time.Minute, cfg.TokenOTPTTL)
	assert.Equal(t, 30*time.Minute, cfg.TokenForgetPasswordTTL)
	assert.Equal(t, 2*time.Minute, cfg.TokenOAuthRedirectTTL)
	assert.Equal(t, 3, cfg.OTPMaxAttempts)
	assert.Equal(t, 5, cfg.LoginLockoutThreshold)
	assert.Equal(t, int64(1), cfg.DefaultProjectID)
	assert.Equal(t, int64(1), cfg.RootProjectID)
	assert.True(t, cfg.AutoConfirmEmail)
	assert.Equal(t, MailProviderLog, cfg.MailProvider)
}

func TestLoad_Development_AcceptsDefaultSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "development",
		"JWT_SECRET":  defaultJWTSecret,
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, defaultJWTSecret, cfg.JWTSecret)
}

func TestLoad_Production_RejectsDefaultSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "production",
		"JWT_SECRET":  defaultJWTSecret,
	})

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET must be explicitly set")
}

func TestLoad_Production_RejectsShortSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "production",
		"JWT_SECRET":  "short-but-not-default-secret",
	})

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestLoad_InvalidPort(t *testing.T) {
	setEnvs(t, map[string]string{"HTTP_PORT": "70000"})

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestLoad_RejectsNonPositiveTTL(t *testing.T) {
	setEnvs(t, map[string]string{"TOKEN_OTP_TTL": "0s"})

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_OTP_TTL must be positive")
}

func TestLoad_LockoutCanBeDisabled(t *testing.T) {
	setEnvs(t, map[string]string{"LOGIN_LOCKOUT_THRESHOLD": "0"})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Zero(t, cfg.LoginLockoutThreshold)
}

func TestLoad_GoogleRequiresCredentials(t *testing.T) {
	setEnvs(t, map[string]string{"GOOGLE_ENABLED": "true"})

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_CLIENT_ID")
}

func TestLoad_SESRequiresSender(t *testing.T) {
	setEnvs(t, map[string]string{"MAIL_PROVIDER": "ses"})

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAIL_FROM")
}

func TestLoad_UnknownMailProvider(t *testing.T) {
	setEnvs(t, map[string]string{"MAIL_PROVIDER": "carrier-pigeon"})

	_, err := Load()

	require.Error(t, err)
}

func TestLoad_DotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("IDENTITY_TEST_UNUSED=1\nTOKEN_OTP_TTL=3m\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("IDENTITY_TEST_UNUSED")
		os.Unsetenv("TOKEN_OTP_TTL")
	})

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, cfg.TokenOTPTTL)
}

func TestConfig_Postgres(t *testing.T) {
	cfg := &Config{
		PostgresHost: "db", PostgresPort: 5433, PostgresUser: "u",
		PostgresPass: "p", PostgresDB: "identity_db", PostgresSSL: "disable",
	}

	assert.Equal(t, "postgres://u:p@db:5433/identity_db?sslmode=disable", cfg.Postgres().DSN())
}

func TestLoad_TrustedProxies(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":     "development",
		"TRUSTED_PROXIES": "10.0.0.0/8,192.0.2.10",
	})

	cfg, err := Load()

	require.NoError(t, err)
	prefixes := cfg.TrustedProxyPrefixes()
	require.Len(t, prefixes, 2)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.0.2.10/32", prefixes[1].String())
}

func TestLoad_TrustedProxiesDefaultsToNone(t *testing.T) {
	setEnvs(t, map[string]string{"ENVIRONMENT": "development"})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Empty(t, cfg.TrustedProxyPrefixes())
}

func TestLoad_RejectsInvalidTrustedProxy(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":     "development",
		"TRUSTED_PROXIES": "10.0.0.0/33",
	})

	_, err := Load()

	assert.ErrorContains(t, err, "TRUSTED_PROXIES")
}
