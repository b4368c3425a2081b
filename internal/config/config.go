package config

import (
	"fmt"
	"net/netip"
	"time"

	pkgconfig "github.com/utafrali/identity/pkg/config"
	"github.com/utafrali/identity/pkg/database"
	"github.com/utafrali/identity/pkg/middleware"
	"github.com/utafrali/identity/pkg/tracing"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Mail providers.
const (
	MailProviderLog = "log"
	MailProviderSES = "ses"
)

// Config holds all configuration for the identity service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"identity"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"identity_secret"`
	PostgresDB   string `env:"IDENTITY_DB_NAME" envDefault:"identity_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	SlowQueryThresholdMS int `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis
	RedisHost       string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort       int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	ProjectCacheTTL time.Duration `env:"PROJECT_CACHE_TTL" envDefault:"5m"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT
	JWTSecret       string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTAccessExpiry time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"1h"`

	// Token ledger lifetimes
	TokenRefreshTTL           time.Duration `env:"TOKEN_REFRESH_TTL" envDefault:"168h"`
	TokenUserInfoTTL          time.Duration `env:"TOKEN_USER_INFO_TTL" envDefault:"5m"`
	TokenOTPTTL               time.Duration `env:"TOKEN_OTP_TTL" envDefault:"10m"`
	TokenForgetPasswordTTL    time.Duration `env:"TOKEN_FORGET_PASSWORD_TTL" envDefault:"30m"`
	TokenOAuthDataTTL         time.Duration `env:"TOKEN_OAUTH_DATA_TTL" envDefault:"10m"`
	TokenOAuthRedirectTTL     time.Duration `env:"TOKEN_OAUTH_REDIRECT_TTL" envDefault:"2m"`
	TokenResetFromUserInfoTTL time.Duration `env:"TOKEN_RESET_FROM_USER_INFO_TTL" envDefault:"15m"`
	TokenSweepRetention       time.Duration `env:"TOKEN_SWEEP_RETENTION" envDefault:"24h"`

	// Account policy
	OTPMaxAttempts        int   `env:"OTP_MAX_ATTEMPTS" envDefault:"3"`
	LoginLockoutThreshold int   `env:"LOGIN_LOCKOUT_THRESHOLD" envDefault:"5"`
	DefaultProjectID      int64 `env:"DEFAULT_PROJECT_ID" envDefault:"1"`
	RootProjectID         int64 `env:"ROOT_PROJECT_ID" envDefault:"1"`
	AutoConfirmEmail      bool  `env:"AUTO_CONFIRM_EMAIL" envDefault:"true"`
	BcryptCost            int   `env:"BCRYPT_COST" envDefault:"12"`

	// Google
	GoogleEnabled      bool   `env:"GOOGLE_ENABLED" envDefault:"false"`
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL  string `env:"GOOGLE_CALLBACK_URL" envDefault:"http://localhost:8080/auth/login/external/google/callback"`

	// Mail
	MailProvider      string `env:"MAIL_PROVIDER" envDefault:"log"`
	MailFrom          string `env:"MAIL_FROM"`
	MailWorkerEnabled bool   `env:"MAIL_WORKER_ENABLED" envDefault:"true"`
	AWSRegion         string `env:"AWS_REGION" envDefault:"us-east-1"`

	// Rate limiting on /auth
	AuthRateLimitRPS   float64 `env:"AUTH_RATE_LIMIT_RPS" envDefault:"5"`
	AuthRateLimitBurst int     `env:"AUTH_RATE_LIMIT_BURST" envDefault:"10"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Reverse proxies (CIDR or address) whose forwarding headers are believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Tracing
	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables, after loading any of
// the given dotenv files that exist.
func Load(dotenvFiles ...string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg, dotenvFiles...); err != nil {
		return nil, fmt.Errorf("load identity config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
	}

	ttls := map[string]time.Duration{
		"JWT_ACCESS_TOKEN_EXPIRY":        c.JWTAccessExpiry,
		"TOKEN_REFRESH_TTL":              c.TokenRefreshTTL,
		"TOKEN_USER_INFO_TTL":            c.TokenUserInfoTTL,
		"TOKEN_OTP_TTL":                  c.TokenOTPTTL,
		"TOKEN_FORGET_PASSWORD_TTL":      c.TokenForgetPasswordTTL,
		"TOKEN_OAUTH_DATA_TTL":           c.TokenOAuthDataTTL,
		"TOKEN_OAUTH_REDIRECT_TTL":       c.TokenOAuthRedirectTTL,
		"TOKEN_RESET_FROM_USER_INFO_TTL": c.TokenResetFromUserInfoTTL,
	}
	for name, ttl := range ttls {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, ttl)
		}
	}

	if c.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1, got %d", c.OTPMaxAttempts)
	}
	if c.LoginLockoutThreshold < 0 {
		return fmt.Errorf("LOGIN_LOCKOUT_THRESHOLD must not be negative, got %d", c.LoginLockoutThreshold)
	}

	if c.GoogleEnabled && (c.GoogleClientID == "" || c.GoogleClientSecret == "") {
		return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required when GOOGLE_ENABLED is set")
	}

	switch c.MailProvider {
	case MailProviderLog:
	case MailProviderSES:
		if c.MailFrom == "" {
			return fmt.Errorf("MAIL_FROM is required for the %q mail provider", c.MailProvider)
		}
	default:
		return fmt.Errorf("unknown MAIL_PROVIDER %q", c.MailProvider)
	}

	if _, err := middleware.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	return nil
}

// TrustedProxyPrefixes returns the parsed TRUSTED_PROXIES list.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	prefixes, _ := middleware.ParseTrustedProxies(c.TrustedProxies)
	return prefixes
}

// Postgres returns the connection settings for the identity database.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:     c.PostgresHost,
		Port:     c.PostgresPort,
		User:     c.PostgresUser,
		Password: c.PostgresPass,
		DBName:   c.PostgresDB,
		SSLMode:  c.PostgresSSL,

		MaxConns:        20,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Redis returns the connection settings for the cache.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// Tracing returns the tracer bootstrap settings for serviceName.
func (c *Config) Tracing(serviceName, version string) tracing.Config {
	return tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTelEndpoint,
		SampleRate:     c.OTelSampleRate,
		Enabled:        c.OTelEnabled,
	}
}

// SlowQueryThreshold returns the duration above which queries are logged.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMS) * time.Millisecond
}
