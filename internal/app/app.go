package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/identity/internal/auth"
	"github.com/utafrali/identity/internal/config"
	"github.com/utafrali/identity/internal/event"
	handler "github.com/utafrali/identity/internal/handler/http"
	"github.com/utafrali/identity/internal/mail"
	"github.com/utafrali/identity/internal/migrations"
	"github.com/utafrali/identity/internal/oauth/google"
	"github.com/utafrali/identity/internal/repository/postgres"
	rediscache "github.com/utafrali/identity/internal/repository/redis"
	"github.com/utafrali/identity/internal/service"
	"github.com/utafrali/identity/pkg/database"
	"github.com/utafrali/identity/pkg/health"
	"github.com/utafrali/identity/pkg/httpclient"
	pkgkafka "github.com/utafrali/identity/pkg/kafka"
	"github.com/utafrali/identity/pkg/middleware"
	"github.com/utafrali/identity/pkg/tracing"
)

const (
	serviceName    = "identity"
	serviceVersion = "0.1.0"
)

// App wires together all dependencies and runs the identity service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	mailConsumer   *pkgkafka.Consumer
	dispatcher     *mail.Dispatcher
	authService    *service.AuthService
	httpServer     *http.Server
	tracerShutdown func(context.Context) error

	// cancelRouter stops the rate limiter's eviction loop.
	cancelRouter context.CancelFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(serviceName, serviceVersion))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMS > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMS)*time.Millisecond, logger)
	}

	redisClient, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))

	producer := pkgkafka.NewProducer(pkgkafka.ProducerConfig{Brokers: cfg.KafkaBrokers}, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	eventProducer := event.NewProducer(producer, logger)
	dispatcher := mail.NewDispatcher(eventProducer, logger)

	a := &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		dispatcher:     dispatcher,
		tracerShutdown: tracerShutdown,
	}

	if cfg.MailWorkerEnabled {
		sender, err := newMailSender(ctx, cfg, logger)
		if err != nil {
			_ = redisClient.Close()
			pool.Close()
			return nil, err
		}
		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		a.mailConsumer = mail.NewWorker(sender, logger).NewConsumer(cfg.KafkaBrokers, redisClient, a.dlq)
		logger.Info("mail worker enabled", slog.String("provider", cfg.MailProvider))
	}

	// The provider stays a nil interface when external login is off.
	var external service.ExternalProvider
	if cfg.GoogleEnabled {
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("google-oauth"),
			logger,
		)
		external = google.NewProvider(google.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleCallbackURL,
		}, client)
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessExpiry)
	tokens := service.NewTokenService(postgres.NewTokenRepository(pool), cfg.OTPMaxAttempts, logger)
	projects := rediscache.NewProjectCache(postgres.NewProjectRepository(pool), redisClient, cfg.ProjectCacheTTL, logger)

	a.authService = service.NewAuthService(service.Deps{
		Accounts:  postgres.NewAccountRepository(pool),
		Roles:     postgres.NewRoleRepository(pool),
		Projects:  projects,
		Callbacks: postgres.NewCallbackContextRepository(pool),
		Tokens:    tokens,
		Sessions:  jwtManager,
		Mailer:    dispatcher,
		Events:    eventProducer,
		Google:    external,
	}, service.Policy{
		RefreshTTL:           cfg.TokenRefreshTTL,
		UserInfoTTL:          cfg.TokenUserInfoTTL,
		OTPTTL:               cfg.TokenOTPTTL,
		ForgetPasswordTTL:    cfg.TokenForgetPasswordTTL,
		OAuthDataTTL:         cfg.TokenOAuthDataTTL,
		OAuthRedirectTTL:     cfg.TokenOAuthRedirectTTL,
		ResetFromUserInfoTTL: cfg.TokenResetFromUserInfoTTL,
		LockoutThreshold:     cfg.LoginLockoutThreshold,
		DefaultProjectID:     cfg.DefaultProjectID,
		RootProjectID:        cfg.RootProjectID,
		AutoConfirmEmail:     cfg.AutoConfirmEmail,
		BcryptCost:           cfg.BcryptCost,
	}, logger)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	routerCtx, cancelRouter := context.WithCancel(context.Background())
	a.cancelRouter = cancelRouter
	router := handler.NewRouter(routerCtx, handler.RouterConfig{
		Service:        a.authService,
		TokenValidator: jwtManager.Validator(),
		Health:         healthHandler,
		Logger:         logger,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowCredentials: true,
			Environment:      cfg.Environment,
		},
		TrustedProxies: cfg.TrustedProxyPrefixes(),
		RateLimitRPS:   cfg.AuthRateLimitRPS,
		RateLimitBurst: cfg.AuthRateLimitBurst,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func newMailSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (mail.Sender, error) {
	if cfg.MailProvider != config.MailProviderSES {
		return mail.NewLogSender(logger), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return mail.NewSESSender(ses.NewFromConfig(awsCfg), cfg.MailFrom), nil
}

// Run starts the HTTP server and, when enabled, the mail worker. It blocks
// until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.mailConsumer != nil {
		go func() {
			if err := a.mailConsumer.Start(ctx); err != nil {
				a.logger.Error("mail consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown stops the HTTP server, drains background publishers, then closes
// the connections they depend on.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.cancelRouter()

	// Let queued emails and lifecycle events reach the producer.
	a.authService.Wait()
	a.dispatcher.Wait()

	if a.mailConsumer != nil {
		if err := a.mailConsumer.Close(); err != nil {
			a.logger.Error("mail consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
