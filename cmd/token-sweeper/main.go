// Command token-sweeper deletes ledger tokens that expired longer ago than
// the configured retention. It is meant to run from cron.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/utafrali/identity/internal/config"
	"github.com/utafrali/identity/internal/repository/postgres"
	"github.com/utafrali/identity/internal/service"
	"github.com/utafrali/identity/pkg/database"
	"github.com/utafrali/identity/pkg/logger"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("identity-token-sweeper", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), log)
	if err != nil {
		log.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	tokens := service.NewTokenService(postgres.NewTokenRepository(pool), cfg.OTPMaxAttempts, log)
	n, err := tokens.Sweep(ctx, cfg.TokenSweepRetention)
	if err != nil {
		log.Error("token sweep failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("token sweep completed",
		slog.Int64("deleted", n),
		slog.Duration("retention", cfg.TokenSweepRetention),
	)
}
