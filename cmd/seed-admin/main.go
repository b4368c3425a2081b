// Command seed-admin creates the first ADMINISTRATOR account of a project, or
// promotes an existing account. The password is read from
// SEED_ADMIN_PASSWORD so it stays out of shell history.
//
//	SEED_ADMIN_PASSWORD=... seed-admin -email root@example.com -project 1
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/utafrali/identity/internal/config"
	"github.com/utafrali/identity/internal/migrations"
	"github.com/utafrali/identity/internal/repository/postgres"
	"github.com/utafrali/identity/internal/service"
	"github.com/utafrali/identity/pkg/database"
	"github.com/utafrali/identity/pkg/logger"
)

func main() {
	email := flag.String("email", "", "administrator email")
	first := flag.String("first-name", "Project", "first name for a new account")
	last := flag.String("last-name", "Administrator", "last name for a new account")
	projectID := flag.Int64("project", 0, "project id (defaults to ROOT_PROJECT_ID)")
	flag.Parse()

	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("identity-seed-admin", cfg.LogLevel)

	if *projectID == 0 {
		*projectID = cfg.RootProjectID
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), log)
	if err != nil {
		log.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc := service.NewAuthService(service.Deps{
		Accounts: postgres.NewAccountRepository(pool),
		Roles:    postgres.NewRoleRepository(pool),
		Projects: postgres.NewProjectRepository(pool),
	}, service.Policy{BcryptCost: cfg.BcryptCost}, log)

	a, created, err := svc.BootstrapAdministrator(ctx, service.BootstrapInput{
		FirstName: *first,
		LastName:  *last,
		Email:     *email,
		Password:  os.Getenv("SEED_ADMIN_PASSWORD"),
		ProjectID: *projectID,
	})
	if err != nil {
		log.Error("failed to seed administrator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("administrator ready",
		slog.Int64("account_id", a.ID),
		slog.String("email", a.Email),
		slog.Int64("project_id", a.ProjectID),
		slog.Bool("created", created),
	)
}
