package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/utafrali/identity/internal/domain"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/validator"
)

// BootstrapInput describes the administrator created by the seed-admin
// command.
type BootstrapInput struct {
	FirstName string `json:"firstName" validate:"required,max=50"`
	LastName  string `json:"lastName" validate:"required,max=50"`
	Email     string `json:"email" validate:"required,email,max=150"`
	Password  string `json:"password" validate:"required,max=72"`
	ProjectID int64  `json:"projectId" validate:"required,gt=0"`
}

// BootstrapAdministrator makes sure an ADMINISTRATOR account exists for
// in.Email in in.ProjectID. An existing account is promoted and keeps its
// password. created reports whether a new account was inserted.
func (s *AuthService) BootstrapAdministrator(ctx context.Context, in BootstrapInput) (a *domain.Account, created bool, err error) {
	in.Email = strings.TrimSpace(in.Email)
	if msgs := validator.Messages(validator.Validate(in)); len(msgs) > 0 {
		return nil, false, apperrors.Validation(msgs...)
	}

	if _, err := s.requireProject(ctx, in.ProjectID); err != nil {
		return nil, false, err
	}

	a, err = s.findAccount(ctx, in.Email, in.ProjectID)
	if err != nil {
		return nil, false, err
	}
	if a == nil {
		if msgs := passwordRules(in.Password); len(msgs) > 0 {
			return nil, false, apperrors.Validation(msgs...)
		}
		digest, err := s.hashPassword(in.Password)
		if err != nil {
			return nil, false, err
		}
		a = &domain.Account{
			FirstName:       in.FirstName,
			LastName:        in.LastName,
			Email:           in.Email,
			PasswordHash:    &digest,
			ProjectID:       in.ProjectID,
			DefaultLanguage: defaultLanguage,
			EmailConfirmed:  true,
			Enabled:         true,
		}
		if err := s.accounts.Create(ctx, a, domain.DefaultRole); err != nil {
			return nil, false, fmt.Errorf("create administrator: %w", err)
		}
		created = true
	}

	if err := s.roles.Grant(ctx, a.ID, domain.RoleAdministrator); err != nil {
		return nil, false, fmt.Errorf("grant administrator: %w", err)
	}
	s.logger.InfoContext(ctx, "administrator bootstrapped",
		slog.Int64("account_id", a.ID),
		slog.Int64("project_id", a.ProjectID),
		slog.Bool("created", created),
	)
	return a, created, nil
}
