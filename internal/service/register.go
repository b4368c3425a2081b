package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode"
	"unicode/utf8"

	"github.com/utafrali/identity/internal/document"
	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/mail"
	apperrors "github.com/utafrali/identity/pkg/errors"
	"github.com/utafrali/identity/pkg/validator"
)

const (
	minPasswordLength = 8
	// bcrypt rejects longer inputs.
	maxPasswordBytes  = 72
	defaultLanguage   = "en"
	providerLocal     = "local"
)

// DocumentInput is an optional taxpayer document.
type DocumentInput struct {
	DocumentTypeID int    `json:"documentTypeId"`
	DocumentValue  string `json:"documentValue"`
}

// RegisterInput holds the parameters for POST /auth/register.
type RegisterInput struct {
	FirstName       string         `json:"firstName" validate:"required,max=50"`
	LastName        string         `json:"lastName" validate:"required,max=50"`
	Email           string         `json:"email" validate:"required,email,max=150"`
	Password        string         `json:"password" validate:"required,max=72"`
	Document        *DocumentInput `json:"document"`
	ProjectID       int64          `json:"projectId" validate:"required,gt=0"`
	DefaultLanguage string         `json:"defaultLanguage" validate:"omitempty,max=10"`
	Picture         string         `json:"picture" validate:"omitempty,url,max=300"`
}

// Register creates a password account holding the default role. No session
// is issued.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.Account, error) {
	msgs := validator.Messages(validator.Validate(in))
	if in.Password != "" {
		msgs = append(msgs, passwordRules(in.Password)...)
	}

	var docType *int
	var docValue *string
	if in.Document != nil {
		digits, err := document.Normalize(document.Type(in.Document.DocumentTypeID), in.Document.DocumentValue)
		if err != nil {
			msgs = append(msgs, err.Error())
		} else {
			docType, docValue = &in.Document.DocumentTypeID, &digits
		}
	}
	if len(msgs) > 0 {
		return nil, apperrors.Validation(msgs...)
	}

	if _, err := s.projects.GetByID(ctx, in.ProjectID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Validation("Project does not exist.")
		}
		return nil, fmt.Errorf("get project %d: %w", in.ProjectID, err)
	}

	existing, err := s.findAccount(ctx, in.Email, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.AlreadyExists("User")
	}

	digest, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	lang := in.DefaultLanguage
	if lang == "" {
		lang = defaultLanguage
	}
	a := &domain.Account{
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		Email:           in.Email,
		PasswordHash:    &digest,
		DocumentTypeID:  docType,
		DocumentValue:   docValue,
		ProjectID:       in.ProjectID,
		DefaultLanguage: lang,
		PictureURL:      in.Picture,
		EmailConfirmed:  s.policy.AutoConfirmEmail,
		Enabled:         true,
	}
	if err := s.accounts.Create(ctx, a, domain.DefaultRole); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.mailer.Dispatch(ctx, mail.WelcomeMessage(a.Email, a.DisplayName()))
	s.emit(ctx, "account.registered", func(ctx context.Context) error {
		return s.events.PublishAccountRegistered(ctx, a, providerLocal)
	})

	s.logger.InfoContext(ctx, "account registered",
		slog.Int64("account_id", a.ID),
		slog.Int64("project_id", a.ProjectID),
	)
	return a, nil
}

// passwordRules returns one message per complexity rule the password breaks.
func passwordRules(password string) []string {
	var msgs []string
	if utf8.RuneCountInString(password) < minPasswordLength {
		msgs = append(msgs, fmt.Sprintf("Password must be at least %d characters.", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		msgs = append(msgs, fmt.Sprintf("Password must be at most %d bytes.", maxPasswordBytes))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		msgs = append(msgs, "Password must contain an uppercase letter, a lowercase letter and a digit.")
	}
	return msgs
}
