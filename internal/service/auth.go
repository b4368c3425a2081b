package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/mail"
	"github.com/utafrali/identity/internal/oauth/google"
	"github.com/utafrali/identity/internal/repository"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

const backgroundTimeout = 5 * time.Second

// Policy holds the lifetimes and account rules the orchestrator applies.
type Policy struct {
	RefreshTTL           time.Duration
	UserInfoTTL          time.Duration
	OTPTTL               time.Duration
	ForgetPasswordTTL    time.Duration
	OAuthDataTTL         time.Duration
	OAuthRedirectTTL     time.Duration
	ResetFromUserInfoTTL time.Duration

	// LockoutThreshold is the number of consecutive failed password logins
	// that clears email confirmation. Zero disables lockout.
	LockoutThreshold int

	DefaultProjectID int64
	RootProjectID    int64
	AutoConfirmEmail bool
	BcryptCost       int
}

// SessionIssuer signs access tokens.
type SessionIssuer interface {
	GenerateAccessToken(accountID int64, email, name string, projectID int64, roles []string) (string, time.Time, error)
}

// Mailer enqueues outgoing email without blocking.
type Mailer interface {
	Dispatch(ctx context.Context, msg mail.Message)
}

// EventPublisher publishes account lifecycle events.
type EventPublisher interface {
	PublishAccountRegistered(ctx context.Context, a *domain.Account, provider string) error
	PublishAccountPasswordReset(ctx context.Context, a *domain.Account, cleared bool) error
	PublishAccountLocked(ctx context.Context, a *domain.Account) error
}

// ExternalProvider is an OAuth identity provider.
type ExternalProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*google.Profile, error)
}

// AuthService implements the login, registration, password and external
// identity flows.
type AuthService struct {
	accounts  repository.AccountRepository
	roles     repository.RoleRepository
	projects  repository.ProjectRepository
	callbacks repository.CallbackContextRepository
	tokens    *TokenService
	sessions  SessionIssuer
	mailer    Mailer
	events    EventPublisher
	google    ExternalProvider
	policy    Policy
	logger    *slog.Logger

	// background tracks best-effort event publishing.
	background sync.WaitGroup
}

// Deps groups the collaborators of AuthService.
type Deps struct {
	Accounts  repository.AccountRepository
	Roles     repository.RoleRepository
	Projects  repository.ProjectRepository
	Callbacks repository.CallbackContextRepository
	Tokens    *TokenService
	Sessions  SessionIssuer
	Mailer    Mailer
	Events    EventPublisher
	// Google may be nil when external login is disabled.
	Google ExternalProvider
}

// NewAuthService creates a new auth service.
func NewAuthService(deps Deps, policy Policy, logger *slog.Logger) *AuthService {
	return &AuthService{
		accounts:  deps.Accounts,
		roles:     deps.Roles,
		projects:  deps.Projects,
		callbacks: deps.Callbacks,
		tokens:    deps.Tokens,
		sessions:  deps.Sessions,
		mailer:    deps.Mailer,
		events:    deps.Events,
		google:    deps.Google,
		policy:    policy,
		logger:    logger,
	}
}

// Wait blocks until background event publishing has finished.
func (s *AuthService) Wait() {
	s.background.Wait()
}

// emit runs publish detached from the request so a slow broker never delays
// the response. Failures are logged.
func (s *AuthService) emit(ctx context.Context, what string, publish func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		if err := publish(ctx); err != nil {
			s.logger.WarnContext(ctx, "failed to publish event",
				slog.String("event", what),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// --- Capabilities ---

func requireAdminGroup(p domain.Principal) error {
	if !p.IsAdminGroup() {
		return apperrors.Unauthorized()
	}
	return nil
}

func (s *AuthService) requireSuperUser(p domain.Principal) error {
	if !p.IsSuperUser(s.policy.RootProjectID) {
		return apperrors.Unauthorized()
	}
	return nil
}

// targetProject resolves the project an admin-group call acts on. Only a
// super user may reach outside its own project.
func (s *AuthService) targetProject(p domain.Principal, requested int64) int64 {
	if requested != 0 && p.IsSuperUser(s.policy.RootProjectID) {
		return requested
	}
	return p.ProjectID
}

// --- Shared lookups ---

// requireProject loads a project, mapping absence to 404.
func (s *AuthService) requireProject(ctx context.Context, id int64) (*domain.Project, error) {
	p, err := s.projects.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("Project")
		}
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	return p, nil
}

// findAccount returns the account or nil when it does not exist.
func (s *AuthService) findAccount(ctx context.Context, email string, projectID int64) (*domain.Account, error) {
	a, err := s.accounts.GetByEmailAndProject(ctx, email, projectID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

// accountByID returns the account or nil when it does not exist.
func (s *AuthService) accountByID(ctx context.Context, id int64) (*domain.Account, error) {
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return a, nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.policy.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func passwordMatches(a *domain.Account, password string) bool {
	if a.PasswordHash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*a.PasswordHash), []byte(password)) == nil
}
