package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/identity/internal/auth"
	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/mail"
	"github.com/utafrali/identity/internal/oauth/google"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

// --- In-memory ledger ---

// memLedger applies the same redeemability guard as the SQL ledger. The
// mutex makes Consume atomic.
type memLedger struct {
	mu     sync.Mutex
	tokens map[string]*domain.Token
}

func newMemLedger() *memLedger {
	return &memLedger{tokens: make(map[string]*domain.Token)}
}

func (l *memLedger) Create(_ context.Context, t *domain.Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *t
	l.tokens[t.Code] = &cp
	return nil
}

func (l *memLedger) Lookup(_ context.Context, code, ip string, now time.Time, kinds ...domain.ProcessKind) (*domain.Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[code]
	if !ok || !t.Redeemable(now, ip, kinds...) {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (l *memLedger) Consume(_ context.Context, code, ip string, now time.Time, kinds ...domain.ProcessKind) (*domain.Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[code]
	if !ok || !t.Redeemable(now, ip, kinds...) {
		return nil, nil
	}
	consumed := now
	t.ConsumedAt = &consumed
	cp := *t
	return &cp, nil
}

func (l *memLedger) RecordFailedAttempt(_ context.Context, code string, maxAttempts int, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[code]
	if !ok || t.ConsumedAt != nil {
		return true, nil
	}
	t.FailedAttempts++
	if t.FailedAttempts >= maxAttempts {
		consumed := now
		t.ConsumedAt = &consumed
		return true, nil
	}
	return false, nil
}

func (l *memLedger) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for code, t := range l.tokens {
		if t.ExpiresAt.Before(before) {
			delete(l.tokens, code)
			n++
		}
	}
	return n, nil
}

func (l *memLedger) get(code string) *domain.Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[code]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// find returns the first stored token of kind.
func (l *memLedger) find(kind domain.ProcessKind) *domain.Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.tokens {
		if t.Kind == kind {
			cp := *t
			return &cp
		}
	}
	return nil
}

// --- Mock Account Repository ---

type mockAccountRepository struct {
	mock.Mock
}

func (m *mockAccountRepository) Create(ctx context.Context, a *domain.Account, roleName string) error {
	args := m.Called(ctx, a, roleName)
	return args.Error(0)
}

func (m *mockAccountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockAccountRepository) GetByEmailAndProject(ctx context.Context, email string, projectID int64) (*domain.Account, error) {
	args := m.Called(ctx, email, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockAccountRepository) UpdatePassword(ctx context.Context, id int64, digest *string, confirmEmail bool) error {
	args := m.Called(ctx, id, digest, confirmEmail)
	return args.Error(0)
}

func (m *mockAccountRepository) UpdateLoginOutcome(ctx context.Context, id int64, success bool, threshold int) (bool, error) {
	args := m.Called(ctx, id, success, threshold)
	return args.Bool(0), args.Error(1)
}

// --- Mock Role Repository ---

type mockRoleRepository struct {
	mock.Mock
}

func (m *mockRoleRepository) RolesOf(ctx context.Context, accountID int64) ([]string, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockRoleRepository) IDByName(ctx context.Context, name string) (int64, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRoleRepository) Grant(ctx context.Context, accountID int64, roleName string) error {
	args := m.Called(ctx, accountID, roleName)
	return args.Error(0)
}

// --- Mock Project Repository ---

type mockProjectRepository struct {
	mock.Mock
}

func (m *mockProjectRepository) GetByID(ctx context.Context, id int64) (*domain.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Project), args.Error(1)
}

// --- Mock Callback Context Repository ---

type mockCallbackRepository struct {
	mock.Mock
}

func (m *mockCallbackRepository) Replace(ctx context.Context, c *domain.CallbackContext) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockCallbackRepository) GetBySecret(ctx context.Context, secret string) (*domain.CallbackContextView, error) {
	args := m.Called(ctx, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallbackContextView), args.Error(1)
}

func (m *mockCallbackRepository) GetByAccount(ctx context.Context, accountID, projectID int64) (*domain.CallbackContextView, error) {
	args := m.Called(ctx, accountID, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallbackContextView), args.Error(1)
}

// --- Mock Provider ---

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return google.ProviderName }

func (m *mockProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (m *mockProvider) Exchange(ctx context.Context, code string) (*google.Profile, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*google.Profile), args.Error(1)
}

// --- Recording Mailer / Events ---

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (r *recordingMailer) Dispatch(_ context.Context, msg mail.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
}

func (r *recordingMailer) messages() []mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mail.Message(nil), r.sent...)
}

type recordingEvents struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordingEvents) record(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
}

func (r *recordingEvents) PublishAccountRegistered(_ context.Context, _ *domain.Account, provider string) error {
	r.record("registered:" + provider)
	return nil
}

func (r *recordingEvents) PublishAccountPasswordReset(_ context.Context, _ *domain.Account, cleared bool) error {
	if cleared {
		r.record("password_reset:cleared")
	} else {
		r.record("password_reset")
	}
	return nil
}

func (r *recordingEvents) PublishAccountLocked(_ context.Context, _ *domain.Account) error {
	r.record("locked")
	return nil
}

func (r *recordingEvents) published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

// --- Test Helpers ---

const (
	testIP       = "203.0.113.7"
	testSecret   = "test-secret-key-for-testing-only-0123456789"
	testPassword = "Secret123"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testPolicy() Policy {
	return Policy{
		RefreshTTL:           7 * 24 * time.Hour,
		UserInfoTTL:          5 * time.Minute,
		OTPTTL:               10 * time.Minute,
		ForgetPasswordTTL:    30 * time.Minute,
		OAuthDataTTL:         10 * time.Minute,
		OAuthRedirectTTL:     2 * time.Minute,
		ResetFromUserInfoTTL: 15 * time.Minute,
		LockoutThreshold:     3,
		DefaultProjectID:     1,
		RootProjectID:        1,
		AutoConfirmEmail:     true,
		BcryptCost:           bcrypt.MinCost,
	}
}

type harness struct {
	svc       *AuthService
	accounts  *mockAccountRepository
	roles     *mockRoleRepository
	projects  *mockProjectRepository
	callbacks *mockCallbackRepository
	google    *mockProvider
	ledger    *memLedger
	tokens    *TokenService
	mailer    *recordingMailer
	events    *recordingEvents
	jwt       *auth.JWTManager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		accounts:  new(mockAccountRepository),
		roles:     new(mockRoleRepository),
		projects:  new(mockProjectRepository),
		callbacks: new(mockCallbackRepository),
		google:    new(mockProvider),
		ledger:    newMemLedger(),
		mailer:    &recordingMailer{},
		events:    &recordingEvents{},
		jwt:       auth.NewJWTManager(testSecret, time.Hour),
	}
	h.tokens = NewTokenService(h.ledger, 3, newTestLogger())
	h.tokens.now = func() time.Time { return testNow }

	h.svc = NewAuthService(Deps{
		Accounts:  h.accounts,
		Roles:     h.roles,
		Projects:  h.projects,
		Callbacks: h.callbacks,
		Tokens:    h.tokens,
		Sessions:  h.jwt,
		Mailer:    h.mailer,
		Events:    h.events,
		Google:    h.google,
	}, testPolicy(), newTestLogger())

	t.Cleanup(h.svc.Wait)
	return h
}

func hashed(t *testing.T, password string) *string {
	t.Helper()
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	s := string(b)
	return &s
}

func testAccount(t *testing.T) *domain.Account {
	t.Helper()
	return &domain.Account{
		ID:              42,
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Email:           "ada@example.com",
		PasswordHash:    hashed(t, testPassword),
		ProjectID:       1,
		DefaultLanguage: "en",
		EmailConfirmed:  true,
		Enabled:         true,
	}
}

func rootProject() *domain.Project {
	return &domain.Project{ID: 1, Name: "root"}
}

func adminPrincipal() domain.Principal {
	return domain.Principal{AccountID: 1, Email: "admin@example.com", ProjectID: 1, Roles: []string{domain.RoleAdministrator}}
}

func appPrincipal(projectID int64) domain.Principal {
	return domain.Principal{AccountID: 7, Email: "app@example.com", ProjectID: projectID, Roles: []string{domain.RoleApplication}}
}

func userPrincipal() domain.Principal {
	return domain.Principal{AccountID: 42, Email: "ada@example.com", ProjectID: 1, Roles: []string{domain.RoleUser}}
}

func notFound() error { return apperrors.ErrNotFound }
