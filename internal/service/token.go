package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/repository"
)

// codeBytes is the entropy of an opaque code; it encodes to 43 URL-safe characters.
const codeBytes = 32

// TokenService issues and verifies ledger tokens. Verification never fails
// for unknown, expired, consumed, foreign-IP or wrong-kind codes: those come
// back as a nil token. Errors are storage faults only.
type TokenService struct {
	repo           repository.TokenRepository
	otpMaxAttempts int
	logger         *slog.Logger
	now            func() time.Time
}

// NewTokenService creates a token service over the ledger repo. A wrong OTP
// companion value burns the token after otpMaxAttempts mismatches.
func NewTokenService(repo repository.TokenRepository, otpMaxAttempts int, logger *slog.Logger) *TokenService {
	return &TokenService{
		repo:           repo,
		otpMaxAttempts: otpMaxAttempts,
		logger:         logger,
		now:            time.Now,
	}
}

// Issue mints a token carrying payload. The kind comes from the payload. ip is
// recorded only for kinds that bind to the requester. ownerID may be nil.
func (s *TokenService) Issue(ctx context.Context, ownerID *int64, ttl time.Duration, ip string, payload domain.Payload) (*domain.Token, error) {
	kind := payload.Kind()
	if !kind.Valid() {
		return nil, fmt.Errorf("issue token: unknown process kind %q", kind)
	}

	code, err := newCode()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &domain.Token{
		Code:      code,
		OwnerID:   ownerID,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Payload:   payload,
	}
	if kind.BindsIP() {
		t.BoundIP = ip
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("issue %s token: %w", kind, err)
	}
	tokensIssued.WithLabelValues(string(kind)).Inc()
	return t, nil
}

// Verify redeems code under kind. Single-use kinds are consumed atomically
// with the read.
func (s *TokenService) Verify(ctx context.Context, code, ip string, kind domain.ProcessKind) (*domain.Token, error) {
	if code == "" {
		s.observe(string(kind), outcomeAbsent)
		return nil, nil
	}

	var (
		t   *domain.Token
		err error
	)
	now := s.now().UTC()
	if kind.SingleUse() {
		t, err = s.repo.Consume(ctx, code, ip, now, kind)
	} else {
		t, err = s.repo.Lookup(ctx, code, ip, now, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("verify %s token: %w", kind, err)
	}

	s.observe(string(kind), outcomeOf(t))
	return t, nil
}

// VerifyAny redeems code under whichever of kinds it was issued for. The
// returned token tells the caller which kind matched.
func (s *TokenService) VerifyAny(ctx context.Context, code, ip string, kinds ...domain.ProcessKind) (*domain.Token, error) {
	return s.verifyAny(ctx, code, ip, nil, kinds)
}

// VerifyContinuation redeems a login continuation code, which is either an
// OTP or a refresh token. An OTP must also match companion; a mismatch counts
// against the OTP and leaves it unconsumed until the attempt bound burns it.
func (s *TokenService) VerifyContinuation(ctx context.Context, code, ip, companion string) (*domain.Token, error) {
	check := func(t *domain.Token) bool {
		p, ok := t.Payload.(domain.OTPPayload)
		if !ok {
			return true
		}
		return subtle.ConstantTimeCompare([]byte(p.VerificationCode), []byte(companion)) == 1
	}
	return s.verifyAny(ctx, code, ip, check, []domain.ProcessKind{domain.KindOTP, domain.KindRefresh})
}

// verifyAny looks the code up across kinds, applies check before anything is
// consumed, then consumes single-use tokens under the matched kind. Losing a
// consume race reads as absent.
func (s *TokenService) verifyAny(ctx context.Context, code, ip string, check func(*domain.Token) bool, kinds []domain.ProcessKind) (*domain.Token, error) {
	label := kindLabel(kindStrings(kinds))
	if code == "" {
		s.observe(label, outcomeAbsent)
		return nil, nil
	}

	now := s.now().UTC()
	t, err := s.repo.Lookup(ctx, code, ip, now, kinds...)
	if err != nil {
		return nil, fmt.Errorf("look up token: %w", err)
	}
	if t == nil {
		s.observe(label, outcomeAbsent)
		return nil, nil
	}

	if check != nil && !check(t) {
		burned, err := s.repo.RecordFailedAttempt(ctx, code, s.otpMaxAttempts, now)
		if err != nil {
			return nil, fmt.Errorf("record failed %s attempt: %w", t.Kind, err)
		}
		outcome := outcomeMismatch
		if burned {
			outcome = outcomeBurned
			s.logger.InfoContext(ctx, "token burned after failed attempts",
				slog.String("kind", string(t.Kind)),
				slog.Int64("account_id", t.Owner()),
			)
		}
		s.observe(string(t.Kind), outcome)
		return nil, nil
	}

	if !t.Kind.SingleUse() {
		s.observe(string(t.Kind), outcomeValid)
		return t, nil
	}

	consumed, err := s.repo.Consume(ctx, code, ip, now, t.Kind)
	if err != nil {
		return nil, fmt.Errorf("consume %s token: %w", t.Kind, err)
	}
	s.observe(string(t.Kind), outcomeOf(consumed))
	return consumed, nil
}

// Sweep deletes tokens that expired before the cutoff and returns how many.
func (s *TokenService) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("sweep tokens: %w", err)
	}
	return n, nil
}

func (s *TokenService) observe(kind, outcome string) {
	tokensVerified.WithLabelValues(kind, outcome).Inc()
}

func outcomeOf(t *domain.Token) string {
	if t == nil {
		return outcomeAbsent
	}
	return outcomeValid
}

func kindStrings(kinds []domain.ProcessKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func newCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
