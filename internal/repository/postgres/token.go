package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/pkg/database"
)

const tokenColumns = `code, account_id, process_kind, issued_at, expires_at, bound_ip, payload, consumed_at, failed_attempts`

// redeemable is the guard shared by every ledger read. Parameters: $1 code,
// $2 requester ip, $3 now, $4 accepted kinds.
const redeemable = `
		code = $1
		AND consumed_at IS NULL
		AND expires_at >= $3
		AND (bound_ip IS NULL OR bound_ip = $2)
		AND process_kind = ANY($4)`

// TokenRepository implements repository.TokenRepository using PostgreSQL.
type TokenRepository struct {
	db database.DBTX
}

// NewTokenRepository creates a new PostgreSQL-backed token ledger.
func NewTokenRepository(db database.DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create inserts a new ledger row.
func (r *TokenRepository) Create(ctx context.Context, t *domain.Token) (err error) {
	query := `
		INSERT INTO user_tokens (code, account_id, process_kind, issued_at, expires_at, bound_ip, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ctx, end := database.TraceQuery(ctx, "CreateToken", query)
	defer func() { end(err) }()

	payload, err := domain.EncodePayload(t.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, query,
		t.Code,
		t.OwnerID,
		string(t.Kind),
		t.IssuedAt,
		t.ExpiresAt,
		nullIfEmpty(t.BoundIP),
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// Lookup returns a redeemable token, leaving it unconsumed.
func (r *TokenRepository) Lookup(ctx context.Context, code, ip string, now time.Time, kinds ...domain.ProcessKind) (_ *domain.Token, err error) {
	query := `SELECT ` + tokenColumns + ` FROM user_tokens WHERE` + redeemable

	ctx, end := database.TraceQuery(ctx, "LookupToken", query)
	defer func() { end(err) }()

	return r.scanToken(ctx, query, code, ip, now, kindNames(kinds))
}

// Consume atomically marks a redeemable token consumed and returns it.
func (r *TokenRepository) Consume(ctx context.Context, code, ip string, now time.Time, kinds ...domain.ProcessKind) (_ *domain.Token, err error) {
	query := `UPDATE user_tokens SET consumed_at = $3 WHERE` + redeemable + `
		RETURNING ` + tokenColumns

	ctx, end := database.TraceQuery(ctx, "ConsumeToken", query)
	defer func() { end(err) }()

	return r.scanToken(ctx, query, code, ip, now, kindNames(kinds))
}

// RecordFailedAttempt increments the failure counter and burns the token at maxAttempts.
func (r *TokenRepository) RecordFailedAttempt(ctx context.Context, code string, maxAttempts int, now time.Time) (burned bool, err error) {
	query := `
		UPDATE user_tokens
		SET failed_attempts = failed_attempts + 1,
		    consumed_at = CASE WHEN failed_attempts + 1 >= $2::int THEN $3 ELSE consumed_at END
		WHERE code = $1 AND consumed_at IS NULL
		RETURNING consumed_at IS NOT NULL`

	ctx, end := database.TraceQuery(ctx, "RecordFailedTokenAttempt", query)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, query, code, maxAttempts, now).Scan(&burned)
	if errors.Is(err, pgx.ErrNoRows) {
		// Consumed concurrently; nothing left to count against.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("record failed token attempt: %w", err)
	}
	return burned, nil
}

// DeleteExpired removes rows whose expiry is older than before.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (_ int64, err error) {
	query := `DELETE FROM user_tokens WHERE expires_at < $1`

	ctx, end := database.TraceQuery(ctx, "DeleteExpiredTokens", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

// scanToken runs a guarded single-row query. No row is not an error.
func (r *TokenRepository) scanToken(ctx context.Context, query string, args ...any) (*domain.Token, error) {
	var (
		t       domain.Token
		kind    string
		boundIP *string
		payload []byte
	)

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&t.Code,
		&t.OwnerID,
		&kind,
		&t.IssuedAt,
		&t.ExpiresAt,
		&boundIP,
		&payload,
		&t.ConsumedAt,
		&t.FailedAttempts,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}

	t.Kind = domain.ProcessKind(kind)
	if boundIP != nil {
		t.BoundIP = *boundIP
	}
	if t.Payload, err = domain.DecodePayload(t.Kind, payload); err != nil {
		return nil, err
	}
	return &t, nil
}

func kindNames(kinds []domain.ProcessKind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
