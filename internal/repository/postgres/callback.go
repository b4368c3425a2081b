package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/pkg/database"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

const callbackViewQuery = `
		SELECT c.id, c.account_id, c.callback_url, c.client_secret, c.enabled, c.created_at,
		       a.email, a.project_id, p.name
		FROM callback_contexts c
		JOIN accounts a ON a.id = c.account_id
		JOIN projects p ON p.id = a.project_id
		WHERE c.enabled`

// CallbackContextRepository implements repository.CallbackContextRepository using PostgreSQL.
type CallbackContextRepository struct {
	db database.DBTX
}

// NewCallbackContextRepository creates a new PostgreSQL-backed callback context repository.
func NewCallbackContextRepository(db database.DBTX) *CallbackContextRepository {
	return &CallbackContextRepository{db: db}
}

// Replace drops the account's previous context and inserts c.
func (r *CallbackContextRepository) Replace(ctx context.Context, c *domain.CallbackContext) error {
	insert := `
		INSERT INTO callback_contexts (account_id, callback_url, client_secret, enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM callback_contexts WHERE account_id = $1`, c.AccountID); err != nil {
			return fmt.Errorf("delete callback context: %w", err)
		}
		err := tx.QueryRow(ctx, insert, c.AccountID, c.CallbackURL, c.ClientSecret, c.Enabled).
			Scan(&c.ID, &c.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert callback context: %w", err)
		}
		return nil
	})
}

// GetBySecret retrieves a context by its client secret.
func (r *CallbackContextRepository) GetBySecret(ctx context.Context, secret string) (*domain.CallbackContextView, error) {
	return r.scanView(ctx, callbackViewQuery+` AND c.client_secret = $1`, secret)
}

// GetByAccount retrieves the context of an account within a project.
func (r *CallbackContextRepository) GetByAccount(ctx context.Context, accountID, projectID int64) (*domain.CallbackContextView, error) {
	return r.scanView(ctx, callbackViewQuery+` AND c.account_id = $1 AND a.project_id = $2`, accountID, projectID)
}

func (r *CallbackContextRepository) scanView(ctx context.Context, query string, args ...any) (*domain.CallbackContextView, error) {
	var v domain.CallbackContextView
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&v.ID,
		&v.AccountID,
		&v.CallbackURL,
		&v.ClientSecret,
		&v.Enabled,
		&v.CreatedAt,
		&v.Email,
		&v.ProjectID,
		&v.ProjectName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan callback context: %w", err)
	}
	return &v, nil
}
