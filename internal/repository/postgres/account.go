package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/pkg/database"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

const accountColumns = `id, first_name, last_name, email, password_hash, document_type_id, document_value,
		project_id, default_language, picture, email_confirmed, enabled,
		last_successful_login_at, wrong_login_attempt_count, created_at, updated_at`

// AccountRepository implements repository.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db  database.DBTX
	now func() time.Time
}

// NewAccountRepository creates a new PostgreSQL-backed account repository.
func NewAccountRepository(db database.DBTX) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

// Create inserts the account and its initial role grant in one transaction.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account, roleName string) error {
	insert := `
		INSERT INTO accounts (first_name, last_name, email, password_hash, document_type_id, document_value,
		                      project_id, default_language, picture, email_confirmed, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insert,
			a.FirstName,
			a.LastName,
			a.Email,
			a.PasswordHash,
			a.DocumentTypeID,
			a.DocumentValue,
			a.ProjectID,
			a.DefaultLanguage,
			a.PictureURL,
			a.EmailConfirmed,
			a.Enabled,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.AlreadyExists("User")
			}
			return fmt.Errorf("insert account: %w", err)
		}

		if err := grantRole(ctx, tx, a.ID, roleName); err != nil {
			return err
		}
		return nil
	})
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(ctx, query, id)
}

// GetByEmailAndProject retrieves an account by email within a project.
func (r *AccountRepository) GetByEmailAndProject(ctx context.Context, email string, projectID int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1 AND project_id = $2`
	return r.scanAccount(ctx, query, email, projectID)
}

// UpdatePassword sets the password digest and optionally re-confirms the email.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id int64, digest *string, confirmEmail bool) error {
	query := `
		UPDATE accounts
		SET password_hash = $2,
		    email_confirmed = CASE WHEN $3 THEN TRUE ELSE email_confirmed END,
		    wrong_login_attempt_count = CASE WHEN $3 THEN 0 ELSE wrong_login_attempt_count END,
		    updated_at = $4
		WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, id, digest, confirmEmail, r.now().UTC())
	if err != nil {
		return fmt.Errorf("update account password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// UpdateLoginOutcome records the result of a login attempt.
func (r *AccountRepository) UpdateLoginOutcome(ctx context.Context, id int64, success bool, threshold int) (bool, error) {
	now := r.now().UTC()

	if success {
		query := `
			UPDATE accounts
			SET wrong_login_attempt_count = 0, last_successful_login_at = $2, updated_at = $2
			WHERE id = $1`
		ct, err := r.db.Exec(ctx, query, id, now)
		if err != nil {
			return false, fmt.Errorf("record login success: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return false, apperrors.ErrNotFound
		}
		return false, nil
	}

	query := `
		UPDATE accounts
		SET wrong_login_attempt_count = wrong_login_attempt_count + 1,
		    email_confirmed = CASE
		        WHEN $2::int > 0 AND wrong_login_attempt_count + 1 >= $2::int THEN FALSE
		        ELSE email_confirmed
		    END,
		    updated_at = $3
		WHERE id = $1
		RETURNING $2::int > 0 AND wrong_login_attempt_count = $2::int`

	var locked bool
	if err := r.db.QueryRow(ctx, query, id, threshold, now).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperrors.ErrNotFound
		}
		return false, fmt.Errorf("record login failure: %w", err)
	}
	return locked, nil
}

// scanAccount executes a query expected to return a single account row.
func (r *AccountRepository) scanAccount(ctx context.Context, query string, args ...any) (*domain.Account, error) {
	var a domain.Account

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&a.ID,
		&a.FirstName,
		&a.LastName,
		&a.Email,
		&a.PasswordHash,
		&a.DocumentTypeID,
		&a.DocumentValue,
		&a.ProjectID,
		&a.DefaultLanguage,
		&a.PictureURL,
		&a.EmailConfirmed,
		&a.Enabled,
		&a.LastSuccessfulLoginAt,
		&a.WrongLoginAttemptCount,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	return &a, nil
}

// --- Role Repository ---

// RoleRepository implements repository.RoleRepository using PostgreSQL.
type RoleRepository struct {
	db database.DBTX
}

// NewRoleRepository creates a new PostgreSQL-backed role repository.
func NewRoleRepository(db database.DBTX) *RoleRepository {
	return &RoleRepository{db: db}
}

// RolesOf returns the names of the roles granted to the account.
func (r *RoleRepository) RolesOf(ctx context.Context, accountID int64) ([]string, error) {
	query := `
		SELECT r.name
		FROM account_roles ar
		JOIN roles r ON r.id = ar.role_id
		WHERE ar.account_id = $1
		ORDER BY r.id`

	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("query account roles: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan account roles: %w", err)
	}
	return names, nil
}

// IDByName resolves a role name.
func (r *RoleRepository) IDByName(ctx context.Context, name string) (int64, error) {
	return roleIDByName(ctx, r.db, name)
}

// Grant assigns a role to an account.
func (r *RoleRepository) Grant(ctx context.Context, accountID int64, roleName string) error {
	return grantRole(ctx, r.db, accountID, roleName)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func roleIDByName(ctx context.Context, q querier, name string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.ErrNotFound
		}
		return 0, fmt.Errorf("get role %s: %w", name, err)
	}
	return id, nil
}

func grantRole(ctx context.Context, q querier, accountID int64, roleName string) error {
	roleID, err := roleIDByName(ctx, q, roleName)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO account_roles (account_id, role_id)
		VALUES ($1, $2)
		ON CONFLICT (account_id, role_id) DO NOTHING`
	if _, err := q.Exec(ctx, query, accountID, roleID); err != nil {
		return fmt.Errorf("grant role %s: %w", roleName, err)
	}
	return nil
}
