package repository

import (
	"context"
	"time"

	"github.com/utafrali/identity/internal/domain"
)

// AccountRepository defines the interface for account persistence operations.
// Lookups return apperrors.ErrNotFound when no row matches.
type AccountRepository interface {
	// Create inserts the account and grants it roleName in one transaction.
	// It fills in the generated id and timestamps.
	Create(ctx context.Context, account *domain.Account, roleName string) error

	// GetByID retrieves an account by its identifier.
	GetByID(ctx context.Context, id int64) (*domain.Account, error)

	// GetByEmailAndProject retrieves the account registered with email in projectID.
	GetByEmailAndProject(ctx context.Context, email string, projectID int64) (*domain.Account, error)

	// UpdatePassword replaces the password digest. A nil digest clears it.
	// When confirmEmail is set the email is marked confirmed and the failed
	// login counter is reset in the same statement.
	UpdatePassword(ctx context.Context, id int64, digest *string, confirmEmail bool) error

	// UpdateLoginOutcome records a login attempt. Success resets the failure
	// counter and stamps the login time. Failure increments the counter and,
	// when threshold is positive and reached, clears email confirmation.
	// locked reports whether this call crossed the threshold.
	UpdateLoginOutcome(ctx context.Context, id int64, success bool, threshold int) (locked bool, err error)
}

// RoleRepository defines the interface for role assignment operations.
type RoleRepository interface {
	// RolesOf returns the role names held by the account.
	RolesOf(ctx context.Context, accountID int64) ([]string, error)

	// IDByName resolves a role name to its identifier.
	IDByName(ctx context.Context, name string) (int64, error)

	// Grant assigns the named role to the account. Granting a held role is a no-op.
	Grant(ctx context.Context, accountID int64, roleName string) error
}

// TokenRepository is the token ledger. Every read is guarded by the same
// redeemability predicate: unconsumed, not expired at now, unbound or bound to
// ip, and of one of the requested kinds. Absent tokens are (nil, nil).
type TokenRepository interface {
	// Create persists a new ledger row.
	Create(ctx context.Context, token *domain.Token) error

	// Lookup returns a redeemable token without consuming it.
	Lookup(ctx context.Context, code, ip string, now time.Time, kinds ...domain.ProcessKind) (*domain.Token, error)

	// Consume marks a redeemable token consumed and returns it, as a single
	// atomic statement. Of two concurrent calls for one code, at most one
	// observes the token.
	Consume(ctx context.Context, code, ip string, now time.Time, kinds ...domain.ProcessKind) (*domain.Token, error)

	// RecordFailedAttempt counts a wrong companion value against the token and
	// consumes it once maxAttempts is reached. burned reports that.
	RecordFailedAttempt(ctx context.Context, code string, maxAttempts int, now time.Time) (burned bool, err error)

	// DeleteExpired removes rows that expired before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ProjectRepository defines read access to tenants.
type ProjectRepository interface {
	// GetByID retrieves a project by its identifier.
	GetByID(ctx context.Context, id int64) (*domain.Project, error)
}

// CallbackContextRepository defines the interface for callback context persistence.
type CallbackContextRepository interface {
	// Replace deletes the account's context, if any, and inserts c in one
	// transaction. It fills in the generated id and creation time.
	Replace(ctx context.Context, c *domain.CallbackContext) error

	// GetBySecret retrieves the enabled context owning the client secret.
	GetBySecret(ctx context.Context, secret string) (*domain.CallbackContextView, error)

	// GetByAccount retrieves the enabled context of an account in projectID.
	GetByAccount(ctx context.Context, accountID, projectID int64) (*domain.CallbackContextView, error)
}
