package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/identity/internal/domain"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

func TestCallbackContextRepository_Replace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewCallbackContextRepository(mock)

	c := &domain.CallbackContext{AccountID: 10, CallbackURL: "https://app.example.com/cb", ClientSecret: "s3cr3t", Enabled: true}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM callback_contexts WHERE account_id").
		WithArgs(int64(10)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery("INSERT INTO callback_contexts").
		WithArgs(int64(10), c.CallbackURL, "s3cr3t", true).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(5), fixedNow))
	mock.ExpectCommit()

	require.NoError(t, repo.Replace(context.Background(), c))
	assert.Equal(t, int64(5), c.ID)
	assert.Equal(t, fixedNow, c.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallbackContextRepository_Replace_InsertFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewCallbackContextRepository(mock)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM callback_contexts").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery("INSERT INTO callback_contexts").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = repo.Replace(context.Background(), &domain.CallbackContext{AccountID: 10})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallbackContextRepository_GetBySecret(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewCallbackContextRepository(mock)

	rows := pgxmock.NewRows([]string{"id", "account_id", "callback_url", "client_secret", "enabled", "created_at", "email", "project_id", "name"}).
		AddRow(int64(5), int64(10), "https://app.example.com/cb", "s3cr3t", true, fixedNow, "app@example.com", int64(2), "shop")
	mock.ExpectQuery("(?s)FROM callback_contexts c\\s.+ AND c.client_secret =").
		WithArgs("s3cr3t").
		WillReturnRows(rows)

	got, err := repo.GetBySecret(context.Background(), "s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/cb", got.CallbackURL)
	assert.Equal(t, int64(2), got.ProjectID)
	assert.Equal(t, "shop", got.ProjectName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallbackContextRepository_GetByAccount_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewCallbackContextRepository(mock)

	mock.ExpectQuery("(?s)FROM callback_contexts c\\s.+ AND c.account_id = .+ AND a.project_id =").
		WithArgs(int64(10), int64(2)).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetByAccount(context.Background(), 10, 2)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestProjectRepository_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewProjectRepository(mock)

	mock.ExpectQuery("FROM projects").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "picture"}).AddRow(int64(1), "root", "Root project", ""))

	p, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, &domain.Project{ID: 1, Name: "root", Description: "Root project"}, p)

	mock.ExpectQuery("FROM projects").
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetByID(context.Background(), 9)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
