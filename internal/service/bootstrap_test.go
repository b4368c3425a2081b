package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/identity/internal/domain"
	apperrors "github.com/utafrali/identity/pkg/errors"
)

func bootstrapInput() BootstrapInput {
	return BootstrapInput{
		FirstName: "Root",
		LastName:  "Admin",
		Email:     " root@example.com ",
		Password:  "Sup3rSecret",
		ProjectID: 1,
	}
}

func TestBootstrapAdministrator_CreatesAccount(t *testing.T) {
	h := newHarness(t)

	h.projects.On("GetByID", mock.Anything, int64(1)).Return(rootProject(), nil)
	h.accounts.On("GetByEmailAndProject", mock.Anything, "root@example.com", int64(1)).Return(nil, notFound())
	h.accounts.On("Create", mock.Anything, mock.AnythingOfType("*domain.Account"), domain.RoleUser).
		Run(func(args mock.Arguments) {
			args.Get(1).(*domain.Account).ID = 5
		}).
		Return(nil)
	h.roles.On("Grant", mock.Anything, int64(5), domain.RoleAdministrator).Return(nil)

	a, created, err := h.svc.BootstrapAdministrator(context.Background(), bootstrapInput())
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, int64(5), a.ID)
	assert.True(t, a.EmailConfirmed)
	assert.True(t, a.CanLogInWithPassword())
	assert.True(t, passwordMatches(a, "Sup3rSecret"))
	h.roles.AssertExpectations(t)
	assert.Empty(t, h.mailer.messages())
}

func TestBootstrapAdministrator_PromotesExistingAccount(t *testing.T) {
	h := newHarness(t)
	existing := testAccount(t)
	existing.Email = "root@example.com"

	h.projects.On("GetByID", mock.Anything, int64(1)).Return(rootProject(), nil)
	h.accounts.On("GetByEmailAndProject", mock.Anything, "root@example.com", int64(1)).Return(existing, nil)
	h.roles.On("Grant", mock.Anything, existing.ID, domain.RoleAdministrator).Return(nil)

	in := bootstrapInput()
	in.Password = "weak"
	a, created, err := h.svc.BootstrapAdministrator(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Same(t, existing, a)
	assert.True(t, passwordMatches(a, testPassword))
	h.accounts.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestBootstrapAdministrator_RejectsWeakPasswordForNewAccount(t *testing.T) {
	h := newHarness(t)

	h.projects.On("GetByID", mock.Anything, int64(1)).Return(rootProject(), nil)
	h.accounts.On("GetByEmailAndProject", mock.Anything, "root@example.com", int64(1)).Return(nil, notFound())

	in := bootstrapInput()
	in.Password = "weakpass"
	_, _, err := h.svc.BootstrapAdministrator(context.Background(), in)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 422, appErr.Status)
	h.accounts.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestBootstrapAdministrator_UnknownProject(t *testing.T) {
	h := newHarness(t)

	h.projects.On("GetByID", mock.Anything, int64(9)).Return(nil, notFound())

	in := bootstrapInput()
	in.ProjectID = 9
	_, _, err := h.svc.BootstrapAdministrator(context.Background(), in)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
