package domain

import (
	"strings"
	"time"
)

// Account is a user identity scoped to one project. (Email, ProjectID) is unique.
type Account struct {
	ID                     int64      `json:"id"`
	FirstName              string     `json:"firstName"`
	LastName               string     `json:"lastName"`
	Email                  string     `json:"email"`
	PasswordHash           *string    `json:"-"`
	DocumentTypeID         *int       `json:"documentTypeId,omitempty"`
	DocumentValue          *string    `json:"documentValue,omitempty"`
	ProjectID              int64      `json:"projectId"`
	DefaultLanguage        string     `json:"defaultLanguage"`
	PictureURL             string     `json:"picture,omitempty"`
	EmailConfirmed         bool       `json:"emailConfirmed"`
	Enabled                bool       `json:"enabled"`
	LastSuccessfulLoginAt  *time.Time `json:"lastSuccessfulLoginAt,omitempty"`
	WrongLoginAttemptCount int        `json:"wrongLoginAttemptCount"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// DisplayName joins first and last name.
func (a *Account) DisplayName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// CanLogInWithPassword reports whether the account status allows password login.
func (a *Account) CanLogInWithPassword() bool {
	return a.Enabled && a.EmailConfirmed && a.PasswordHash != nil
}

// Project is a tenant. Accounts, roles grants and tokens never cross projects.
type Project struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PictureURL  string `json:"picture,omitempty"`
}

// CallbackContext is the redirect target a client application registered for
// external login results. The secret rotates on every write.
type CallbackContext struct {
	ID           int64     `json:"id"`
	AccountID    int64     `json:"accountId"`
	CallbackURL  string    `json:"clientCallbackUri"`
	ClientSecret string    `json:"clientSecret"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CallbackContextView is a callback context joined with its owner and project.
type CallbackContextView struct {
	CallbackContext
	Email       string `json:"email"`
	ProjectID   int64  `json:"projectId"`
	ProjectName string `json:"projectName"`
}
