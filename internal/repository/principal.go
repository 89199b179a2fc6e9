package repository

import (
	"context"

	"securedocs/internal/model"
)

// PrincipalRepository loads and stores users, their groups and login records.
type PrincipalRepository interface {
	// FindByID returns the user with its current group memberships.
	FindByID(ctx context.Context, id int64) (*model.Principal, error)

	// FindCredentials returns the login record for a username.
	FindCredentials(ctx context.Context, username string) (*model.Credentials, error)

	// Create inserts a user with the given password hash and group memberships.
	Create(ctx context.Context, p *model.Principal, passwordHash string) (*model.Principal, error)

	// EnsureGroup returns the id of the named group, creating it if needed.
	EnsureGroup(ctx context.Context, name string) (int64, error)
}
