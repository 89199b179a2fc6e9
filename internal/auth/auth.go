// Package auth handles password login and session tokens.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"securedocs/internal/model"
	"securedocs/internal/repository"
)

// ErrInvalidCredentials covers unknown users, wrong passwords and inactive accounts alike.
var ErrInvalidCredentials = errors.New("invalid username or password")

// dummyHash keeps the cost of a failed lookup close to a real comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("securedocs-dummy-password"), bcrypt.DefaultCost)

// Authenticator verifies credentials and resolves sessions to principals.
type Authenticator struct {
	users    repository.PrincipalRepository
	sessions *SessionStore
}

// NewAuthenticator wires the user repository and session store.
func NewAuthenticator(users repository.PrincipalRepository, sessions *SessionStore) *Authenticator {
	return &Authenticator{users: users, sessions: sessions}
}

// Sessions returns the underlying session store.
func (a *Authenticator) Sessions() *SessionStore {
	return a.sessions
}

// Login checks the password and opens a session for an active user.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, *model.Principal, error) {
	if username == "" || password == "" {
		return "", nil, ErrInvalidCredentials
	}
	creds, err := a.users.FindCredentials(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("load credentials: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if !creds.IsActive {
		return "", nil, ErrInvalidCredentials
	}

	p, err := a.users.FindByID(ctx, creds.UserID)
	if err != nil {
		return "", nil, fmt.Errorf("load principal: %w", err)
	}
	return a.sessions.Create(p.ID), p, nil
}

// Logout revokes the session token.
func (a *Authenticator) Logout(token string) {
	a.sessions.Revoke(token)
}

// Principal resolves a session token to a freshly loaded principal.
// Deactivated or deleted users lose their session immediately.
func (a *Authenticator) Principal(ctx context.Context, token string) (*model.Principal, error) {
	userID, err := a.sessions.Lookup(token)
	if err != nil {
		return nil, err
	}
	p, err := a.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			a.sessions.Revoke(token)
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load principal: %w", err)
	}
	if !p.IsActive {
		a.sessions.Revoke(token)
		return nil, ErrSessionNotFound
	}
	return p, nil
}

// HashPassword returns the bcrypt hash stored for a user.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
