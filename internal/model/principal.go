package model

import "time"

// Principal is an authenticated user as seen by the document core.
// It is loaded fresh for every request; group membership can change at any time.
type Principal struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	IsStaff     bool      `json:"is_staff"`
	IsSuperuser bool      `json:"is_superuser"`
	IsActive    bool      `json:"is_active"`
	Groups      []int64   `json:"groups"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsAdmin reports whether the principal bypasses document ACLs.
func (p *Principal) IsAdmin() bool {
	return p != nil && (p.IsStaff || p.IsSuperuser)
}

// Credentials is the login record of a user. It never leaves the auth layer.
type Credentials struct {
	UserID       int64
	Username     string
	PasswordHash string
	IsActive     bool
}

// Group is a named set of users that can be granted access to documents.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
