package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// ErrSessionNotFound is returned for unknown, expired or revoked tokens.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore maps opaque tokens to user ids. Entries expire after the
// configured TTL; expired entries are swept in the background.
type SessionStore struct {
	items *gocache.Cache
	ttl   time.Duration
}

// NewSessionStore creates a store whose sessions live for ttl.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		items: gocache.New(ttl, ttl/2),
		ttl:   ttl,
	}
}

// TTL returns the lifetime of new sessions.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create starts a session for userID and returns its token.
func (s *SessionStore) Create(userID int64) string {
	token := uuid.NewString()
	s.items.Set(token, userID, gocache.DefaultExpiration)
	return token
}

// Lookup resolves a token to the user id it was issued for.
func (s *SessionStore) Lookup(token string) (int64, error) {
	if token == "" {
		return 0, ErrSessionNotFound
	}
	v, ok := s.items.Get(token)
	if !ok {
		return 0, ErrSessionNotFound
	}
	return v.(int64), nil
}

// Revoke ends a session. Unknown tokens are ignored.
func (s *SessionStore) Revoke(token string) {
	s.items.Delete(token)
}
