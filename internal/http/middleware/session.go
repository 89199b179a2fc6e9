package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"securedocs/internal/auth"
	"securedocs/internal/model"
)

// PrincipalLocalKey is the key under which RequireSession stores the *model.Principal.
const PrincipalLocalKey = "principal"

// PrincipalResolver turns a session token into the current principal.
type PrincipalResolver interface {
	Principal(ctx context.Context, token string) (*model.Principal, error)
}

// SessionToken extracts the session token from an "Authorization: Bearer"
// header or, failing that, from the named cookie.
func SessionToken(c *fiber.Ctx, cookieName string) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
	}
	return c.Cookies(cookieName)
}

// RequireSession rejects requests without a valid session with 401 and
// otherwise stores the freshly loaded principal in the context locals.
func RequireSession(r PrincipalResolver, cookieName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := SessionToken(c, cookieName)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
		}
		p, err := r.Principal(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, auth.ErrSessionNotFound) {
				return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
			}
			return err
		}
		c.Locals(PrincipalLocalKey, p)
		return c.Next()
	}
}

// PrincipalFrom returns the principal attached by RequireSession, or nil.
func PrincipalFrom(c *fiber.Ctx) *model.Principal {
	p, _ := c.Locals(PrincipalLocalKey).(*model.Principal)
	return p
}
