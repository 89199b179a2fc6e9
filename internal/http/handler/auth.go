package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"securedocs/internal/access"
	"securedocs/internal/auth"
	"securedocs/internal/http/middleware"
	"securedocs/internal/model"
)

// Authenticator is the login surface the handlers need.
type Authenticator interface {
	middleware.PrincipalResolver
	Login(ctx context.Context, username, password string) (string, *model.Principal, error)
	Logout(token string)
}

// SessionSettings controls the session cookie.
type SessionSettings struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      map[string]any `json:"user"`
}

// Login exchanges a username and password for a session token. The token is
// returned in the body and set as an HTTP-only cookie.
//
// @Summary  Log in
// @Tags     auth
// @Accept   json
// @Produce  json
// @Param    credentials body loginRequest true "Username and password"
// @Success  200 {object} loginResponse
// @Failure  400 {object} errorPayload
// @Failure  401 {object} errorPayload
// @Router   /login [post]
func Login(a Authenticator, s SessionSettings) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req loginRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}

		token, p, err := a.Login(c.UserContext(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				return writeError(c, fiber.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}

		expires := time.Now().Add(s.TTL)
		c.Cookie(&fiber.Cookie{
			Name:     s.CookieName,
			Value:    token,
			Path:     "/",
			Expires:  expires,
			HTTPOnly: true,
			Secure:   s.Secure,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
		return c.JSON(loginResponse{
			Token:     token,
			ExpiresAt: expires.UTC(),
			User:      access.ProjectUser(p, *p),
		})
	}
}

// Logout revokes the caller's session, if any, and clears the cookie.
//
// @Summary  Log out
// @Tags     auth
// @Success  204
// @Router   /logout [post]
func Logout(a Authenticator, s SessionSettings) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := middleware.SessionToken(c, s.CookieName); token != "" {
			a.Logout(token)
		}
		c.ClearCookie(s.CookieName)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// Me returns the caller's own profile.
//
// @Summary   Current user
// @Tags      auth
// @Produce   json
// @Security  BearerAuth
// @Success   200 {object} map[string]any
// @Failure   401 {object} errorPayload
// @Router    /me [get]
func Me() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := middleware.PrincipalFrom(c)
		if p == nil {
			return fiber.ErrUnauthorized
		}
		return c.JSON(access.ProjectUser(p, *p))
	}
}
