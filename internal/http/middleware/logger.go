package middleware

import (
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"securedocs/internal/logging"
)

// Logger is a middleware that logs each HTTP request as one JSON line.
// Fields:
// - request_id (taken from context locals set by RequestID middleware)
// - method
// - path
// - status
// - latency (in milliseconds, as float)
// - user_id when a session principal is attached
func Logger(log *logging.Logger) fiber.Handler {
	log = log.With("http")

	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		rid, _ := c.Locals(RequestIDLocalKey).(string)
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		fields := map[string]any{
			"request_id": rid,
			"method":     c.Method(),
			// Path only; page tokens never travel in the query string.
			"path":    c.Path(),
			"status":  status,
			"latency": float64(time.Since(start).Microseconds()) / 1000,
		}
		if p := PrincipalFrom(c); p != nil {
			fields["user_id"] = p.ID
		}
		log.Info("http_request", fields)

		return err
	}
}

// LoggerWithWriter logs requests to w with timestamps in loc.
func LoggerWithWriter(w io.Writer, loc *time.Location) fiber.Handler {
	return Logger(logging.New(w, loc))
}
