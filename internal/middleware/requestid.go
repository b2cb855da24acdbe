// Package middleware carries the request-scoped HTTP concerns: request
// identity and the audit access log.
package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestID attaches a stable identifier to every request, honoring one the
// client already sent. The id travels on the response header and in the
// request locals for the audit log.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			c.Set(requestIDHeader, id)
		}
		c.Locals(requestIDHeader, id)
		return c.Next()
	}
}

// GetRequestID returns the request identifier set by RequestID, or "" when the
// middleware did not run.
func GetRequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDHeader).(string)
	return id
}
