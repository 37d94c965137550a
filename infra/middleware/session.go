package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kamiwaza-drew/tool-email-mcp/core/service/emailops"
	"github.com/kamiwaza-drew/tool-email-mcp/internal/session"
)

const (
	localsOperations = "email_operations"
	localsSessionID  = "session_id"
)

// SessionResolver binds each request to an orchestrator. A valid
// bearer token selects the caller's session; no token falls back to
// the process default. An invalid or expired token is an error rather
// than a silent fallback.
func SessionResolver(mgr *session.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			c.Locals(localsOperations, mgr.Default())
			return c.Next()
		}

		sessionID, ops, err := mgr.Resolve(c.Context(), token)
		if err != nil {
			return err
		}
		c.Locals(localsSessionID, sessionID)
		c.Locals(localsOperations, ops)
		return c.Next()
	}
}

// Operations returns the orchestrator bound to this request.
func Operations(c *fiber.Ctx) *emailops.Operations {
	ops, _ := c.Locals(localsOperations).(*emailops.Operations)
	return ops
}

// SessionID returns the session bound to this request, or "".
func SessionID(c *fiber.Ctx) string {
	id, _ := c.Locals(localsSessionID).(string)
	return id
}

func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Query("token")
}
