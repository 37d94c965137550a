package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kamiwaza-drew/tool-email-mcp/core/domain"
	"github.com/kamiwaza-drew/tool-email-mcp/infra/middleware"
	"github.com/kamiwaza-drew/tool-email-mcp/internal/session"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/apperr"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/response"
)

// SessionHandler manages per-caller sessions: connect configures a
// provider and issues a bearer token scoped to a fresh session.
type SessionHandler struct {
	mgr *session.Manager
}

func NewSessionHandler(mgr *session.Manager) *SessionHandler {
	return &SessionHandler{mgr: mgr}
}

func (h *SessionHandler) Register(app fiber.Router) {
	app.Post("/session/connect", h.Connect)
	app.Get("/session/status", h.Status)
	app.Post("/session/logout", h.Logout)
}

type connectRequest struct {
	Provider    string            `json:"provider"`
	Credentials map[string]string `json:"credentials"`
}

func (h *SessionHandler) Connect(c *fiber.Ctx) error {
	var req connectRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	sessionID, token, result, err := h.mgr.Connect(c.Context(), req.Provider, domain.Credentials(req.Credentials))
	if err != nil {
		return err
	}

	return response.OK(c, fiber.Map{
		"session_id": sessionID,
		"token":      token,
		"provider":   result.Provider,
		"message":    result.Message,
	})
}

func (h *SessionHandler) Status(c *fiber.Ctx) error {
	ops := middleware.Operations(c)
	if ops == nil {
		ops = h.mgr.Default()
	}

	status := fiber.Map{
		"configured": ops.Configured(),
		"sessions":   h.mgr.SessionCount(),
	}
	if ops.Configured() {
		status["provider"] = string(ops.ActiveProvider())
	}
	if sessionID := middleware.SessionID(c); sessionID != "" {
		status["session_id"] = sessionID
	}
	return response.OK(c, status)
}

func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	sessionID := middleware.SessionID(c)
	if sessionID == "" {
		return apperr.Unauthorized("logout requires a session token")
	}
	if err := h.mgr.Logout(c.Context(), sessionID); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"message": "session closed"})
}
