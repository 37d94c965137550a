package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kamiwaza-drew/tool-email-mcp/internal/session"
	"github.com/kamiwaza-drew/tool-email-mcp/pkg/metrics"
)

type HealthHandler struct {
	redis *redis.Client
	mgr   *session.Manager
}

func NewHealthHandler(redisClient *redis.Client, mgr *session.Manager) *HealthHandler {
	return &HealthHandler{redis: redisClient, mgr: mgr}
}

func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	app.Get("/metrics", h.Metrics)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	payload := fiber.Map{
		"status": status,
		"checks": checks,
	}
	if h.mgr != nil {
		payload["sessions"] = h.mgr.SessionCount()
	}
	return c.Status(statusCode).JSON(payload)
}

// Metrics reports per-tool latency percentiles over a sliding window.
func (h *HealthHandler) Metrics(c *fiber.Ctx) error {
	stats := metrics.GetAllLatencyStats()
	out := make(map[string]any, len(stats))
	for op, s := range stats {
		out[op] = s.ToMap()
	}
	return c.JSON(fiber.Map{"tools": out})
}
