package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"

	"mailsense/core/port/out"
)

// HealthHandler reports process and dependency health. No auth: load
// balancers and uptime checks hit it directly.
type HealthHandler struct {
	db      *sqlx.DB
	llm     out.LLMPort
	version string
}

func NewHealthHandler(db *sqlx.DB, llm out.LLMPort, version string) *HealthHandler {
	return &HealthHandler{db: db, llm: llm, version: version}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	deps := make(map[string]string)
	ok := true

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			deps["storage"] = "unhealthy"
			ok = false
		} else {
			deps["storage"] = "healthy"
		}
	} else {
		deps["storage"] = "not configured"
		ok = false
	}

	// A degraded LLM does not fail health: the deterministic tiers and the
	// fallback keep the service useful.
	if h.llm != nil {
		if err := h.llm.Ping(ctx); err != nil {
			deps["llm"] = "unhealthy"
		} else {
			deps["llm"] = "healthy"
		}
	} else {
		deps["llm"] = "not configured"
	}

	status := fiber.StatusOK
	if !ok {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"ok":        ok,
		"version":   h.version,
		"deps":      deps,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
