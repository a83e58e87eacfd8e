package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// ReadinessCheck probes one dependency. A non-nil return marks the process
// not ready.
type ReadinessCheck func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks map[string]ReadinessCheck
}

func NewHealthHandler(checks map[string]ReadinessCheck) *HealthHandler {
	if checks == nil {
		checks = map[string]ReadinessCheck{}
	}
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/livez", h.Livez)
	app.Get("/readyz", h.Readyz)
}

func (h *HealthHandler) Livez(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *HealthHandler) Readyz(c *fiber.Ctx) error {
	failures := fiber.Map{}
	for name, check := range h.checks {
		if err := check(c.UserContext()); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"checks": failures,
		})
	}

	return c.JSON(fiber.Map{"status": "ok"})
}
