package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kaanrky/courier/internal/observability"
)

const correlationHeader = "X-Correlation-ID"

// CorrelationMiddleware propagates the caller's correlation id, minting one
// when absent, and echoes it on the response.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		correlationID := strings.TrimSpace(c.Get(correlationHeader))
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), correlationID))
		c.Set(correlationHeader, correlationID)

		return c.Next()
	}
}
