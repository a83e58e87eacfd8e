package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/observability"
	"go.uber.org/zap"
)

// StatusFromError maps the domain error taxonomy to HTTP status codes.
func StatusFromError(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrPolicyViolation),
		errors.Is(err, domain.ErrUnresolvedDestination):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrConnectionFailed):
		return fiber.StatusServiceUnavailable
	default:
		// ErrConfigNotFound is an operator problem, not a caller problem.
		return fiber.StatusInternalServerError
	}
}

// NewErrorHandler is the fiber app-level error handler. It keeps the JSON
// error shape uniform across every route.
func NewErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		status := StatusFromError(err)

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}

		fields := append([]zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		}, observability.ContextFields(c.UserContext())...)

		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Warn("request rejected", fields...)
		}

		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
