package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/gateway"
	"github.com/kaanrky/courier/internal/observability"
	"github.com/kaanrky/courier/internal/repository"
	"github.com/kaanrky/courier/internal/transport"
	"go.uber.org/zap"
)

const tenantHeader = "X-Tenant-ID"

type notifyRequest struct {
	Service     string         `json:"service"`
	Destination string         `json:"destination"`
	Content     domain.Content `json:"content"`
	TemplateID  string         `json:"templateId"`
	FileID      string         `json:"fileId"`
}

type notificationResponse struct {
	MessageID         string    `json:"messageId"`
	Service           string    `json:"service"`
	Destination       string    `json:"destination"`
	Status            string    `json:"status"`
	Attempts          int       `json:"attempts"`
	ConnectorResponse string    `json:"connectorResponse,omitempty"`
	TemplateID        string    `json:"templateId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// NotificationService is the gateway surface the handler needs. Satisfied by
// *gateway.Gateway.
type NotificationService interface {
	Submit(ctx context.Context, tenantID string, req gateway.SubmitRequest) (string, error)
	Status(ctx context.Context, tenantID, messageID string) (*domain.Notification, error)
	Logs(ctx context.Context, tenantID string, params repository.ListParams) ([]domain.Notification, int64, error)
}

// NotifyHandler exposes the tenant-facing notification API.
type NotifyHandler struct {
	gateway NotificationService
	logger  *zap.Logger
}

func NewNotifyHandler(gw NotificationService, logger *zap.Logger) (*NotifyHandler, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyHandler{gateway: gw, logger: logger}, nil
}

func (h *NotifyHandler) Register(app *fiber.App) {
	app.Post("/notify", h.Notify)
	app.Get("/delivery-status/:messageId", h.DeliveryStatus)
	app.Get("/logs", h.Logs)
}

// Notify accepts one submission and answers 202 with the messageId once the
// record is persisted and queued.
func (h *NotifyHandler) Notify(c *fiber.Ctx) error {
	tenantID, err := tenantFromRequest(c)
	if err != nil {
		return err
	}

	var req notifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}

	service, err := domain.ParseServiceFromString(req.Service)
	if err != nil {
		return err
	}

	messageID, err := h.gateway.Submit(c.UserContext(), tenantID, gateway.SubmitRequest{
		Service:     service,
		Destination: req.Destination,
		Content:     req.Content,
		TemplateID:  req.TemplateID,
		FileID:      req.FileID,
	})
	if err != nil {
		// A failed publish still committed the record; return the stable
		// messageId so the caller can poll or retry with context.
		if messageID != "" {
			return c.Status(transport.StatusFromError(err)).JSON(fiber.Map{
				"error":     err.Error(),
				"messageId": messageID,
			})
		}
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"messageId": messageID,
	})
}

// DeliveryStatus returns the lifecycle state for one messageId.
func (h *NotifyHandler) DeliveryStatus(c *fiber.Ctx) error {
	tenantID, err := tenantFromRequest(c)
	if err != nil {
		return err
	}

	notification, err := h.gateway.Status(c.UserContext(), tenantID, c.Params("messageId"))
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"messageId": notification.MessageID,
		"status":    notification.Status.String(),
	})
}

// Logs lists the tenant's notification records with optional filters.
func (h *NotifyHandler) Logs(c *fiber.Ctx) error {
	tenantID, err := tenantFromRequest(c)
	if err != nil {
		return err
	}

	params, err := listParamsFromQuery(c)
	if err != nil {
		return err
	}

	notifications, total, err := h.gateway.Logs(c.UserContext(), tenantID, params)
	if err != nil {
		return err
	}

	items := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		items = append(items, toNotificationResponse(&notifications[i]))
	}

	return c.JSON(fiber.Map{
		"items": items,
		"total": total,
	})
}

func tenantFromRequest(c *fiber.Ctx) (string, error) {
	tenantID := strings.TrimSpace(c.Get(tenantHeader))
	if tenantID == "" {
		return "", fmt.Errorf("%w: %s header is required", domain.ErrValidation, tenantHeader)
	}

	c.SetUserContext(observability.WithTenantID(c.UserContext(), tenantID))
	return tenantID, nil
}

func listParamsFromQuery(c *fiber.Ctx) (repository.ListParams, error) {
	var params repository.ListParams

	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseStatusFromString(raw)
		if err != nil {
			return params, err
		}
		params.Status = &status
	}

	if raw := strings.TrimSpace(c.Query("service")); raw != "" {
		service, err := domain.ParseServiceFromString(raw)
		if err != nil {
			return params, err
		}
		params.Service = &service
	}

	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return params, fmt.Errorf("%w: invalid from timestamp %q", domain.ErrValidation, raw)
		}
		params.From = &from
	}

	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return params, fmt.Errorf("%w: invalid to timestamp %q", domain.ErrValidation, raw)
		}
		params.To = &to
	}

	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return params, fmt.Errorf("%w: invalid page %q", domain.ErrValidation, raw)
		}
		params.Page = page
	}

	if raw := strings.TrimSpace(c.Query("pageSize")); raw != "" {
		pageSize, err := strconv.Atoi(raw)
		if err != nil || pageSize < 1 {
			return params, fmt.Errorf("%w: invalid pageSize %q", domain.ErrValidation, raw)
		}
		params.PageSize = pageSize
	}

	return params, nil
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	resp := notificationResponse{
		MessageID:         n.MessageID,
		Service:           n.Service.String(),
		Destination:       n.Destination,
		Status:            n.Status.String(),
		Attempts:          n.Attempts,
		ConnectorResponse: n.ConnectorResponse,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
	if n.TemplateID != nil {
		resp.TemplateID = *n.TemplateID
	}
	return resp
}
