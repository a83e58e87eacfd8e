package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/observability"
	"github.com/kaanrky/courier/internal/queue"
	"github.com/kaanrky/courier/internal/repository"
	"github.com/kaanrky/courier/internal/resource"
	"github.com/kaanrky/courier/internal/router"
	"github.com/kaanrky/courier/internal/tenant"
	"go.uber.org/zap"
)

// ConfigSource resolves tenant snapshots. Satisfied by *tenant.Registry.
type ConfigSource interface {
	Get(tenantID string) (tenant.Config, error)
}

type publisher interface {
	Publish(ctx context.Context, env queue.Envelope) error
}

type (
	repoProvider      func(ctx context.Context, tenantID string) (repository.NotificationRepository, error)
	ruleProvider      func(ctx context.Context, tenantID string) (router.RuleSource, error)
	publisherProvider func(ctx context.Context, tenantID string) (publisher, error)
)

// SubmitRequest is one validated-by-policy notification submission.
type SubmitRequest struct {
	Service     domain.Service
	Destination string
	Content     domain.Content
	TemplateID  string
	FileID      string
}

// Gateway is the producer-side persist-then-publish handoff: the record
// exists as PENDING before the broker sees the message, so a consumer never
// observes a delivery without a matching record.
type Gateway struct {
	registry ConfigSource
	repos    repoProvider
	rules    ruleProvider
	brokers  publisherProvider
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	newID    func() string
}

func NewGateway(
	registry ConfigSource,
	resources *resource.Cache,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Gateway, error) {
	if registry == nil {
		return nil, fmt.Errorf("tenant registry is required")
	}
	if resources == nil {
		return nil, fmt.Errorf("resource cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		registry: registry,
		repos: func(ctx context.Context, tenantID string) (repository.NotificationRepository, error) {
			db, err := resources.Database(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			return repository.NewGormNotificationRepo(db), nil
		},
		rules: func(ctx context.Context, tenantID string) (router.RuleSource, error) {
			db, err := resources.Database(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			return repository.NewGormRoutingRuleRepo(db), nil
		},
		brokers: func(ctx context.Context, tenantID string) (publisher, error) {
			client, err := resources.Broker(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			return queue.NewPublisher(client), nil
		},
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Submit validates tenant policy, persists the PENDING record, then queues
// the envelope. The returned messageId is stable as soon as the record is
// committed, even when the publish afterwards fails.
func (g *Gateway) Submit(ctx context.Context, tenantID string, req SubmitRequest) (string, error) {
	cfg, err := g.registry.Get(tenantID)
	if err != nil {
		return "", err
	}

	svcCfg, enabled := cfg.Service(req.Service)
	if !enabled {
		return "", fmt.Errorf("%w: service %s is not enabled for tenant %s", domain.ErrPolicyViolation, req.Service, tenantID)
	}

	notification := &domain.Notification{
		ID:          g.newID(),
		MessageID:   g.newID(),
		Service:     req.Service,
		Destination: strings.TrimSpace(req.Destination),
		Content:     req.Content,
		Status:      domain.StatusPending,
		Attempts:    0,
	}
	if trimmed := strings.TrimSpace(req.TemplateID); trimmed != "" {
		notification.TemplateID = &trimmed
	}

	if err := notification.Validate(); err != nil {
		return "", err
	}
	if err := router.ApplyGuard(req.Service, &notification.Content, svcCfg); err != nil {
		return "", err
	}

	rules, err := g.rules(ctx, tenantID)
	if err != nil {
		return "", err
	}
	providerID, err := router.SelectProvider(ctx, rules, cfg, req.Service, notification.Destination)
	if err != nil {
		return "", err
	}

	repo, err := g.repos(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if err := repo.Create(ctx, notification); err != nil {
		return "", err
	}

	env := queue.Envelope{
		TenantID:    tenantID,
		MessageID:   notification.MessageID,
		Service:     notification.Service,
		Destination: notification.Destination,
		Content:     notification.Content,
		Provider:    providerID,
		TemplateID:  req.TemplateID,
		FileID:      req.FileID,
		Timestamp:   g.now().UTC(),
	}

	pub, err := g.brokers(ctx, tenantID)
	if err == nil {
		err = pub.Publish(ctx, env)
	}
	if err != nil {
		// Persisted but not queued: compensate with a best-effort FAILED
		// update. Not auto-retried; the redrive scanner or an operator owns
		// reprocessing.
		g.metrics.IncPublishFailure(tenantID, string(req.Service))
		g.logger.Error("failed to publish notification",
			zap.String("tenantId", tenantID),
			zap.String("messageId", notification.MessageID),
			zap.String("service", string(req.Service)),
			zap.Error(err),
		)
		if markErr := repo.MarkFailed(ctx, notification.MessageID, fmt.Sprintf("publish failed: %v", err)); markErr != nil {
			g.logger.Error("failed to mark notification failed after publish error",
				zap.String("messageId", notification.MessageID),
				zap.Error(markErr),
			)
		}
		return notification.MessageID, fmt.Errorf("failed to publish notification: %w", err)
	}

	g.metrics.IncSubmitted(tenantID, string(req.Service))
	return notification.MessageID, nil
}

// Status returns the record for one messageId.
func (g *Gateway) Status(ctx context.Context, tenantID, messageID string) (*domain.Notification, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, fmt.Errorf("%w: messageId is required", domain.ErrValidation)
	}

	repo, err := g.repos(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return repo.GetByMessageID(ctx, strings.TrimSpace(messageID))
}

// Logs lists a tenant's records with filters and pagination.
func (g *Gateway) Logs(ctx context.Context, tenantID string, params repository.ListParams) ([]domain.Notification, int64, error) {
	repo, err := g.repos(ctx, tenantID)
	if err != nil {
		return nil, 0, err
	}
	return repo.List(ctx, params)
}
