package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/kaanrky/courier/internal/observability"
	"github.com/kaanrky/courier/internal/queue"
	"github.com/kaanrky/courier/internal/repository"
	"github.com/kaanrky/courier/internal/resource"
	"github.com/kaanrky/courier/internal/tenant"
	"go.uber.org/zap"
)

const (
	defaultRedriveInterval = 30 * time.Second
	defaultRedriveBatch    = 100
)

// Redriver periodically re-enqueues FAILED records that are still below the
// tenant's attempt ceiling. Records touched within the last interval are left
// alone so a fresh failure gets a cooldown before the next attempt. Provider
// is left empty on the re-published envelope; the dispatcher re-resolves
// routing with current rules.
type Redriver struct {
	registry  Snapshot
	repos     repoProvider
	publish   func(ctx context.Context, tenantID string, env queue.Envelope) error
	interval  time.Duration
	batchSize int
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewRedriver(
	registry Snapshot,
	resources *resource.Cache,
	interval time.Duration,
	batchSize int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Redriver, error) {
	if registry == nil {
		return nil, fmt.Errorf("tenant registry is required")
	}
	if resources == nil {
		return nil, fmt.Errorf("resource cache is required")
	}
	if interval <= 0 {
		interval = defaultRedriveInterval
	}
	if batchSize < 1 {
		batchSize = defaultRedriveBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Redriver{
		registry: registry,
		repos: func(ctx context.Context, tenantID string) (repository.NotificationRepository, error) {
			db, err := resources.Database(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			return repository.NewGormNotificationRepo(db), nil
		},
		publish: func(ctx context.Context, tenantID string, env queue.Envelope) error {
			client, err := resources.Broker(ctx, tenantID)
			if err != nil {
				return err
			}
			return queue.NewPublisher(client).Publish(ctx, env)
		},
		interval:  interval,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run blocks until ctx is canceled, scanning every tenant each interval.
func (r *Redriver) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.scanAll(ctx)
		}
	}
}

func (r *Redriver) scanAll(ctx context.Context) {
	for _, cfg := range r.registry.All() {
		if err := r.scanTenant(ctx, cfg); err != nil {
			r.logger.Warn("redrive scan failed",
				zap.String("tenantId", cfg.ID),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (r *Redriver) scanTenant(ctx context.Context, cfg tenant.Config) error {
	repo, err := r.repos(ctx, cfg.ID)
	if err != nil {
		return err
	}

	cutoff := r.now().Add(-r.interval)
	retryable, err := repo.ListRetryableFailed(ctx, cfg.MaxAttemptsOrDefault(), r.batchSize, cutoff)
	if err != nil {
		return err
	}

	for _, n := range retryable {
		env := queue.Envelope{
			TenantID:    cfg.ID,
			MessageID:   n.MessageID,
			Service:     n.Service,
			Destination: n.Destination,
			Content:     n.Content,
			Timestamp:   r.now().UTC(),
		}
		if n.TemplateID != nil {
			env.TemplateID = *n.TemplateID
		}

		if err := r.publish(ctx, cfg.ID, env); err != nil {
			r.logger.Warn("failed to re-enqueue notification",
				zap.String("tenantId", cfg.ID),
				zap.String("messageId", n.MessageID),
				zap.Error(err),
			)
			continue
		}

		r.metrics.IncRedriveEnqueued(cfg.ID, string(n.Service))
		r.logger.Info("re-enqueued failed notification",
			zap.String("tenantId", cfg.ID),
			zap.String("messageId", n.MessageID),
			zap.Int("attempts", n.Attempts),
		)
	}

	return nil
}
