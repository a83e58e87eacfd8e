package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/observability"
	"github.com/kaanrky/courier/internal/queue"
	"github.com/kaanrky/courier/internal/ratelimit"
	"github.com/kaanrky/courier/internal/repository"
	"github.com/kaanrky/courier/internal/resource"
	"github.com/kaanrky/courier/internal/router"
	"github.com/kaanrky/courier/internal/sender"
	"github.com/kaanrky/courier/internal/tenant"
	"go.uber.org/zap"
)

// ConfigSource resolves tenant snapshots. Satisfied by *tenant.Registry.
type ConfigSource interface {
	Get(tenantID string) (tenant.Config, error)
}

type (
	repoProvider   func(ctx context.Context, tenantID string) (repository.NotificationRepository, error)
	ruleProvider   func(ctx context.Context, tenantID string) (router.RuleSource, error)
	senderProvider func(ctx context.Context, tenantID string, service domain.Service, provider string) (sender.Sender, error)
)

// Delivery result labels for metrics and logs.
const (
	resultSent      = "sent"
	resultFailed    = "failed"
	resultDuplicate = "duplicate"
	resultInflight  = "inflight"
	resultExhausted = "exhausted"
)

// Dispatcher drives one consumed envelope through the delivery state machine:
// claim the record under a row lock, send outside the lock, then finalize.
// Handle is safe to call concurrently from many consumer shards; the claim
// step guarantees at most one of them performs the send.
type Dispatcher struct {
	registry ConfigSource
	repos    repoProvider
	rules    ruleProvider
	senders  senderProvider
	limiter  ratelimit.RateLimiter
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewDispatcher(
	registry ConfigSource,
	resources *resource.Cache,
	limiter ratelimit.RateLimiter,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("tenant registry is required")
	}
	if resources == nil {
		return nil, fmt.Errorf("resource cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
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
		senders: func(ctx context.Context, tenantID string, service domain.Service, provider string) (sender.Sender, error) {
			return resources.Sender(ctx, tenantID, service, provider)
		},
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Handle processes one consumed envelope. A nil return acks the message; an
// error nacks it without requeue. Provider rejections return nil: the record
// is finalized as FAILED and the attempts counter, not broker redelivery,
// owns retries.
func (d *Dispatcher) Handle(ctx context.Context, env queue.Envelope) error {
	logger := d.logger.With(
		zap.String("tenantId", env.TenantID),
		zap.String("messageId", env.MessageID),
		zap.String("service", string(env.Service)),
	)

	cfg, err := d.registry.Get(env.TenantID)
	if err != nil {
		return fmt.Errorf("failed to resolve tenant %s: %w", env.TenantID, err)
	}

	repo, err := d.repos(ctx, env.TenantID)
	if err != nil {
		return fmt.Errorf("failed to acquire tenant database: %w", err)
	}

	claim, record, err := repo.ClaimForDelivery(ctx, env.MessageID, cfg.MaxAttemptsOrDefault())
	if err != nil {
		return err
	}

	switch claim {
	case repository.ClaimNotFound:
		// A message without a record never becomes deliverable; requeueing
		// it would loop forever.
		return fmt.Errorf("%w: no record for message %q", domain.ErrNotFound, env.MessageID)
	case repository.ClaimAlreadySent:
		logger.Info("skipping duplicate delivery: already sent")
		d.metrics.IncDelivery(env.TenantID, string(env.Service), resultDuplicate)
		return nil
	case repository.ClaimInFlight:
		logger.Info("skipping delivery: attempt already in flight")
		d.metrics.IncDelivery(env.TenantID, string(env.Service), resultInflight)
		return nil
	case repository.ClaimExhausted:
		logger.Warn("skipping delivery: max attempts reached")
		d.metrics.IncDelivery(env.TenantID, string(env.Service), resultExhausted)
		return nil
	}

	logger = logger.With(zap.Int("attempt", record.Attempts))

	outcome, sendErr := d.send(ctx, cfg, env, logger)
	if sendErr != nil {
		// A send interrupted by shutdown never reached the provider. Hand the
		// claim back so the attempt is not consumed; the redrive scanner
		// republishes the released record.
		if errors.Is(sendErr, context.Canceled) || errors.Is(sendErr, context.DeadlineExceeded) {
			logger.Info("delivery interrupted, releasing claim", zap.Error(sendErr))
			if err := repo.ReleaseClaim(context.WithoutCancel(ctx), env.MessageID); err != nil {
				logger.Warn("failed to release interrupted claim", zap.Error(err))
			}
			return sendErr
		}

		d.metrics.IncDelivery(env.TenantID, string(env.Service), resultFailed)
		logger.Warn("delivery attempt failed", zap.Error(sendErr))
		if err := repo.MarkFailed(ctx, env.MessageID, sendErr.Error()); err != nil {
			return fmt.Errorf("failed to record delivery failure: %w", err)
		}
		return nil
	}

	if err := repo.MarkSent(ctx, env.MessageID, encodeOutcome(outcome)); err != nil {
		return fmt.Errorf("failed to record delivery success: %w", err)
	}

	d.metrics.IncDelivery(env.TenantID, string(env.Service), resultSent)
	logger.Info("notification delivered",
		zap.String("provider", outcome.Provider),
		zap.String("providerMessageId", outcome.ProviderMessageID),
	)
	return nil
}

// send resolves the provider, applies the tenant rate limit, and performs the
// outbound call. It runs after the claim transaction committed, so no row
// lock is held across provider I/O.
func (d *Dispatcher) send(
	ctx context.Context,
	cfg tenant.Config,
	env queue.Envelope,
	logger *zap.Logger,
) (*sender.Outcome, error) {
	providerID := strings.TrimSpace(env.Provider)
	if providerID == "" {
		rules, err := d.rules(ctx, env.TenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing rules: %w", err)
		}
		providerID, err = router.SelectProvider(ctx, rules, cfg, env.Service, env.Destination)
		if err != nil {
			return nil, err
		}
	}

	if d.limiter != nil {
		key := fmt.Sprintf("%s:%s", env.TenantID, strings.ToLower(string(env.Service)))
		if err := d.limiter.Wait(ctx, key); err != nil {
			return nil, fmt.Errorf("rate limit wait aborted: %w", err)
		}
	}

	s, err := d.senders(ctx, env.TenantID, env.Service, providerID)
	if err != nil {
		return nil, err
	}

	d.metrics.IncDispatchInflight(env.TenantID, string(env.Service))
	defer d.metrics.DecDispatchInflight(env.TenantID, string(env.Service))

	start := time.Now()
	outcome, err := s.Send(ctx, messageFromEnvelope(env))
	d.metrics.ObserveSendDuration(string(env.Service), providerID, time.Since(start))

	if err != nil {
		var sendErr *sender.SendError
		if errors.As(err, &sendErr) {
			logger.Warn("provider rejected delivery",
				zap.String("provider", sendErr.Provider),
				zap.Int("statusCode", sendErr.StatusCode),
			)
		}
		return nil, err
	}

	return outcome, nil
}

func encodeOutcome(outcome *sender.Outcome) string {
	if outcome == nil {
		return ""
	}
	encoded, err := json.Marshal(outcome)
	if err != nil {
		return outcome.Body
	}
	return string(encoded)
}
