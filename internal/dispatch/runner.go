package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/queue"
	"github.com/kaanrky/courier/internal/resource"
	"github.com/kaanrky/courier/internal/tenant"
	"go.uber.org/zap"
)

const defaultReconcileInterval = 30 * time.Second

// Snapshot lists the current tenant set. Satisfied by *tenant.Registry.
type Snapshot interface {
	All() []tenant.Config
}

// Runner keeps one consumer shard alive per tenant and enabled service. The
// shard set is reconciled against the registry snapshot on an interval, so
// tenants added or removed at runtime gain or lose their consumers without a
// restart.
type Runner struct {
	registry   Snapshot
	resources  *resource.Cache
	dispatcher *Dispatcher
	prefetch   int
	interval   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	running map[string]context.CancelFunc
}

func NewRunner(
	registry Snapshot,
	resources *resource.Cache,
	dispatcher *Dispatcher,
	prefetch int,
	interval time.Duration,
	logger *zap.Logger,
) (*Runner, error) {
	if registry == nil {
		return nil, fmt.Errorf("tenant registry is required")
	}
	if resources == nil {
		return nil, fmt.Errorf("resource cache is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if prefetch < 1 {
		prefetch = 1
	}
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		registry:   registry,
		resources:  resources,
		dispatcher: dispatcher,
		prefetch:   prefetch,
		interval:   interval,
		logger:     logger,
		running:    map[string]context.CancelFunc{},
	}, nil
}

// Run blocks until ctx is canceled, then stops every shard and waits for them
// to drain.
func (r *Runner) Run(ctx context.Context) error {
	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.stopAll()
			r.wg.Wait()
			return nil
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Runner) reconcile(ctx context.Context) {
	desired := map[string]shardSpec{}
	for _, cfg := range r.registry.All() {
		for _, service := range cfg.EnabledServices() {
			spec := shardSpec{tenantID: cfg.ID, service: service}
			desired[spec.key()] = spec
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, cancel := range r.running {
		if _, ok := desired[key]; !ok {
			r.logger.Info("stopping consumer shard", zap.String("shard", key))
			cancel()
			delete(r.running, key)
		}
	}

	for key, spec := range desired {
		if _, ok := r.running[key]; ok {
			continue
		}

		shardCtx, cancel := context.WithCancel(ctx)
		r.running[key] = cancel
		r.wg.Add(1)

		go func(spec shardSpec, key string) {
			defer r.wg.Done()
			defer r.forget(key)

			r.logger.Info("starting consumer shard", zap.String("shard", key))
			if err := r.consume(shardCtx, spec); err != nil {
				r.logger.Error("consumer shard exited",
					zap.String("shard", key),
					zap.Error(err),
				)
			}
		}(spec, key)
	}
}

// consume runs one tenant+service consumer until its context ends. Broker
// acquisition failures back off and retry here; transport failures inside
// Consume are retried by the consumer itself.
func (r *Runner) consume(ctx context.Context, spec shardSpec) error {
	backoff := time.Second
	for {
		client, err := r.resources.Broker(ctx, spec.tenantID)
		if err == nil {
			consumer := queue.NewConsumer(client, r.prefetch, r.logger)
			err = consumer.Consume(ctx, spec.service, r.dispatcher.Handle)
		}

		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.logger.Warn("consumer shard retrying",
				zap.String("shard", spec.key()),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (r *Runner) forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.running[key]; ok {
		cancel()
		delete(r.running, key)
	}
}

func (r *Runner) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, cancel := range r.running {
		cancel()
		delete(r.running, key)
	}
}

type shardSpec struct {
	tenantID string
	service  domain.Service
}

func (s shardSpec) key() string {
	return fmt.Sprintf("%s:%s", s.tenantID, s.service)
}
