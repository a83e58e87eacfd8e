package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kaanrky/courier/internal/domain"
	"go.uber.org/zap"
)

const defaultRefreshInterval = time.Minute

// Registry holds the current tenant snapshot. Lookups are lock-cheap reads;
// Refresh replaces the whole map so in-flight readers keep a consistent view.
type Registry struct {
	source   Source
	logger   *zap.Logger
	interval time.Duration

	mu       sync.RWMutex
	snapshot map[string]Config
}

func NewRegistry(source Source, interval time.Duration, logger *zap.Logger) (*Registry, error) {
	if source == nil {
		return nil, fmt.Errorf("tenant source is required")
	}
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		source:   source,
		logger:   logger,
		interval: interval,
		snapshot: map[string]Config{},
	}, nil
}

// Refresh loads a fresh snapshot from the source. A failed refresh keeps the
// previous snapshot.
func (r *Registry) Refresh(ctx context.Context) error {
	configs, err := r.source.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("tenant refresh failed: %w", err)
	}

	next := make(map[string]Config, len(configs))
	for _, cfg := range configs {
		next[cfg.ID] = cfg
	}

	r.mu.Lock()
	r.snapshot = next
	r.mu.Unlock()

	r.logger.Info("tenant registry refreshed", zap.Int("tenants", len(next)))
	return nil
}

// Run refreshes on the configured interval until the context is canceled.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("tenant refresh failed", zap.Error(err))
			}
		}
	}
}

// Get returns the tenant config or ErrConfigNotFound.
func (r *Registry) Get(tenantID string) (Config, error) {
	r.mu.RLock()
	cfg, ok := r.snapshot[tenantID]
	r.mu.RUnlock()

	if !ok {
		return Config{}, fmt.Errorf("%w: tenant %q", domain.ErrConfigNotFound, tenantID)
	}
	return cfg, nil
}

// All returns the current snapshot as a slice.
func (r *Registry) All() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := make([]Config, 0, len(r.snapshot))
	for _, cfg := range r.snapshot {
		configs = append(configs, cfg)
	}
	return configs
}
