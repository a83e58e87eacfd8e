package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/infra/postgresql"
	"github.com/kaanrky/courier/internal/queue"
	"github.com/kaanrky/courier/internal/sender"
	"github.com/kaanrky/courier/internal/tenant"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Kind names a cached resource class.
type Kind string

const (
	KindDatabase Kind = "db"
	KindBroker   Kind = "broker"
	KindSender   Kind = "sender"
)

const (
	defaultCapacity = 50
	defaultIdleTTL  = time.Hour
)

// Options bounds each per-kind store.
type Options struct {
	Capacity uint64
	IdleTTL  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Capacity == 0 {
		o.Capacity = defaultCapacity
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = defaultIdleTTL
	}
	return o
}

// EvictionObserver is notified when a handle leaves a store.
type EvictionObserver func(kind Kind, reason string)

// Cache is the sole owner of live per-tenant handles: database sessions,
// broker connections, and channel senders. Handles are built lazily from the
// registry snapshot, bounded by capacity and idle TTL, and always closed on
// eviction. In-flight operations must keep their own reference to an acquired
// handle; a re-fetch mid-operation may observe an eviction.
type Cache struct {
	registry *tenant.Registry
	logger   *zap.Logger

	dbs     *store[*gorm.DB]
	brokers *store[*queue.Client]
	senders *store[sender.Sender]

	// builders are swappable for tests.
	buildDB     func(ctx context.Context, cfg tenant.Config) (*gorm.DB, error)
	buildBroker func(ctx context.Context, cfg tenant.Config) (*queue.Client, error)
	buildSender func(ctx context.Context, cfg tenant.Config, service domain.Service, provider string) (sender.Sender, error)
}

func NewCache(registry *tenant.Registry, opts Options, observer EvictionObserver, logger *zap.Logger) (*Cache, error) {
	if registry == nil {
		return nil, fmt.Errorf("tenant registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	c := &Cache{
		registry: registry,
		logger:   logger,
	}

	c.dbs = newStore[*gorm.DB](KindDatabase, opts, postgresql.Close, observer, logger)
	c.brokers = newStore[*queue.Client](KindBroker, opts, func(client *queue.Client) error {
		return client.Close()
	}, observer, logger)
	c.senders = newStore[sender.Sender](KindSender, opts, func(s sender.Sender) error {
		return s.Close()
	}, observer, logger)

	c.buildDB = func(ctx context.Context, cfg tenant.Config) (*gorm.DB, error) {
		db, err := postgresql.NewTenantSession(cfg.DatabaseDSN, cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("%w: tenant %s database: %v", domain.ErrConnectionFailed, cfg.ID, err)
		}
		return db, nil
	}
	c.buildBroker = func(ctx context.Context, cfg tenant.Config) (*queue.Client, error) {
		client, err := queue.NewClient(cfg.BrokerURL, cfg.ID, cfg.EnabledServices())
		if err != nil {
			return nil, fmt.Errorf("%w: tenant %s broker: %v", domain.ErrConnectionFailed, cfg.ID, err)
		}
		return client, nil
	}
	c.buildSender = func(ctx context.Context, cfg tenant.Config, service domain.Service, provider string) (sender.Sender, error) {
		svcCfg, ok := cfg.Services[service]
		if !ok {
			return nil, fmt.Errorf("%w: tenant %s has no %s config", domain.ErrConfigNotFound, cfg.ID, service)
		}
		providerCfg, ok := svcCfg.Provider(provider)
		if !ok {
			return nil, fmt.Errorf("%w: tenant %s %s provider %q", domain.ErrConfigNotFound, cfg.ID, service, provider)
		}
		return sender.New(ctx, service, provider, providerCfg)
	}

	return c, nil
}

// Start runs the TTL reapers until Stop.
func (c *Cache) Start() {
	go c.dbs.cache.Start()
	go c.brokers.cache.Start()
	go c.senders.cache.Start()
}

// Database returns the tenant's schema-scoped DB session, building it if
// absent.
func (c *Cache) Database(ctx context.Context, tenantID string) (*gorm.DB, error) {
	cfg, err := c.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}
	return c.dbs.acquire(tenantID, func() (*gorm.DB, error) {
		return c.buildDB(ctx, cfg)
	})
}

// Broker returns the tenant's broker connection with topology declared.
func (c *Cache) Broker(ctx context.Context, tenantID string) (*queue.Client, error) {
	cfg, err := c.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}
	return c.brokers.acquire(tenantID, func() (*queue.Client, error) {
		return c.buildBroker(ctx, cfg)
	})
}

// Sender returns the tenant's channel sender for one provider.
func (c *Cache) Sender(ctx context.Context, tenantID string, service domain.Service, provider string) (sender.Sender, error) {
	cfg, err := c.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}
	key := senderKey(tenantID, service, provider)
	return c.senders.acquire(key, func() (sender.Sender, error) {
		return c.buildSender(ctx, cfg, service, provider)
	})
}

// Release closes and evicts one tenant's handle of the given kind. It is a
// no-op when nothing is cached.
func (c *Cache) Release(tenantID string, kind Kind) {
	switch kind {
	case KindDatabase:
		c.dbs.release(tenantID)
	case KindBroker:
		c.brokers.release(tenantID)
	case KindSender:
		c.senders.releasePrefix(tenantID + ":")
	}
}

// ReleaseAll closes every cached handle and stops the reapers. Used on
// shutdown.
func (c *Cache) ReleaseAll() {
	c.senders.releaseAll()
	c.brokers.releaseAll()
	c.dbs.releaseAll()
}

func senderKey(tenantID string, service domain.Service, provider string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, service, provider)
}

// store is one bounded, evictable handle map. A singleflight group serializes
// construction per key, so concurrent acquires share one build (and one
// failure). Failed constructions are never cached.
type store[T any] struct {
	kind  Kind
	cache *ttlcache.Cache[string, T]
	group singleflight.Group
}

func newStore[T any](kind Kind, opts Options, closeFn func(T) error, observer EvictionObserver, logger *zap.Logger) *store[T] {
	c := ttlcache.New[string, T](
		ttlcache.WithTTL[string, T](opts.IdleTTL),
		ttlcache.WithCapacity[string, T](opts.Capacity),
	)

	c.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, T]) {
		if err := closeFn(item.Value()); err != nil {
			logger.Warn("failed to close evicted resource",
				zap.String("kind", string(kind)),
				zap.String("key", item.Key()),
				zap.Error(err),
			)
		}
		if observer != nil {
			observer(kind, evictionReasonLabel(reason))
		}
	})

	return &store[T]{kind: kind, cache: c}
}

func (s *store[T]) acquire(key string, build func() (T, error)) (T, error) {
	if item := s.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// A follower may arrive after the leader finished; re-check.
		if item := s.cache.Get(key); item != nil {
			return item.Value(), nil
		}

		handle, err := build()
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, handle, ttlcache.DefaultTTL)
		return handle, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return v.(T), nil
}

func (s *store[T]) release(key string) {
	s.cache.Delete(key)
}

func (s *store[T]) releasePrefix(prefix string) {
	for _, key := range s.cache.Keys() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			s.cache.Delete(key)
		}
	}
}

func (s *store[T]) releaseAll() {
	s.cache.DeleteAll()
	s.cache.Stop()
}

func evictionReasonLabel(reason ttlcache.EvictionReason) string {
	switch reason {
	case ttlcache.EvictionReasonExpired:
		return "expired"
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	case ttlcache.EvictionReasonDeleted:
		return "released"
	default:
		return "unknown"
	}
}
