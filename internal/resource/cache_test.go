package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/sender"
	"github.com/kaanrky/courier/internal/tenant"
)

type staticSource struct {
	configs []tenant.Config
}

func (s *staticSource) ListTenants(context.Context) ([]tenant.Config, error) {
	return s.configs, nil
}

type trackedSender struct {
	id     string
	closed atomic.Bool
}

func (s *trackedSender) Send(context.Context, sender.Message) (*sender.Outcome, error) {
	return &sender.Outcome{Provider: s.id}, nil
}

func (s *trackedSender) Close() error {
	s.closed.Store(true)
	return nil
}

func testRegistry(t *testing.T, configs ...tenant.Config) *tenant.Registry {
	t.Helper()

	registry, err := tenant.NewRegistry(&staticSource{configs: configs}, time.Minute, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return registry
}

func testTenant(id string) tenant.Config {
	return tenant.Config{
		ID:          id,
		DatabaseDSN: "host=localhost",
		Schema:      "tenant_" + id,
		BrokerURL:   "amqp://localhost",
		Services: map[domain.Service]tenant.ServiceConfig{
			domain.ServiceEmail: {
				Enabled:         true,
				DefaultProvider: "ses",
				Providers:       map[string]tenant.ProviderConfig{"ses": {Kind: "ses"}},
			},
		},
	}
}

func newTestCache(t *testing.T, configs ...tenant.Config) *Cache {
	t.Helper()

	cache, err := NewCache(testRegistry(t, configs...), Options{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(cache.ReleaseAll)
	return cache
}

func TestSenderConcurrentAcquireBuildsOnce(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, testTenant("acme"))

	var builds atomic.Int32
	cache.buildSender = func(context.Context, tenant.Config, domain.Service, string) (sender.Sender, error) {
		builds.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &trackedSender{id: "ses"}, nil
	}

	const goroutines = 16
	results := make([]sender.Sender, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := cache.Sender(context.Background(), "acme", domain.ServiceEmail, "ses")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	if got := builds.Load(); got != 1 {
		t.Fatalf("expected exactly 1 build, got %d", got)
	}
	for i := 1; i < goroutines; i++ {
		if results[i] != results[0] {
			t.Fatal("all acquirers must share the same handle")
		}
	}
}

func TestSenderFailedBuildIsNotCached(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, testTenant("acme"))

	var builds atomic.Int32
	fail := atomic.Bool{}
	fail.Store(true)
	cache.buildSender = func(context.Context, tenant.Config, domain.Service, string) (sender.Sender, error) {
		builds.Add(1)
		if fail.Load() {
			return nil, fmt.Errorf("%w: provider unreachable", domain.ErrConnectionFailed)
		}
		return &trackedSender{id: "ses"}, nil
	}

	_, err := cache.Sender(context.Background(), "acme", domain.ServiceEmail, "ses")
	if !errors.Is(err, domain.ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}

	fail.Store(false)
	if _, err := cache.Sender(context.Background(), "acme", domain.ServiceEmail, "ses"); err != nil {
		t.Fatalf("unexpected error after recovery: %v", err)
	}

	if got := builds.Load(); got != 2 {
		t.Fatalf("expected a rebuild after failure, got %d builds", got)
	}
}

func TestReleaseClosesSenderHandles(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, testTenant("acme"), testTenant("globex"))

	handles := map[string]*trackedSender{}
	var mu sync.Mutex
	cache.buildSender = func(_ context.Context, cfg tenant.Config, _ domain.Service, provider string) (sender.Sender, error) {
		s := &trackedSender{id: cfg.ID + ":" + provider}
		mu.Lock()
		handles[s.id] = s
		mu.Unlock()
		return s, nil
	}

	for _, tenantID := range []string{"acme", "globex"} {
		if _, err := cache.Sender(context.Background(), tenantID, domain.ServiceEmail, "ses"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	cache.Release("acme", KindSender)

	mu.Lock()
	defer mu.Unlock()
	if !handles["acme:ses"].closed.Load() {
		t.Fatal("released handle must be closed")
	}
	if handles["globex:ses"].closed.Load() {
		t.Fatal("other tenants' handles must stay open")
	}
}

func TestSenderUnknownTenant(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, testTenant("acme"))

	_, err := cache.Sender(context.Background(), "ghost", domain.ServiceEmail, "ses")
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestEvictionObserverIsNotified(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var events []string
	observer := func(kind Kind, reason string) {
		mu.Lock()
		events = append(events, string(kind)+":"+reason)
		mu.Unlock()
	}

	cache, err := NewCache(testRegistry(t, testTenant("acme")), Options{}, observer, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(cache.ReleaseAll)

	cache.buildSender = func(context.Context, tenant.Config, domain.Service, string) (sender.Sender, error) {
		return &trackedSender{id: "ses"}, nil
	}

	if _, err := cache.Sender(context.Background(), "acme", domain.ServiceEmail, "ses"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cache.Release("acme", KindSender)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != "sender:released" {
		t.Fatalf("unexpected eviction events %v", events)
	}
}
