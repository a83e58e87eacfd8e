package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kaanrky/courier/internal/domain"
)

type fakeSource struct {
	listFn func(ctx context.Context) ([]Config, error)
}

func (f *fakeSource) ListTenants(ctx context.Context) ([]Config, error) {
	return f.listFn(ctx)
}

func testConfig(id string) Config {
	return Config{
		ID:          id,
		DatabaseDSN: "host=localhost",
		Schema:      "tenant_" + id,
		BrokerURL:   "amqp://localhost",
		Services: map[domain.Service]ServiceConfig{
			domain.ServiceEmail: {Enabled: true, DefaultProvider: "ses"},
		},
	}
}

func TestRegistryRefreshSwapsSnapshot(t *testing.T) {
	t.Parallel()

	configs := []Config{testConfig("acme")}
	source := &fakeSource{listFn: func(context.Context) ([]Config, error) {
		return configs, nil
	}}

	registry, err := NewRegistry(source, time.Minute, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Get("acme"); err != nil {
		t.Fatalf("expected acme after refresh, got %v", err)
	}

	configs = []Config{testConfig("globex")}
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := registry.Get("acme"); !errors.Is(err, domain.ErrConfigNotFound) {
		t.Fatalf("expected acme to be gone, got %v", err)
	}
	if _, err := registry.Get("globex"); err != nil {
		t.Fatalf("expected globex after refresh, got %v", err)
	}
}

func TestRegistryFailedRefreshKeepsSnapshot(t *testing.T) {
	t.Parallel()

	fail := false
	source := &fakeSource{listFn: func(context.Context) ([]Config, error) {
		if fail {
			return nil, errors.New("database down")
		}
		return []Config{testConfig("acme")}, nil
	}}

	registry, err := NewRegistry(source, time.Minute, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fail = true
	if err := registry.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error, got nil")
	}

	if _, err := registry.Get("acme"); err != nil {
		t.Fatalf("failed refresh must keep previous snapshot, got %v", err)
	}
}

func TestRegistryGetUnknownTenant(t *testing.T) {
	t.Parallel()

	source := &fakeSource{listFn: func(context.Context) ([]Config, error) {
		return nil, nil
	}}

	registry, err := NewRegistry(source, time.Minute, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := registry.Get("ghost"); !errors.Is(err, domain.ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestConfigHelpers(t *testing.T) {
	t.Parallel()

	cfg := Config{
		ID: "acme",
		Services: map[domain.Service]ServiceConfig{
			domain.ServiceEmail: {Enabled: true, DefaultProvider: "ses"},
			domain.ServiceSMS:   {Enabled: false},
			domain.ServiceSlack: {Enabled: true, DefaultProvider: "slack"},
		},
	}

	if got := cfg.MaxAttemptsOrDefault(); got != 3 {
		t.Fatalf("expected default max attempts 3, got %d", got)
	}
	cfg.MaxAttempts = 5
	if got := cfg.MaxAttemptsOrDefault(); got != 5 {
		t.Fatalf("expected max attempts 5, got %d", got)
	}

	if _, enabled := cfg.Service(domain.ServiceSMS); enabled {
		t.Fatal("sms must report disabled")
	}
	if _, enabled := cfg.Service(domain.ServiceEmail); !enabled {
		t.Fatal("email must report enabled")
	}

	enabled := cfg.EnabledServices()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled services, got %d", len(enabled))
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := testConfig("acme")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	missingDSN := cfg
	missingDSN.DatabaseDSN = ""
	if err := missingDSN.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	missingBroker := cfg
	missingBroker.BrokerURL = " "
	if err := missingBroker.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
