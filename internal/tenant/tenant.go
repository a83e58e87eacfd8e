package tenant

import (
	"fmt"
	"strings"

	"github.com/kaanrky/courier/internal/domain"
)

const defaultMaxAttempts = 3

// Config is an immutable snapshot of one tenant's configuration. The resource
// cache and routers only read it; refreshing happens in the registry, never
// mid-construction.
type Config struct {
	ID          string                           `json:"id"`
	DatabaseDSN string                           `json:"databaseDsn"`
	Schema      string                           `json:"schema"`
	BrokerURL   string                           `json:"brokerUrl"`
	MaxAttempts int                              `json:"maxAttempts"`
	Services    map[domain.Service]ServiceConfig `json:"services"`
}

// ServiceConfig holds one channel's policy and provider credentials.
type ServiceConfig struct {
	Enabled           bool                      `json:"enabled"`
	DefaultProvider   string                    `json:"defaultProvider"`
	Providers         map[string]ProviderConfig `json:"providers"`
	AllowCustomFrom   bool                      `json:"allowCustomFrom"`
	RequireCustomFrom bool                      `json:"requireCustomFrom"`
	DefaultFrom       string                    `json:"defaultFrom"`
}

// ProviderConfig is the credential bag for one concrete provider. Which
// fields apply depends on the provider kind.
type ProviderConfig struct {
	Kind     string `json:"kind"`
	Key      string `json:"key,omitempty"`
	Secret   string `json:"secret,omitempty"`
	Region   string `json:"region,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from,omitempty"`
	Token    string `json:"token,omitempty"`
	Sender   string `json:"sender,omitempty"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("%w: tenant %s: database dsn is required", domain.ErrValidation, c.ID)
	}
	if strings.TrimSpace(c.BrokerURL) == "" {
		return fmt.Errorf("%w: tenant %s: broker url is required", domain.ErrValidation, c.ID)
	}
	return nil
}

// MaxAttemptsOrDefault returns the configured attempt ceiling, falling back
// to the platform default of 3.
func (c Config) MaxAttemptsOrDefault() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return defaultMaxAttempts
}

// Service returns the channel config and whether the channel is enabled.
func (c Config) Service(service domain.Service) (ServiceConfig, bool) {
	svc, ok := c.Services[service]
	if !ok {
		return ServiceConfig{}, false
	}
	return svc, svc.Enabled
}

// EnabledServices lists the channels this tenant may submit and consume.
func (c Config) EnabledServices() []domain.Service {
	services := make([]domain.Service, 0, len(c.Services))
	for _, service := range domain.Services() {
		if svc, ok := c.Services[service]; ok && svc.Enabled {
			services = append(services, service)
		}
	}
	return services
}

// Provider resolves one provider's credentials for a channel.
func (s ServiceConfig) Provider(id string) (ProviderConfig, bool) {
	p, ok := s.Providers[id]
	return p, ok
}
