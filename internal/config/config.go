package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	SharedDatabaseDSN      string `env:"SHARED_DATABASE_DSN,required=true"`
	RedisURL               string `env:"REDIS_URL,default=redis://localhost:6379/0"`
	APIPort                int    `env:"API_PORT,default=8080"`
	MetricsPort            int    `env:"METRICS_PORT,default=9090"`
	LogLevel               string `env:"LOG_LEVEL,default=info"`
	TenantRefreshSeconds   int    `env:"TENANT_REFRESH_SECONDS,default=60"`
	ResourceCacheCapacity  int    `env:"RESOURCE_CACHE_CAPACITY,default=50"`
	ResourceCacheIdleTTLs  int    `env:"RESOURCE_CACHE_IDLE_TTL_SECONDS,default=3600"`
	ConsumerPrefetch       int    `env:"CONSUMER_PREFETCH,default=1"`
	RateLimitPerSec        int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	RedriveIntervalSeconds int    `env:"REDRIVE_INTERVAL_SECONDS,default=30"`
	RedriveBatchSize       int    `env:"REDRIVE_BATCH_SIZE,default=100"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
