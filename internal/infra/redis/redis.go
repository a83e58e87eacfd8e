package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kaanrky/courier/internal/domain"
	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

// NewRedis opens the connector's rate-limit store. The limiter issues one
// short Lua call per delivery attempt, so retries are kept low and a dead
// Redis surfaces as ErrConnectionFailed at startup instead of stalling
// dispatch later.
func NewRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis url: %v", domain.ErrConnectionFailed, err)
	}

	opts.ClientName = "courier-connector"
	opts.MaxRetries = 2
	opts.DialTimeout = connectTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping failed: %v", domain.ErrConnectionFailed, err)
	}

	return client, nil
}
