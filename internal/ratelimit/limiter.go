package ratelimit

import "context"

// RateLimiter controls provider-call throughput per key (tenant:service).
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
