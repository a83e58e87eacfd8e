package redis

import (
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/kaanrky/courier/internal/domain"
)

func TestNewRedisConnects(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	client, err := NewRedis(fmt.Sprintf("redis://%s", mr.Addr()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test teardown

	if got := client.Options().ClientName; got != "courier-connector" {
		t.Fatalf("expected connector client name, got %q", got)
	}
}

func TestNewRedisInvalidURL(t *testing.T) {
	t.Parallel()

	_, err := NewRedis("not-a-url")
	if !errors.Is(err, domain.ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(fmt.Sprintf("redis://%s", addr))
	if !errors.Is(err, domain.ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}
