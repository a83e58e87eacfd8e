package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	restartBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Shard is one long-running unit of work. Run should block until ctx ends and
// return nil on a clean stop.
type Shard struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor runs shards concurrently and restarts any shard that exits with
// an error, backing off between restarts. A nil return from a shard is
// treated as a deliberate stop and is not restarted.
type Supervisor struct {
	logger *zap.Logger
	shards []Shard
}

func New(logger *zap.Logger, shards ...Shard) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{logger: logger, shards: shards}
}

// Run blocks until ctx is canceled and every shard has stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	for _, shard := range s.shards {
		shard := shard
		group.Go(func() error {
			return s.runShard(groupCtx, shard)
		})
	}

	return group.Wait()
}

func (s *Supervisor) runShard(ctx context.Context, shard Shard) error {
	backoff := restartBackoff
	for {
		err := shard.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			s.logger.Info("shard stopped", zap.String("shard", shard.Name))
			return nil
		}

		s.logger.Error("shard crashed, restarting",
			zap.String("shard", shard.Name),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
