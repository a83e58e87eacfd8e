package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisorRestartsCrashedShard(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	shard := Shard{
		Name: "flaky",
		Run: func(ctx context.Context) error {
			if runs.Add(1) >= 2 {
				cancel()
				<-ctx.Done()
				return nil
			}
			return errors.New("crash")
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- New(nil, shard).Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	if got := runs.Load(); got < 2 {
		t.Fatalf("expected a restart after crash, got %d runs", got)
	}
}

func TestSupervisorCleanStopIsNotRestarted(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	shard := Shard{
		Name: "oneshot",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := New(nil, shard).Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("clean stop must not restart, got %d runs", got)
	}
}

func TestSupervisorStopsAllShardsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	blocker := Shard{
		Name: "blocker",
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- New(nil, blocker, blocker).Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}
