package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/queue"
	"github.com/kaanrky/courier/internal/repository"
	"github.com/kaanrky/courier/internal/tenant"
	"go.uber.org/zap"
)

type staticSnapshot []tenant.Config

func (s staticSnapshot) All() []tenant.Config { return s }

type redriveRepo struct {
	fakeRepo
	retryable []domain.Notification
	gotMax    int
	gotBefore time.Time
}

func (r *redriveRepo) ListRetryableFailed(_ context.Context, maxAttempts, _ int, before time.Time) ([]domain.Notification, error) {
	r.gotMax = maxAttempts
	r.gotBefore = before
	return r.retryable, nil
}

func newTestRedriver(repo repository.NotificationRepository, publish func(ctx context.Context, tenantID string, env queue.Envelope) error) *Redriver {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &Redriver{
		registry: staticSnapshot{emailTenant()},
		repos: func(context.Context, string) (repository.NotificationRepository, error) {
			return repo, nil
		},
		publish:   publish,
		interval:  30 * time.Second,
		batchSize: 100,
		logger:    zap.NewNop(),
		now:       func() time.Time { return now },
	}
}

func TestRedriverRepublishesRetryableFailures(t *testing.T) {
	t.Parallel()

	templateID := "welcome-v2"
	repo := &redriveRepo{retryable: []domain.Notification{
		{
			MessageID:   "msg-1",
			Service:     domain.ServiceEmail,
			Destination: "user@example.com",
			Content:     domain.Content{Body: "hello", Subject: "hi"},
			Status:      domain.StatusFailed,
			Attempts:    1,
			TemplateID:  &templateID,
		},
	}}

	var published []queue.Envelope
	r := newTestRedriver(repo, func(_ context.Context, _ string, env queue.Envelope) error {
		published = append(published, env)
		return nil
	})

	r.scanAll(context.Background())

	if len(published) != 1 {
		t.Fatalf("expected 1 republish, got %d", len(published))
	}

	env := published[0]
	if env.MessageID != "msg-1" || env.TenantID != "acme" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Provider != "" {
		t.Fatal("redriven envelopes must leave provider resolution to the dispatcher")
	}
	if env.TemplateID != "welcome-v2" {
		t.Fatalf("expected templateId to survive, got %q", env.TemplateID)
	}

	if repo.gotMax != 3 {
		t.Fatalf("expected tenant max attempts 3, got %d", repo.gotMax)
	}
	wantCutoff := time.Date(2025, 6, 1, 11, 59, 30, 0, time.UTC)
	if !repo.gotBefore.Equal(wantCutoff) {
		t.Fatalf("expected cutoff %v, got %v", wantCutoff, repo.gotBefore)
	}
}

func TestRedriverKeepsGoingOnPublishFailure(t *testing.T) {
	t.Parallel()

	repo := &redriveRepo{retryable: []domain.Notification{
		{MessageID: "msg-1", Service: domain.ServiceEmail, Destination: "a@example.com", Content: domain.Content{Body: "x"}},
		{MessageID: "msg-2", Service: domain.ServiceEmail, Destination: "b@example.com", Content: domain.Content{Body: "y"}},
	}}

	var published []string
	r := newTestRedriver(repo, func(_ context.Context, _ string, env queue.Envelope) error {
		if env.MessageID == "msg-1" {
			return errors.New("broker hiccup")
		}
		published = append(published, env.MessageID)
		return nil
	})

	r.scanAll(context.Background())

	if len(published) != 1 || published[0] != "msg-2" {
		t.Fatalf("expected msg-2 to still be republished, got %v", published)
	}
}
