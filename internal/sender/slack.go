package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/tenant"
	"github.com/slack-go/slack"
)

// --- Slack Web API ---

type slackAPISender struct {
	provider string
	client   *slack.Client
}

func newSlackAPISender(provider string, cfg tenant.ProviderConfig) (*slackAPISender, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: slack requires a bot token", domain.ErrConfigNotFound)
	}

	return &slackAPISender{
		provider: provider,
		client:   slack.New(cfg.Token),
	}, nil
}

func (s *slackAPISender) Send(ctx context.Context, msg Message) (*Outcome, error) {
	channel, timestamp, err := s.client.PostMessageContext(ctx, msg.To, slack.MsgOptionText(msg.Body, false))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("slack send interrupted: %w", err)
		}
		return nil, &SendError{Provider: s.provider, Message: "slack post rejected", Cause: err}
	}

	return &Outcome{
		Provider:          s.provider,
		ProviderMessageID: timestamp,
		Body:              fmt.Sprintf("posted to %s", channel),
	}, nil
}

func (s *slackAPISender) Close() error { return nil }

// --- Slack incoming webhook ---

type slackWebhookSender struct {
	provider string
	client   *resty.Client
	endpoint string
}

func newSlackWebhookSender(provider string, cfg tenant.ProviderConfig) (*slackWebhookSender, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: slack webhook requires an endpoint", domain.ErrConfigNotFound)
	}

	return &slackWebhookSender{
		provider: provider,
		client:   newHTTPClient(),
		endpoint: cfg.Endpoint,
	}, nil
}

func (s *slackWebhookSender) Send(ctx context.Context, msg Message) (*Outcome, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"text": msg.Body}).
		Post(s.endpoint)

	return httpOutcome(s.provider, resp, err, "")
}

func (s *slackWebhookSender) Close() error { return nil }
