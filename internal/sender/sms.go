package sender

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/tenant"
)

// --- Twilio ---

type twilioSender struct {
	provider   string
	client     *resty.Client
	accountSID string
	authToken  string
	from       string
	endpoint   string
}

func newTwilioSender(provider string, cfg tenant.ProviderConfig) (*twilioSender, error) {
	if cfg.Key == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("%w: twilio requires account sid and auth token", domain.ErrConfigNotFound)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: twilio requires a from number", domain.ErrConfigNotFound)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", cfg.Key)
	}

	return &twilioSender{
		provider:   provider,
		client:     newHTTPClient(),
		accountSID: cfg.Key,
		authToken:  cfg.Secret,
		from:       cfg.From,
		endpoint:   endpoint,
	}, nil
}

func (s *twilioSender) Send(ctx context.Context, msg Message) (*Outcome, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(s.accountSID, s.authToken).
		SetFormData(map[string]string{
			"To":   msg.To,
			"From": s.from,
			"Body": msg.Body,
		}).
		Post(s.endpoint)

	outcome, err := httpOutcome(s.provider, resp, err, "")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	if unmarshalErr := json.Unmarshal([]byte(outcome.Body), &parsed); unmarshalErr == nil {
		outcome.ProviderMessageID = parsed.SID
	}

	return outcome, nil
}

func (s *twilioSender) Close() error { return nil }

// --- MSG91 ---

type msg91Sender struct {
	provider string
	client   *resty.Client
	authKey  string
	senderID string
	endpoint string
}

func newMSG91Sender(provider string, cfg tenant.ProviderConfig) (*msg91Sender, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("%w: msg91 requires an auth key", domain.ErrConfigNotFound)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://control.msg91.com/api/v5/flow/"
	}

	return &msg91Sender{
		provider: provider,
		client:   newHTTPClient(),
		authKey:  cfg.Key,
		senderID: cfg.Sender,
		endpoint: endpoint,
	}, nil
}

func (s *msg91Sender) Send(ctx context.Context, msg Message) (*Outcome, error) {
	payload := map[string]any{
		"sender":     s.senderID,
		"recipients": []map[string]string{{"mobiles": msg.To, "message": msg.Body}},
	}
	if msg.TemplateID != "" {
		payload["template_id"] = msg.TemplateID
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("authkey", s.authKey).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(s.endpoint)

	outcome, err := httpOutcome(s.provider, resp, err, "")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		RequestID string `json:"request_id"`
	}
	if unmarshalErr := json.Unmarshal([]byte(outcome.Body), &parsed); unmarshalErr == nil {
		outcome.ProviderMessageID = parsed.RequestID
	}

	return outcome, nil
}

func (s *msg91Sender) Close() error { return nil }

// --- Textlocal ---

type textlocalSender struct {
	provider string
	client   *resty.Client
	apiKey   string
	senderID string
	endpoint string
}

func newTextlocalSender(provider string, cfg tenant.ProviderConfig) (*textlocalSender, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("%w: textlocal requires an api key", domain.ErrConfigNotFound)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.textlocal.in/send/"
	}

	return &textlocalSender{
		provider: provider,
		client:   newHTTPClient(),
		apiKey:   cfg.Key,
		senderID: cfg.Sender,
		endpoint: endpoint,
	}, nil
}

func (s *textlocalSender) Send(ctx context.Context, msg Message) (*Outcome, error) {
	form := map[string]string{
		"apikey":  s.apiKey,
		"numbers": msg.To,
		"message": msg.Body,
	}
	if s.senderID != "" {
		form["sender"] = s.senderID
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(s.endpoint)

	return httpOutcome(s.provider, resp, err, "")
}

func (s *textlocalSender) Close() error { return nil }
