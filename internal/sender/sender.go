package sender

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/tenant"
)

const defaultSendTimeout = 10 * time.Second

// Message is the uniform outbound shape shared by every provider.
type Message struct {
	To          string
	Subject     string
	Body        string
	From        string
	CC          []string
	BCC         []string
	Attachments []string
	TemplateID  string
}

// Outcome stores provider call metadata for audit and persistence.
type Outcome struct {
	Provider          string `json:"provider"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	StatusCode        int    `json:"statusCode,omitempty"`
	Body              string `json:"body,omitempty"`
}

// Sender is the outbound delivery capability. Implementations are selected
// per tenant by the factory and cached by the resource cache, which owns
// Close.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Outcome, error)
	Close() error
}

// SendError is a provider-reported delivery rejection. It finalizes the
// record as FAILED and the broker message is still acked; the attempts
// counter owns retries.
type SendError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *SendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, fmt.Sprintf("provider %s error", e.Provider))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New builds a concrete sender from tenant provider config. providerID is the
// routing decision; cfg.Kind selects the implementation and defaults to the
// providerID itself.
func New(ctx context.Context, service domain.Service, providerID string, cfg tenant.ProviderConfig) (Sender, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(providerID))
	}

	switch service {
	case domain.ServiceEmail:
		switch kind {
		case "ses":
			return newSESSender(ctx, providerID, cfg)
		case "sendgrid":
			return newSendGridSender(providerID, cfg)
		case "mailgun":
			return newMailgunSender(providerID, cfg)
		case "smtp":
			return newSMTPSender(providerID, cfg)
		}
	case domain.ServiceSMS:
		switch kind {
		case "twilio":
			return newTwilioSender(providerID, cfg)
		case "msg91":
			return newMSG91Sender(providerID, cfg)
		case "textlocal":
			return newTextlocalSender(providerID, cfg)
		}
	case domain.ServiceSlack:
		switch kind {
		case "slack", "slack_api":
			return newSlackAPISender(providerID, cfg)
		case "slack_webhook":
			return newSlackWebhookSender(providerID, cfg)
		}
	}

	return nil, fmt.Errorf("%w: no sender for service %s provider %q", domain.ErrConfigNotFound, service, providerID)
}

func newHTTPClient() *resty.Client {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)
	return client
}
