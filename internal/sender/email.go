package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/go-resty/resty/v2"
	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/tenant"
	gomail "github.com/wneessen/go-mail"
)

// --- SES ---

type sesSender struct {
	provider string
	client   *sesv2.Client
}

func newSESSender(ctx context.Context, provider string, cfg tenant.ProviderConfig) (*sesSender, error) {
	if cfg.Key == "" || cfg.Secret == "" || cfg.Region == "" {
		return nil, fmt.Errorf("%w: ses requires key, secret and region", domain.ErrConfigNotFound)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build ses config: %v", domain.ErrConnectionFailed, err)
	}

	return &sesSender{
		provider: provider,
		client:   sesv2.NewFromConfig(awsCfg),
	}, nil
}

func (s *sesSender) Send(ctx context.Context, msg Message) (*Outcome, error) {
	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &sestypes.Destination{
			ToAddresses:  []string{msg.To},
			CcAddresses:  msg.CC,
			BccAddresses: msg.BCC,
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(msg.Subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(msg.Body)},
				},
			},
		},
	})
	if err != nil {
		return nil, &SendError{Provider: s.provider, Message: "ses send rejected", Cause: err}
	}

	return &Outcome{
		Provider:          s.provider,
		ProviderMessageID: aws.ToString(out.MessageId),
		StatusCode:        http.StatusOK,
	}, nil
}

func (s *sesSender) Close() error { return nil }

// --- SendGrid ---

type sendGridSender struct {
	provider string
	client   *resty.Client
	apiKey   string
	endpoint string
}

func newSendGridSender(provider string, cfg tenant.ProviderConfig) (*sendGridSender, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("%w: sendgrid requires an api key", domain.ErrConfigNotFound)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.sendgrid.com/v3/mail/send"
	}

	return &sendGridSender{
		provider: provider,
		client:   newHTTPClient(),
		apiKey:   cfg.Key,
		endpoint: endpoint,
	}, nil
}

func (s *sendGridSender) Send(ctx context.Context, msg Message) (*Outcome, error) {
	type address struct {
		Email string `json:"email"`
	}
	personalization := map[string]any{
		"to": []address{{Email: msg.To}},
	}
	if len(msg.CC) > 0 {
		cc := make([]address, 0, len(msg.CC))
		for _, a := range msg.CC {
			cc = append(cc, address{Email: a})
		}
		personalization["cc"] = cc
	}
	if len(msg.BCC) > 0 {
		bcc := make([]address, 0, len(msg.BCC))
		for _, a := range msg.BCC {
			bcc = append(bcc, address{Email: a})
		}
		personalization["bcc"] = bcc
	}

	body := map[string]any{
		"personalizations": []map[string]any{personalization},
		"from":             address{Email: msg.From},
		"subject":          msg.Subject,
		"content": []map[string]string{
			{"type": "text/plain", "value": msg.Body},
		},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(s.endpoint)

	return httpOutcome(s.provider, resp, err, "X-Message-Id")
}

func (s *sendGridSender) Close() error { return nil }

// --- Mailgun ---

type mailgunSender struct {
	provider string
	client   *resty.Client
	apiKey   string
	endpoint string
}

func newMailgunSender(provider string, cfg tenant.ProviderConfig) (*mailgunSender, error) {
	if cfg.Key == "" || cfg.Domain == "" {
		return nil, fmt.Errorf("%w: mailgun requires an api key and domain", domain.ErrConfigNotFound)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.mailgun.net/v3/%s/messages", cfg.Domain)
	}

	return &mailgunSender{
		provider: provider,
		client:   newHTTPClient(),
		apiKey:   cfg.Key,
		endpoint: endpoint,
	}, nil
}

func (s *mailgunSender) Send(ctx context.Context, msg Message) (*Outcome, error) {
	form := map[string]string{
		"from":    msg.From,
		"to":      msg.To,
		"subject": msg.Subject,
		"text":    msg.Body,
	}
	if len(msg.CC) > 0 {
		form["cc"] = strings.Join(msg.CC, ",")
	}
	if len(msg.BCC) > 0 {
		form["bcc"] = strings.Join(msg.BCC, ",")
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth("api", s.apiKey).
		SetFormData(form).
		Post(s.endpoint)

	return httpOutcome(s.provider, resp, err, "")
}

func (s *mailgunSender) Close() error { return nil }

// --- SMTP ---

type smtpSender struct {
	provider string
	client   *gomail.Client
}

func newSMTPSender(provider string, cfg tenant.ProviderConfig) (*smtpSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: smtp requires a host", domain.ErrConfigNotFound)
	}

	opts := []gomail.Option{
		gomail.WithTimeout(defaultSendTimeout),
	}
	if cfg.Port > 0 {
		opts = append(opts, gomail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build smtp client: %v", domain.ErrConnectionFailed, err)
	}

	return &smtpSender{provider: provider, client: client}, nil
}

func (s *smtpSender) Send(ctx context.Context, msg Message) (*Outcome, error) {
	m := gomail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, &SendError{Provider: s.provider, Message: "invalid from address", Cause: err}
	}
	if err := m.To(msg.To); err != nil {
		return nil, &SendError{Provider: s.provider, Message: "invalid to address", Cause: err}
	}
	if len(msg.CC) > 0 {
		if err := m.Cc(msg.CC...); err != nil {
			return nil, &SendError{Provider: s.provider, Message: "invalid cc address", Cause: err}
		}
	}
	if len(msg.BCC) > 0 {
		if err := m.Bcc(msg.BCC...); err != nil {
			return nil, &SendError{Provider: s.provider, Message: "invalid bcc address", Cause: err}
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("smtp send interrupted: %w", err)
		}
		return nil, &SendError{Provider: s.provider, Message: "smtp send rejected", Cause: err}
	}

	return &Outcome{Provider: s.provider, ProviderMessageID: m.GetMessageID()}, nil
}

func (s *smtpSender) Close() error {
	return s.client.Close()
}
