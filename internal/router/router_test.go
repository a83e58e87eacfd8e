package router

import (
	"context"
	"errors"
	"testing"

	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/tenant"
)

type fakeRuleSource struct {
	rules []domain.RoutingRule
	err   error
}

func (f *fakeRuleSource) ListByService(_ context.Context, _ domain.Service) ([]domain.RoutingRule, error) {
	return f.rules, f.err
}

func smsConfig() tenant.Config {
	return tenant.Config{
		ID: "acme",
		Services: map[domain.Service]tenant.ServiceConfig{
			domain.ServiceSMS: {
				Enabled:         true,
				DefaultProvider: "twilio",
			},
			domain.ServiceEmail: {
				Enabled:         true,
				DefaultProvider: "ses",
			},
		},
	}
}

func TestSelectProviderSMSMatchesCountryCodeRule(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: []domain.RoutingRule{
		{Service: domain.ServiceSMS, Provider: "msg91", MatchKey: domain.MatchKeyCountryCode, MatchValue: "91"},
		{Service: domain.ServiceSMS, Provider: "textlocal", MatchKey: domain.MatchKeyCountryCode, MatchValue: "44"},
	}}

	provider, err := SelectProvider(context.Background(), rules, smsConfig(), domain.ServiceSMS, "+919876543210")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "msg91" {
		t.Fatalf("expected msg91, got %q", provider)
	}
}

func TestSelectProviderSMSFallsBackToDefault(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: []domain.RoutingRule{
		{Service: domain.ServiceSMS, Provider: "msg91", MatchKey: domain.MatchKeyCountryCode, MatchValue: "91"},
	}}

	provider, err := SelectProvider(context.Background(), rules, smsConfig(), domain.ServiceSMS, "+15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "twilio" {
		t.Fatalf("expected twilio, got %q", provider)
	}
}

func TestSelectProviderUnresolvedDestination(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{}
	_, err := SelectProvider(context.Background(), rules, smsConfig(), domain.ServiceSMS, "+123")
	if !errors.Is(err, domain.ErrUnresolvedDestination) {
		t.Fatalf("expected ErrUnresolvedDestination, got %v", err)
	}
}

func TestSelectProviderEmailIgnoresRules(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{err: errors.New("rules must not be consulted")}
	provider, err := SelectProvider(context.Background(), rules, smsConfig(), domain.ServiceEmail, "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "ses" {
		t.Fatalf("expected ses, got %q", provider)
	}
}

func TestSelectProviderMissingDefault(t *testing.T) {
	t.Parallel()

	cfg := smsConfig()
	svc := cfg.Services[domain.ServiceSMS]
	svc.DefaultProvider = ""
	cfg.Services[domain.ServiceSMS] = svc

	_, err := SelectProvider(context.Background(), &fakeRuleSource{}, cfg, domain.ServiceSMS, "+15551234567")
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestSelectProviderMissingServiceConfig(t *testing.T) {
	t.Parallel()

	_, err := SelectProvider(context.Background(), &fakeRuleSource{}, smsConfig(), domain.ServiceSlack, "#alerts")
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestApplyGuard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		svcCfg   tenant.ServiceConfig
		from     string
		wantFrom string
		wantErr  error
	}{
		{
			name:    "custom from forbidden",
			svcCfg:  tenant.ServiceConfig{AllowCustomFrom: false, DefaultFrom: "noreply@acme.io"},
			from:    "ceo@acme.io",
			wantErr: domain.ErrPolicyViolation,
		},
		{
			name:     "default forced when custom forbidden",
			svcCfg:   tenant.ServiceConfig{AllowCustomFrom: false, DefaultFrom: "noreply@acme.io"},
			from:     "",
			wantFrom: "noreply@acme.io",
		},
		{
			name:     "default from itself is accepted",
			svcCfg:   tenant.ServiceConfig{AllowCustomFrom: false, DefaultFrom: "noreply@acme.io"},
			from:     "NoReply@acme.io",
			wantFrom: "noreply@acme.io",
		},
		{
			name:    "custom from required but missing",
			svcCfg:  tenant.ServiceConfig{AllowCustomFrom: true, RequireCustomFrom: true},
			from:    "",
			wantErr: domain.ErrPolicyViolation,
		},
		{
			name:     "custom from allowed",
			svcCfg:   tenant.ServiceConfig{AllowCustomFrom: true, DefaultFrom: "noreply@acme.io"},
			from:     "ceo@acme.io",
			wantFrom: "ceo@acme.io",
		},
		{
			name:     "default filled when custom allowed but absent",
			svcCfg:   tenant.ServiceConfig{AllowCustomFrom: true, DefaultFrom: "noreply@acme.io"},
			from:     "",
			wantFrom: "noreply@acme.io",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			content := &domain.Content{Body: "hello", Subject: "hi", FromEmail: tt.from}
			err := ApplyGuard(domain.ServiceEmail, content, tt.svcCfg)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if content.FromEmail != tt.wantFrom {
				t.Fatalf("expected fromEmail %q, got %q", tt.wantFrom, content.FromEmail)
			}
		})
	}
}

func TestApplyGuardNonEmailIsUntouched(t *testing.T) {
	t.Parallel()

	content := &domain.Content{Body: "hello", FromEmail: "whatever"}
	if err := ApplyGuard(domain.ServiceSMS, content, tenant.ServiceConfig{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content.FromEmail != "whatever" {
		t.Fatalf("sms content must not be mutated, got %q", content.FromEmail)
	}
}
