package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/tenant"
	"github.com/nyaruka/phonenumbers"
)

// RuleSource lists a tenant's persisted routing rules for one service.
type RuleSource interface {
	ListByService(ctx context.Context, service domain.Service) ([]domain.RoutingRule, error)
}

// SelectProvider resolves the delivery provider for one destination. SMS
// destinations are matched against country-code routing rules with the tenant
// default as fallback; email and slack always resolve to the tenant default
// (rules are keyed by country code today, which only applies to phone
// numbers).
func SelectProvider(
	ctx context.Context,
	rules RuleSource,
	cfg tenant.Config,
	service domain.Service,
	destination string,
) (string, error) {
	svcCfg, ok := cfg.Services[service]
	if !ok {
		return "", fmt.Errorf("%w: tenant %s has no %s config", domain.ErrConfigNotFound, cfg.ID, service)
	}

	if service == domain.ServiceSMS {
		countryCode, err := countryCallingCode(destination)
		if err != nil {
			return "", err
		}

		tenantRules, err := rules.ListByService(ctx, service)
		if err != nil {
			return "", fmt.Errorf("failed to load routing rules: %w", err)
		}

		for _, rule := range tenantRules {
			if rule.MatchKey == domain.MatchKeyCountryCode && rule.MatchValue == countryCode {
				return rule.Provider, nil
			}
		}
	}

	if strings.TrimSpace(svcCfg.DefaultProvider) == "" {
		return "", fmt.Errorf("%w: tenant %s has no default %s provider", domain.ErrConfigNotFound, cfg.ID, service)
	}

	return svcCfg.DefaultProvider, nil
}

// ApplyGuard enforces per-service tenant policy on the content before
// persistence. It mutates content in place (forcing the default From) and
// fails with ErrPolicyViolation on a caller-supplied value the policy
// forbids.
func ApplyGuard(service domain.Service, content *domain.Content, svcCfg tenant.ServiceConfig) error {
	if content == nil {
		return fmt.Errorf("%w: content is required", domain.ErrValidation)
	}

	if service != domain.ServiceEmail {
		return nil
	}

	from := strings.TrimSpace(content.FromEmail)

	if !svcCfg.AllowCustomFrom {
		if from != "" && !strings.EqualFold(from, svcCfg.DefaultFrom) {
			return fmt.Errorf("%w: custom fromEmail is not allowed for this tenant", domain.ErrPolicyViolation)
		}
		content.FromEmail = svcCfg.DefaultFrom
		return nil
	}

	if svcCfg.RequireCustomFrom && from == "" {
		return fmt.Errorf("%w: fromEmail is required for this tenant", domain.ErrPolicyViolation)
	}

	if from == "" {
		content.FromEmail = svcCfg.DefaultFrom
	}

	return nil
}

// countryCallingCode derives the routing key from an E.164 destination.
func countryCallingCode(destination string) (string, error) {
	parsed, err := phonenumbers.Parse(strings.TrimSpace(destination), "")
	if err != nil {
		return "", fmt.Errorf("%w: cannot parse phone number %q: %v", domain.ErrUnresolvedDestination, destination, err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("%w: invalid phone number %q", domain.ErrUnresolvedDestination, destination)
	}

	return strconv.Itoa(int(parsed.GetCountryCode())), nil
}
