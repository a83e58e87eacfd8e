package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

// httpOutcome converts a resty response into the uniform outcome/error split:
// 2xx is success, anything else is a SendError recorded on the notification.
// Transport interruptions caused by context cancellation propagate as plain
// errors so the caller can treat them as unexpected.
func httpOutcome(provider string, resp *resty.Response, err error, messageIDHeader string) (*Outcome, error) {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("provider %s request interrupted: %w", provider, err)
		}
		return nil, &SendError{Provider: provider, Message: "provider request failed", Cause: err}
	}
	if resp == nil {
		return nil, &SendError{Provider: provider, Message: "provider returned empty response"}
	}

	statusCode := resp.StatusCode()
	body := strings.TrimSpace(resp.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Outcome{
			Provider:          provider,
			ProviderMessageID: headerMessageID(resp, messageIDHeader),
			StatusCode:        statusCode,
			Body:              body,
		}, nil
	}

	return nil, &SendError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, body),
	}
}

func headerMessageID(resp *resty.Response, header string) string {
	if resp == nil || header == "" {
		return ""
	}
	return strings.TrimSpace(resp.Header().Get(header))
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
