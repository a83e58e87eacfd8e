package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kaanrky/courier/internal/domain"
	"github.com/kaanrky/courier/internal/gateway"
	"github.com/kaanrky/courier/internal/repository"
	"github.com/kaanrky/courier/internal/transport"
)

type fakeService struct {
	submitFn func(ctx context.Context, tenantID string, req gateway.SubmitRequest) (string, error)
	statusFn func(ctx context.Context, tenantID, messageID string) (*domain.Notification, error)
	logsFn   func(ctx context.Context, tenantID string, params repository.ListParams) ([]domain.Notification, int64, error)
}

func (f *fakeService) Submit(ctx context.Context, tenantID string, req gateway.SubmitRequest) (string, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, tenantID, req)
	}
	return "msg-1", nil
}

func (f *fakeService) Status(ctx context.Context, tenantID, messageID string) (*domain.Notification, error) {
	if f.statusFn != nil {
		return f.statusFn(ctx, tenantID, messageID)
	}
	return nil, fmt.Errorf("%w: message %q", domain.ErrNotFound, messageID)
}

func (f *fakeService) Logs(ctx context.Context, tenantID string, params repository.ListParams) ([]domain.Notification, int64, error) {
	if f.logsFn != nil {
		return f.logsFn(ctx, tenantID, params)
	}
	return nil, 0, nil
}

func newTestApp(t *testing.T, service *fakeService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.NewErrorHandler(nil),
	})

	h, err := NewNotifyHandler(service, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Register(app)

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, tenantID string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	defer resp.Body.Close() //nolint:errcheck // test teardown
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return decoded
}

func TestNotifyAccepted(t *testing.T) {
	t.Parallel()

	var gotTenant string
	var gotReq gateway.SubmitRequest
	service := &fakeService{
		submitFn: func(_ context.Context, tenantID string, req gateway.SubmitRequest) (string, error) {
			gotTenant = tenantID
			gotReq = req
			return "msg-42", nil
		},
	}
	app := newTestApp(t, service)

	resp := doJSON(t, app, http.MethodPost, "/notify", "acme", map[string]any{
		"service":     "email",
		"destination": "user@example.com",
		"content": map[string]any{
			"body":    "hello",
			"subject": "hi",
		},
		"templateId": "welcome-v2",
	})

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["messageId"] != "msg-42" {
		t.Fatalf("unexpected body %v", body)
	}
	if gotTenant != "acme" {
		t.Fatalf("expected tenant acme, got %q", gotTenant)
	}
	if gotReq.Service != domain.ServiceEmail || gotReq.TemplateID != "welcome-v2" {
		t.Fatalf("unexpected request %+v", gotReq)
	}
}

func TestNotifyMissingTenantHeader(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &fakeService{})

	resp := doJSON(t, app, http.MethodPost, "/notify", "", map[string]any{
		"service":     "email",
		"destination": "user@example.com",
		"content":     map[string]any{"body": "hello", "subject": "hi"},
	})

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestNotifyInvalidService(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &fakeService{})

	resp := doJSON(t, app, http.MethodPost, "/notify", "acme", map[string]any{
		"service":     "pigeon",
		"destination": "user@example.com",
		"content":     map[string]any{"body": "hello"},
	})

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestNotifyErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"policy violation", fmt.Errorf("%w: nope", domain.ErrPolicyViolation), http.StatusBadRequest},
		{"conflict", fmt.Errorf("%w: dup", domain.ErrConflict), http.StatusConflict},
		{"config missing", fmt.Errorf("%w: tenant", domain.ErrConfigNotFound), http.StatusInternalServerError},
		{"connection failed", fmt.Errorf("%w: broker", domain.ErrConnectionFailed), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			service := &fakeService{
				submitFn: func(context.Context, string, gateway.SubmitRequest) (string, error) {
					return "", tt.err
				},
			}
			app := newTestApp(t, service)

			resp := doJSON(t, app, http.MethodPost, "/notify", "acme", map[string]any{
				"service":     "email",
				"destination": "user@example.com",
				"content":     map[string]any{"body": "hello", "subject": "hi"},
			})

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestNotifyPublishFailureKeepsMessageID(t *testing.T) {
	t.Parallel()

	service := &fakeService{
		submitFn: func(context.Context, string, gateway.SubmitRequest) (string, error) {
			return "msg-42", fmt.Errorf("failed to publish notification: broker down")
		},
	}
	app := newTestApp(t, service)

	resp := doJSON(t, app, http.MethodPost, "/notify", "acme", map[string]any{
		"service":     "email",
		"destination": "user@example.com",
		"content":     map[string]any{"body": "hello", "subject": "hi"},
	})

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["messageId"] != "msg-42" {
		t.Fatalf("expected stable messageId in error body, got %v", body)
	}
}

func TestDeliveryStatus(t *testing.T) {
	t.Parallel()

	service := &fakeService{
		statusFn: func(_ context.Context, _, messageID string) (*domain.Notification, error) {
			return &domain.Notification{MessageID: messageID, Status: domain.StatusSent}, nil
		},
	}
	app := newTestApp(t, service)

	resp := doJSON(t, app, http.MethodGet, "/delivery-status/msg-42", "acme", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["messageId"] != "msg-42" || body["status"] != "SENT" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestDeliveryStatusNotFound(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &fakeService{})

	resp := doJSON(t, app, http.MethodGet, "/delivery-status/ghost", "acme", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLogsPassesFilters(t *testing.T) {
	t.Parallel()

	var gotParams repository.ListParams
	service := &fakeService{
		logsFn: func(_ context.Context, _ string, params repository.ListParams) ([]domain.Notification, int64, error) {
			gotParams = params
			return []domain.Notification{
				{MessageID: "msg-1", Service: domain.ServiceSMS, Status: domain.StatusFailed, CreatedAt: time.Now()},
			}, 1, nil
		},
	}
	app := newTestApp(t, service)

	resp := doJSON(t, app, http.MethodGet, "/logs?status=failed&service=sms&page=2&pageSize=10", "acme", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if gotParams.Status == nil || *gotParams.Status != domain.StatusFailed {
		t.Fatalf("unexpected status filter %+v", gotParams.Status)
	}
	if gotParams.Service == nil || *gotParams.Service != domain.ServiceSMS {
		t.Fatalf("unexpected service filter %+v", gotParams.Service)
	}
	if gotParams.Page != 2 || gotParams.PageSize != 10 {
		t.Fatalf("unexpected pagination %+v", gotParams)
	}

	body := decodeBody(t, resp)
	if body["total"].(float64) != 1 {
		t.Fatalf("unexpected total %v", body["total"])
	}
}

func TestLogsRejectsBadTimestamp(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &fakeService{})

	resp := doJSON(t, app, http.MethodGet, "/logs?from=yesterday", "acme", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
