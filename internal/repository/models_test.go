package repository

import (
	"testing"

	"github.com/kaanrky/courier/internal/domain"
)

func TestNotificationModelMapping(t *testing.T) {
	t.Parallel()

	templateID := "welcome-v2"
	n := &domain.Notification{
		ID:          "id-1",
		MessageID:   "msg-1",
		Service:     domain.ServiceEmail,
		Destination: "user@example.com",
		Content: domain.Content{
			Body:    "hello",
			Subject: "hi",
			CC:      []string{"cc@example.com"},
		},
		Status:     domain.StatusPending,
		TemplateID: &templateID,
	}

	model, err := notificationModelFromDomain(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	back := notificationModelToDomain(model)
	if back.MessageID != n.MessageID || back.Service != n.Service || back.Status != n.Status {
		t.Fatalf("mapping mismatch: %+v", back)
	}
	if back.Content.Subject != "hi" || len(back.Content.CC) != 1 {
		t.Fatalf("content mismatch: %+v", back.Content)
	}
	if back.TemplateID == nil || *back.TemplateID != templateID {
		t.Fatalf("templateId mismatch: %+v", back.TemplateID)
	}
}

func TestNotificationModelLegacyContentFallsBackToBody(t *testing.T) {
	t.Parallel()

	model := &NotificationModel{
		MessageID: "msg-1",
		Service:   domain.ServiceSMS,
		Content:   "plain text body",
		Status:    domain.StatusSent,
	}

	back := notificationModelToDomain(model)
	if back.Content.Body != "plain text body" {
		t.Fatalf("expected plain text fallback, got %+v", back.Content)
	}
}

func TestAppendResponse(t *testing.T) {
	t.Parallel()

	if got := appendResponse("", "max attempts reached"); got != "max attempts reached" {
		t.Fatalf("unexpected response %q", got)
	}
	if got := appendResponse("provider error", "max attempts reached"); got != "provider error; max attempts reached" {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestIsUniqueViolationError(t *testing.T) {
	t.Parallel()

	if isUniqueViolationError(nil) {
		t.Fatal("nil is not a unique violation")
	}
	if !isUniqueViolationError(errTest(`ERROR: duplicate key value violates unique constraint "idx_notifications_message_id"`)) {
		t.Fatal("postgres duplicate key message must be detected")
	}
	if isUniqueViolationError(errTest("connection refused")) {
		t.Fatal("unrelated errors must not match")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
