package observability

import (
	"context"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	t.Parallel()

	for _, level := range []string{"debug", "info", "warn", "error", "", " INFO "} {
		if _, err := NewLogger(level, "courier-api"); err != nil {
			t.Fatalf("level %q: unexpected error: %v", level, err)
		}
	}

	if _, err := NewLogger("verbose", "courier-api"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithCorrelationID(context.Background(), "corr-1")

	correlationID, ok := CorrelationIDFromContext(ctx)
	if !ok || correlationID != "corr-1" {
		t.Fatalf("expected corr-1, got %q (ok=%v)", correlationID, ok)
	}

	if _, ok := CorrelationIDFromContext(context.Background()); ok {
		t.Fatal("expected no correlation id on a bare context")
	}
}

func TestTenantIDRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithTenantID(context.Background(), "acme")

	tenantID, ok := TenantIDFromContext(ctx)
	if !ok || tenantID != "acme" {
		t.Fatalf("expected acme, got %q (ok=%v)", tenantID, ok)
	}

	if _, ok := TenantIDFromContext(context.Background()); ok {
		t.Fatal("expected no tenant id on a bare context")
	}
}

func TestContextFields(t *testing.T) {
	t.Parallel()

	if fields := ContextFields(context.Background()); len(fields) != 0 {
		t.Fatalf("expected no fields on a bare context, got %v", fields)
	}

	ctx := WithTenantID(WithCorrelationID(context.Background(), "corr-1"), "acme")
	fields := ContextFields(ctx)
	if len(fields) != 2 {
		t.Fatalf("expected correlation and tenant fields, got %v", fields)
	}
}
