package repository

import (
	"testing"

	"github.com/kaanrky/courier/internal/domain"
)

func claimModel(status domain.Status, attempts int, response string) *NotificationModel {
	return &NotificationModel{
		MessageID:         "msg-1",
		Service:           domain.ServiceEmail,
		Destination:       "user@example.com",
		Status:            status,
		Attempts:          attempts,
		ConnectorResponse: response,
	}
}

func TestDecideClaimPendingProceeds(t *testing.T) {
	t.Parallel()

	model := claimModel(domain.StatusPending, 0, "")

	result, updates := decideClaim(model, 3)
	if result != ClaimProceed {
		t.Fatalf("expected ClaimProceed, got %v", result)
	}
	if model.Status != domain.StatusProcessing || model.Attempts != 1 {
		t.Fatalf("expected processing/1, got %s/%d", model.Status, model.Attempts)
	}
	if updates["status"] != domain.StatusProcessing || updates["attempts"] != 1 {
		t.Fatalf("unexpected updates: %v", updates)
	}
}

func TestDecideClaimFailedBelowCeilingProceeds(t *testing.T) {
	t.Parallel()

	model := claimModel(domain.StatusFailed, 2, "send failed: timeout")

	result, updates := decideClaim(model, 3)
	if result != ClaimProceed {
		t.Fatalf("expected ClaimProceed, got %v", result)
	}
	if model.Attempts != 3 {
		t.Fatalf("expected attempts 3, got %d", model.Attempts)
	}
	if updates["attempts"] != 3 {
		t.Fatalf("unexpected updates: %v", updates)
	}
}

func TestDecideClaimSentIsTerminal(t *testing.T) {
	t.Parallel()

	model := claimModel(domain.StatusSent, 1, "delivered")

	result, updates := decideClaim(model, 3)
	if result != ClaimAlreadySent {
		t.Fatalf("expected ClaimAlreadySent, got %v", result)
	}
	if updates != nil {
		t.Fatalf("expected no updates, got %v", updates)
	}
	if model.Status != domain.StatusSent || model.Attempts != 1 {
		t.Fatal("terminal record must not be mutated")
	}
}

func TestDecideClaimProcessingIsInFlight(t *testing.T) {
	t.Parallel()

	model := claimModel(domain.StatusProcessing, 1, "")

	result, updates := decideClaim(model, 3)
	if result != ClaimInFlight {
		t.Fatalf("expected ClaimInFlight, got %v", result)
	}
	if updates != nil {
		t.Fatalf("expected no updates, got %v", updates)
	}
}

func TestDecideClaimExhaustedAppendsNote(t *testing.T) {
	t.Parallel()

	model := claimModel(domain.StatusFailed, 3, "send failed: timeout")

	result, updates := decideClaim(model, 3)
	if result != ClaimExhausted {
		t.Fatalf("expected ClaimExhausted, got %v", result)
	}
	want := "send failed: timeout; max attempts reached"
	if model.ConnectorResponse != want {
		t.Fatalf("expected %q, got %q", want, model.ConnectorResponse)
	}
	if updates["connector_response"] != want {
		t.Fatalf("unexpected updates: %v", updates)
	}
	if model.Attempts != 3 {
		t.Fatal("exhausted claim must not consume an attempt")
	}
}

func TestDecideClaimExhaustedWithEmptyResponse(t *testing.T) {
	t.Parallel()

	model := claimModel(domain.StatusFailed, 5, "")

	result, updates := decideClaim(model, 3)
	if result != ClaimExhausted {
		t.Fatalf("expected ClaimExhausted, got %v", result)
	}
	if model.ConnectorResponse != "max attempts reached" {
		t.Fatalf("expected bare note, got %q", model.ConnectorResponse)
	}
	if updates == nil {
		t.Fatal("expected an update writing the note")
	}
}

func TestDecideClaimExhaustedNoteWrittenOnce(t *testing.T) {
	t.Parallel()

	model := claimModel(domain.StatusFailed, 3, "send failed: timeout; max attempts reached")

	result, updates := decideClaim(model, 3)
	if result != ClaimExhausted {
		t.Fatalf("expected ClaimExhausted, got %v", result)
	}
	if updates != nil {
		t.Fatalf("repeat claim must be a no-op write, got %v", updates)
	}
	if model.ConnectorResponse != "send failed: timeout; max attempts reached" {
		t.Fatalf("note duplicated: %q", model.ConnectorResponse)
	}
}
