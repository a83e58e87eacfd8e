package repository

import (
	"strings"

	"github.com/kaanrky/courier/internal/domain"
)

const maxAttemptsReachedNote = "max attempts reached"

// decideClaim resolves the delivery state machine for one locked record. It
// mutates the model to its post-claim state and returns the column updates to
// apply in the surrounding transaction; a nil map means nothing to write.
func decideClaim(model *NotificationModel, maxAttempts int) (ClaimResult, map[string]any) {
	switch {
	case model.Status == domain.StatusSent:
		return ClaimAlreadySent, nil

	case model.Status == domain.StatusProcessing:
		return ClaimInFlight, nil

	case model.Status == domain.StatusFailed && model.Attempts >= maxAttempts:
		if strings.Contains(model.ConnectorResponse, maxAttemptsReachedNote) {
			return ClaimExhausted, nil
		}
		model.ConnectorResponse = appendResponse(model.ConnectorResponse, maxAttemptsReachedNote)
		return ClaimExhausted, map[string]any{
			"connector_response": model.ConnectorResponse,
		}
	}

	model.Status = domain.StatusProcessing
	model.Attempts++
	return ClaimProceed, map[string]any{
		"status":   domain.StatusProcessing,
		"attempts": model.Attempts,
	}
}

func appendResponse(existing, note string) string {
	if strings.TrimSpace(existing) == "" {
		return note
	}
	return existing + "; " + note
}
