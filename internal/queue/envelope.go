package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kaanrky/courier/internal/domain"
)

// Envelope is the broker payload for one delivery. Provider is the gateway's
// routing decision; the consumer re-resolves when it is absent.
type Envelope struct {
	TenantID    string         `json:"tenantId"`
	MessageID   string         `json:"messageId"`
	Service     domain.Service `json:"service"`
	Destination string         `json:"destination"`
	Content     domain.Content `json:"content"`
	Provider    string         `json:"provider,omitempty"`
	TemplateID  string         `json:"templateId,omitempty"`
	FileID      string         `json:"fileId,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	if strings.TrimSpace(e.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	if !e.Service.IsValid() {
		return fmt.Errorf("invalid service %q", e.Service)
	}
	if strings.TrimSpace(e.Destination) == "" {
		return fmt.Errorf("destination is required")
	}
	return nil
}
