package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Status represents the delivery lifecycle state of a notification.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Service represents the delivery channel.
type Service string

const (
	ServiceEmail Service = "EMAIL"
	ServiceSMS   Service = "SMS"
	ServiceSlack Service = "SLACK"
)

func (s Service) String() string { return string(s) }

func (s Service) IsValid() bool {
	switch s {
	case ServiceEmail, ServiceSMS, ServiceSlack:
		return true
	}
	return false
}

func ParseServiceFromString(s string) (Service, error) {
	svc := Service(strings.ToUpper(strings.TrimSpace(s)))
	if !svc.IsValid() {
		return "", fmt.Errorf("%w: invalid service %q", ErrValidation, s)
	}
	return svc, nil
}

// Services lists every delivery channel the platform supports.
func Services() []Service {
	return []Service{ServiceEmail, ServiceSMS, ServiceSlack}
}

// Content is the message payload. Body is used by every channel; the
// remaining fields only apply to email.
type Content struct {
	Body        string   `json:"body"`
	Subject     string   `json:"subject,omitempty"`
	FromEmail   string   `json:"fromEmail,omitempty"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// Notification is the per-tenant delivery record. MessageID is unique per
// tenant; Attempts never decreases; SENT is terminal.
type Notification struct {
	ID                string
	MessageID         string
	Service           Service
	Destination       string
	Content           Content
	Status            Status
	Attempts          int
	ConnectorResponse string
	TemplateID        *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (n *Notification) Validate() error {
	if !n.Service.IsValid() {
		return fmt.Errorf("%w: invalid service %q", ErrValidation, n.Service)
	}
	if strings.TrimSpace(n.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if strings.TrimSpace(n.Content.Body) == "" {
		return fmt.Errorf("%w: content body is required", ErrValidation)
	}

	switch n.Service {
	case ServiceEmail:
		if _, err := mail.ParseAddress(n.Destination); err != nil {
			return fmt.Errorf("%w: invalid email destination %q", ErrValidation, n.Destination)
		}
		if strings.TrimSpace(n.Content.Subject) == "" {
			return fmt.Errorf("%w: email subject is required", ErrValidation)
		}
		for _, addr := range append(append([]string{}, n.Content.CC...), n.Content.BCC...) {
			if _, err := mail.ParseAddress(addr); err != nil {
				return fmt.Errorf("%w: invalid cc/bcc address %q", ErrValidation, addr)
			}
		}
	case ServiceSMS:
		if !strings.HasPrefix(strings.TrimSpace(n.Destination), "+") {
			return fmt.Errorf("%w: sms destination must be in E.164 format", ErrValidation)
		}
	}

	return nil
}
