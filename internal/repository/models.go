package repository

import (
	"encoding/json"
	"time"

	"github.com/kaanrky/courier/internal/domain"
)

// NotificationModel is the persistence model for the per-tenant
// notifications table. Content is stored as serialized JSON.
type NotificationModel struct {
	ID                string         `gorm:"type:uuid;primaryKey"`
	MessageID         string         `gorm:"type:varchar(36);not null;column:message_id"`
	Service           domain.Service `gorm:"type:varchar(10);not null"`
	Destination       string         `gorm:"type:varchar(255);not null"`
	Content           string         `gorm:"type:text;not null"`
	Status            domain.Status  `gorm:"type:varchar(20);not null"`
	Attempts          int            `gorm:"not null;default:0"`
	ConnectorResponse string         `gorm:"type:text"`
	TemplateID        *string        `gorm:"type:varchar(64)"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// RoutingRuleModel is the persistence model for routing_rules.
type RoutingRuleModel struct {
	Code       string         `gorm:"type:varchar(64);primaryKey"`
	Service    domain.Service `gorm:"type:varchar(10);not null"`
	Provider   string         `gorm:"type:varchar(64);not null"`
	MatchKey   string         `gorm:"type:varchar(64);not null"`
	MatchValue string         `gorm:"type:varchar(64);not null"`
}

func (RoutingRuleModel) TableName() string {
	return "routing_rules"
}

func notificationModelFromDomain(n *domain.Notification) (*NotificationModel, error) {
	if n == nil {
		return nil, nil
	}

	content, err := json.Marshal(n.Content)
	if err != nil {
		return nil, err
	}

	return &NotificationModel{
		ID:                n.ID,
		MessageID:         n.MessageID,
		Service:           n.Service,
		Destination:       n.Destination,
		Content:           string(content),
		Status:            n.Status,
		Attempts:          n.Attempts,
		ConnectorResponse: n.ConnectorResponse,
		TemplateID:        n.TemplateID,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}, nil
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	var content domain.Content
	if err := json.Unmarshal([]byte(m.Content), &content); err != nil {
		// Legacy rows may hold plain text instead of JSON.
		content = domain.Content{Body: m.Content}
	}

	return &domain.Notification{
		ID:                m.ID,
		MessageID:         m.MessageID,
		Service:           m.Service,
		Destination:       m.Destination,
		Content:           content,
		Status:            m.Status,
		Attempts:          m.Attempts,
		ConnectorResponse: m.ConnectorResponse,
		TemplateID:        m.TemplateID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func routingRuleModelToDomain(m *RoutingRuleModel) domain.RoutingRule {
	return domain.RoutingRule{
		Code:       m.Code,
		Service:    m.Service,
		Provider:   m.Provider,
		MatchKey:   m.MatchKey,
		MatchValue: m.MatchValue,
	}
}
