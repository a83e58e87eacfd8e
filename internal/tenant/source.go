package tenant

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Source lists tenant configurations. Implementations must return full
// snapshots; the registry swaps them atomically.
type Source interface {
	ListTenants(ctx context.Context) ([]Config, error)
}

// TenantModel is the shared-schema persistence row for tenant configuration.
type TenantModel struct {
	ID     string         `gorm:"type:varchar(64);primaryKey"`
	Config datatypes.JSON `gorm:"type:jsonb;not null"`
}

func (TenantModel) TableName() string {
	return "tenants"
}

// GormSource reads tenant configs from the shared control schema.
type GormSource struct {
	db *gorm.DB
}

func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db}
}

func (s *GormSource) ListTenants(ctx context.Context) ([]Config, error) {
	var models []TenantModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	configs := make([]Config, 0, len(models))
	for i := range models {
		var cfg Config
		if err := json.Unmarshal(models[i].Config, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config for tenant %q: %w", models[i].ID, err)
		}
		cfg.ID = models[i].ID
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, nil
}
