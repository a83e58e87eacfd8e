package repository

import (
	"context"

	"github.com/kaanrky/courier/internal/domain"
	"gorm.io/gorm"
)

type RoutingRuleRepository interface {
	ListByService(ctx context.Context, service domain.Service) ([]domain.RoutingRule, error)
}

type GormRoutingRuleRepo struct {
	db *gorm.DB
}

func NewGormRoutingRuleRepo(db *gorm.DB) *GormRoutingRuleRepo {
	return &GormRoutingRuleRepo{db: db}
}

func (r *GormRoutingRuleRepo) ListByService(ctx context.Context, service domain.Service) ([]domain.RoutingRule, error) {
	var models []RoutingRuleModel
	err := r.db.WithContext(ctx).
		Where("service = ?", service).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	rules := make([]domain.RoutingRule, 0, len(models))
	for i := range models {
		rules = append(rules, routingRuleModelToDomain(&models[i]))
	}

	return rules, nil
}
