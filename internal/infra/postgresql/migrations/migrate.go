package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kaanrky/courier/internal/repository"
	"gorm.io/gorm"
)

// MigrateTenant applies the per-tenant schema: Notifications and
// routing_rules. Run against a schema-scoped session.
func MigrateTenant(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_notifications",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_message_id ON notifications (message_id)`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_status_service_created ON notifications (status, service, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_failed_redrive ON notifications (updated_at) WHERE status = 'FAILED'`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.NotificationModel{})
			},
		},
		{
			ID: "000002_create_routing_rules",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.RoutingRuleModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_routing_rules_service_match ON routing_rules (service, match_key, match_value)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.RoutingRuleModel{})
			},
		},
	})

	return m.Migrate()
}
