package migration

import (
	"github.com/bowatch/bowatch/internal/infrastructure/persistence/models"
)

func AutoMigrateModels() []any {
	return []any{
		&models.NotificationLogModel{},
	}
}
