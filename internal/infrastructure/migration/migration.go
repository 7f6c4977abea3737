package migration

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/bowatch/bowatch/internal/shared/logger"
)

// Strategy names accepted in configuration.
const (
	StrategyAuto  = "auto"
	StrategyGoose = "goose"
)

// Manager runs the configured migration strategy.
type Manager struct {
	strategy Strategy
	logger   logger.Interface
}

// NewManager picks a strategy by name. Anything but "auto" uses goose.
func NewManager(name, driver string, log logger.Interface) *Manager {
	var strategy Strategy
	if name == StrategyAuto {
		strategy = NewGormAutoMigrateStrategy(log)
	} else {
		strategy = NewGooseStrategy(driver, log)
	}
	return NewManagerWithStrategy(strategy, log)
}

func NewManagerWithStrategy(strategy Strategy, log logger.Interface) *Manager {
	return &Manager{strategy: strategy, logger: log.Named("migration")}
}

func (m *Manager) Migrate(ctx context.Context, db *gorm.DB) error {
	m.logger.Infow("starting database migration", "strategy", m.strategy.GetName())

	if err := m.strategy.Migrate(ctx, db, AutoMigrateModels()...); err != nil {
		m.logger.Errorw("migration failed", "strategy", m.strategy.GetName(), "error", err)
		return fmt.Errorf("migration failed with strategy %s: %w", m.strategy.GetName(), err)
	}
	return nil
}
