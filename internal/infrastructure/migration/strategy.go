package migration

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"

	"github.com/bowatch/bowatch/internal/infrastructure/migration/scripts"
	"github.com/bowatch/bowatch/internal/shared/constants"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

// Strategy applies schema changes.
type Strategy interface {
	Migrate(ctx context.Context, db *gorm.DB, models ...any) error
	GetName() string
}

// GormAutoMigrateStrategy derives the schema from the model structs.
type GormAutoMigrateStrategy struct {
	logger logger.Interface
}

func NewGormAutoMigrateStrategy(log logger.Interface) Strategy {
	return &GormAutoMigrateStrategy{logger: log.Named("migration.gorm")}
}

func (s *GormAutoMigrateStrategy) Migrate(ctx context.Context, db *gorm.DB, models ...any) error {
	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	s.logger.Infow("auto migration completed", "models", len(models))
	return nil
}

func (s *GormAutoMigrateStrategy) GetName() string {
	return "gorm_auto_migrate"
}

// goose keeps its dialect and base FS in package state.
var gooseMu sync.Mutex

// GooseStrategy runs the embedded versioned SQL scripts for the driver.
type GooseStrategy struct {
	driver string
	logger logger.Interface
}

func NewGooseStrategy(driver string, log logger.Interface) *GooseStrategy {
	return &GooseStrategy{driver: driver, logger: log.Named("migration.goose")}
}

func (s *GooseStrategy) GetName() string {
	return "goose"
}

func (s *GooseStrategy) dialect() (dialect, dir string, err error) {
	switch s.driver {
	case constants.DriverMySQL:
		return "mysql", "mysql", nil
	case constants.DriverSQLite:
		return "sqlite3", "sqlite", nil
	default:
		return "", "", fmt.Errorf("no migration scripts for driver %q", s.driver)
	}
}

// with prepares goose for the driver and runs fn under the package lock.
func (s *GooseStrategy) with(db *gorm.DB, fn func(sqlDB *sql.DB, dir string) error) error {
	dialect, dir, err := s.dialect()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(scripts.FS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(sqlDB, dir)
}

func (s *GooseStrategy) Migrate(ctx context.Context, db *gorm.DB, _ ...any) error {
	return s.with(db, func(sqlDB *sql.DB, dir string) error {
		before, err := goose.GetDBVersionContext(ctx, sqlDB)
		if err != nil {
			return fmt.Errorf("failed to get current migration version: %w", err)
		}
		if err := goose.UpContext(ctx, sqlDB, dir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		after, err := goose.GetDBVersionContext(ctx, sqlDB)
		if err != nil {
			return fmt.Errorf("failed to get final migration version: %w", err)
		}
		s.logger.Infow("goose migration completed", "from_version", before, "to_version", after)
		return nil
	})
}

// MigrateDown rolls back steps migrations.
func (s *GooseStrategy) MigrateDown(ctx context.Context, db *gorm.DB, steps int) error {
	return s.with(db, func(sqlDB *sql.DB, dir string) error {
		for i := 0; i < steps; i++ {
			if err := goose.DownContext(ctx, sqlDB, dir); err != nil {
				return fmt.Errorf("failed to run down migration %d/%d: %w", i+1, steps, err)
			}
		}
		s.logger.Infow("down migration completed", "steps", steps)
		return nil
	})
}

func (s *GooseStrategy) GetVersion(ctx context.Context, db *gorm.DB) (int64, error) {
	var version int64
	err := s.with(db, func(sqlDB *sql.DB, _ string) error {
		v, err := goose.GetDBVersionContext(ctx, sqlDB)
		if err != nil {
			return fmt.Errorf("failed to get migration version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}
