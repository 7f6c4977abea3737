package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bowatch/bowatch/internal/domain/notification"
	"github.com/bowatch/bowatch/internal/infrastructure/persistence/mappers"
	"github.com/bowatch/bowatch/internal/infrastructure/persistence/models"
	"github.com/bowatch/bowatch/internal/shared/errors"
)

type NotificationLogRepository struct {
	db     *gorm.DB
	mapper mappers.NotificationLogMapper
}

func NewNotificationLogRepository(db *gorm.DB) *NotificationLogRepository {
	return &NotificationLogRepository{
		db:     db,
		mapper: mappers.NewNotificationLogMapper(),
	}
}

// Save appends a record. A row with the same channel and external id is
// left untouched.
func (r *NotificationLogRepository) Save(ctx context.Context, rec *notification.Record) error {
	if rec == nil || !rec.Channel.IsValid() || rec.ExternalID == "" {
		return errors.NewValidationError("notification record needs a channel and an external id")
	}

	model := r.mapper.ToModel(rec)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to save notification log: %w", err)
	}
	return nil
}

// ListRecent returns the newest records, optionally for one channel.
func (r *NotificationLogRepository) ListRecent(ctx context.Context, channel notification.Channel, limit int) ([]*notification.Record, error) {
	query := r.db.WithContext(ctx).Model(&models.NotificationLogModel{})
	if channel != "" {
		query = query.Where("channel = ?", string(channel))
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var list []*models.NotificationLogModel
	if err := query.Order("received_at DESC").Order("id DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list notification logs: %w", err)
	}
	return r.mapper.ToEntities(list), nil
}

// CountByChannel returns the number of stored rows per channel.
func (r *NotificationLogRepository) CountByChannel(ctx context.Context) (map[notification.Channel]int64, error) {
	var rows []struct {
		Channel string
		Total   int64
	}
	err := r.db.WithContext(ctx).Model(&models.NotificationLogModel{}).
		Select("channel, COUNT(*) AS total").
		Group("channel").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count notification logs: %w", err)
	}

	out := make(map[notification.Channel]int64, len(rows))
	for _, row := range rows {
		out[notification.Channel(row.Channel)] = row.Total
	}
	return out, nil
}

// PruneOlderThan deletes rows received before cutoff.
func (r *NotificationLogRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("received_at < ?", cutoff).
		Delete(&models.NotificationLogModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune notification logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
