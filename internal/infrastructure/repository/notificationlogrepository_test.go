package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bowatch/bowatch/internal/domain/notification"
	"github.com/bowatch/bowatch/internal/infrastructure/persistence/models"
	"github.com/bowatch/bowatch/internal/shared/errors"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.NotificationLogModel{}))
	return db
}

func newRecord(channel notification.Channel, id string, received time.Time) *notification.Record {
	return &notification.Record{
		Channel:     channel,
		ExternalID:  id,
		Amount:      decimal.RequireFromString("1500.50"),
		Currency:    "TRY",
		ClientName:  "Ali Veli",
		ClientLogin: "aliveli",
		State:       0,
		ReceivedAt:  received,
		RequestedAt: received.Add(-time.Minute),
		Message:     "msg " + id,
		Raw:         json.RawMessage(`{"Id":` + id + `}`),
	}
}

func TestNotificationLogRepository_Save(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationLogRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	t.Run("save and read back", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, newRecord(notification.ChannelWithdrawal, "555", now)))

		list, err := repo.ListRecent(ctx, notification.ChannelWithdrawal, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		got := list[0]
		assert.Equal(t, "555", got.ExternalID)
		assert.True(t, decimal.RequireFromString("1500.5").Equal(got.Amount))
		assert.Equal(t, "Ali Veli", got.ClientName)
		assert.JSONEq(t, `{"Id":555}`, string(got.Raw))
		assert.True(t, now.Add(-time.Minute).Equal(got.RequestedAt))
	})

	t.Run("duplicate is ignored", func(t *testing.T) {
		dup := newRecord(notification.ChannelWithdrawal, "555", now)
		dup.ClientName = "someone else"
		require.NoError(t, repo.Save(ctx, dup))

		list, err := repo.ListRecent(ctx, notification.ChannelWithdrawal, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Ali Veli", list[0].ClientName)
	})

	t.Run("same id on another channel is kept", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, newRecord(notification.ChannelDeposit, "555", now)))

		counts, err := repo.CountByChannel(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[notification.ChannelWithdrawal])
		assert.Equal(t, int64(1), counts[notification.ChannelDeposit])
	})

	t.Run("invalid record", func(t *testing.T) {
		err := repo.Save(ctx, &notification.Record{Channel: "other", ExternalID: "1"})
		require.Error(t, err)
		appErr := errors.GetAppError(err)
		require.NotNil(t, appErr)
	})
}

func TestNotificationLogRepository_ListRecentOrdering(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationLogRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"1", "2", "3"} {
		require.NoError(t, repo.Save(ctx, newRecord(notification.ChannelDeposit, id, base.Add(time.Duration(i)*time.Minute))))
	}

	list, err := repo.ListRecent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "3", list[0].ExternalID)
	assert.Equal(t, "2", list[1].ExternalID)
}

func TestNotificationLogRepository_PruneOlderThan(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationLogRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, newRecord(notification.ChannelDeposit, "old", now.Add(-40*24*time.Hour))))
	require.NoError(t, repo.Save(ctx, newRecord(notification.ChannelDeposit, "new", now)))

	removed, err := repo.PruneOlderThan(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	list, err := repo.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ExternalID)
}
