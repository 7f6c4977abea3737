package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/bowatch/bowatch/internal/shared/constants"
)

// NotificationLogModel is one emitted alert. (channel, external_id) is unique
// so replays after a restart are absorbed by the database.
type NotificationLogModel struct {
	ID            uint   `gorm:"primaryKey"`
	Channel       string `gorm:"size:20;not null;uniqueIndex:idx_channel_external"`
	ExternalID    string `gorm:"size:64;not null;uniqueIndex:idx_channel_external"`
	Amount        string `gorm:"size:40;not null;default:'0'"`
	Currency      string `gorm:"size:10"`
	ClientID      string `gorm:"size:64;index"`
	ClientName    string `gorm:"size:255"`
	ClientLogin   string `gorm:"size:255"`
	PaymentSystem string `gorm:"size:100"`
	State         int    `gorm:"not null;default:0"`
	StateName     string `gorm:"size:50"`
	Message       string `gorm:"type:text"`
	Raw           datatypes.JSON
	RequestedAt   *time.Time
	ReceivedAt    time.Time `gorm:"not null;index"`
	CreatedAt     time.Time
}

func (NotificationLogModel) TableName() string {
	return constants.TableNotificationLogs
}
