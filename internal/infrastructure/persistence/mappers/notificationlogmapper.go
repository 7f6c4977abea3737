package mappers

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/bowatch/bowatch/internal/domain/notification"
	"github.com/bowatch/bowatch/internal/infrastructure/persistence/models"
)

// NotificationLogMapper converts between notification records and rows.
type NotificationLogMapper interface {
	ToModel(rec *notification.Record) *models.NotificationLogModel
	ToEntity(model *models.NotificationLogModel) *notification.Record
	ToEntities(list []*models.NotificationLogModel) []*notification.Record
}

type notificationLogMapper struct{}

func NewNotificationLogMapper() NotificationLogMapper {
	return &notificationLogMapper{}
}

func (m *notificationLogMapper) ToModel(rec *notification.Record) *models.NotificationLogModel {
	if rec == nil {
		return nil
	}

	model := &models.NotificationLogModel{
		Channel:       string(rec.Channel),
		ExternalID:    rec.ExternalID,
		Amount:        rec.Amount.String(),
		Currency:      rec.Currency,
		ClientID:      rec.ClientID,
		ClientName:    rec.ClientName,
		ClientLogin:   rec.ClientLogin,
		PaymentSystem: rec.PaymentSystem,
		State:         rec.State,
		StateName:     rec.StateName,
		Message:       rec.Message,
		ReceivedAt:    rec.ReceivedAt,
	}
	if len(rec.Raw) > 0 && json.Valid(rec.Raw) {
		model.Raw = datatypes.JSON(rec.Raw)
	}
	if !rec.RequestedAt.IsZero() {
		t := rec.RequestedAt
		model.RequestedAt = &t
	}
	return model
}

func (m *notificationLogMapper) ToEntity(model *models.NotificationLogModel) *notification.Record {
	if model == nil {
		return nil
	}

	amount, err := decimal.NewFromString(model.Amount)
	if err != nil {
		amount = decimal.Zero
	}

	rec := &notification.Record{
		Channel:       notification.Channel(model.Channel),
		ExternalID:    model.ExternalID,
		Amount:        amount,
		Currency:      model.Currency,
		ClientID:      model.ClientID,
		ClientName:    model.ClientName,
		ClientLogin:   model.ClientLogin,
		PaymentSystem: model.PaymentSystem,
		State:         model.State,
		StateName:     model.StateName,
		Message:       model.Message,
		ReceivedAt:    model.ReceivedAt,
	}
	if len(model.Raw) > 0 {
		rec.Raw = json.RawMessage(model.Raw)
	}
	if model.RequestedAt != nil {
		rec.RequestedAt = *model.RequestedAt
	}
	return rec
}

func (m *notificationLogMapper) ToEntities(list []*models.NotificationLogModel) []*notification.Record {
	out := make([]*notification.Record, 0, len(list))
	for _, model := range list {
		out = append(out, m.ToEntity(model))
	}
	return out
}
