package handlers

import (
	"context"

	"github.com/bowatch/bowatch/internal/application/credential"
	"github.com/bowatch/bowatch/internal/application/deposit"
	appnotification "github.com/bowatch/bowatch/internal/application/notification"
	domaincred "github.com/bowatch/bowatch/internal/domain/credential"
	"github.com/bowatch/bowatch/internal/domain/notification"
	"github.com/bowatch/bowatch/internal/infrastructure/signalr"
	"github.com/bowatch/bowatch/internal/infrastructure/tokensource"
)

type ConnectionStats interface {
	Stats() signalr.Stats
}

type NotificationStats interface {
	Stats() appnotification.Stats
}

type NotificationHistory interface {
	Recent(channel notification.Channel, limit int) []notification.Record
	Totals() map[notification.Channel]uint64
}

type DepositStatus interface {
	Status() deposit.Status
}

type TokenSourceStatus interface {
	Status() tokensource.Status
}

type CredentialStore interface {
	Get() domaincred.Credentials
	Update(ctx context.Context, patch domaincred.Patch, source string) (domaincred.Credentials, []string)
	Updates() []credential.UpdateEntry
}

type DestinationStore interface {
	List() []string
	Replace(ids []string) []string
}

// SessionController restarts the hub session on demand.
type SessionController interface {
	Reconnect() bool
	State() signalr.ConnectionState
}
