// Package dto holds the admin API request and response bodies.
package dto

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bowatch/bowatch/internal/application/credential"
	"github.com/bowatch/bowatch/internal/application/deposit"
	appnotification "github.com/bowatch/bowatch/internal/application/notification"
	domaincred "github.com/bowatch/bowatch/internal/domain/credential"
	"github.com/bowatch/bowatch/internal/domain/notification"
	"github.com/bowatch/bowatch/internal/infrastructure/signalr"
	"github.com/bowatch/bowatch/internal/infrastructure/tokensource"
	"github.com/bowatch/bowatch/internal/shared/constants"
	"github.com/bowatch/bowatch/internal/shared/errors"
	"github.com/bowatch/bowatch/internal/shared/utils/logutil"
)

// UpdateCredentialsRequest replaces tokens by hand. Empty fields are left
// unchanged but at least one must be set.
type UpdateCredentialsRequest struct {
	AuthToken      string `json:"auth_token" validate:"omitempty,min=8,excludesall= \t\r\n"`
	HubAccessToken string `json:"hub_access_token" validate:"omitempty,min=8,excludesall= \t\r\n"`
	Cookie         string `json:"cookie" validate:"omitempty,max=8192"`
	SubscribeToken string `json:"subscribe_token" validate:"omitempty,min=8,excludesall= \t\r\n"`
}

func (r *UpdateCredentialsRequest) ToPatch() (domaincred.Patch, error) {
	p := domaincred.Patch{
		AuthToken:      r.AuthToken,
		HubAccessToken: r.HubAccessToken,
		Cookie:         r.Cookie,
		SubscribeToken: r.SubscribeToken,
	}
	if p.IsEmpty() {
		return p, errors.NewValidationError("at least one credential must be provided")
	}
	return p, nil
}

type UpdateDestinationsRequest struct {
	ChatIDs []string `json:"chat_ids" binding:"required" validate:"required,min=1,max=50,dive,required,max=64"`
}

// CredentialsResponse never carries a raw token.
type CredentialsResponse struct {
	AuthToken      string                   `json:"auth_token"`
	HubAccessToken string                   `json:"hub_access_token"`
	Cookie         string                   `json:"cookie"`
	SubscribeToken string                   `json:"subscribe_token"`
	Source         string                   `json:"source"`
	UpdatedAt      time.Time                `json:"updated_at"`
	Changed        []string                 `json:"changed"`
	History        []credential.UpdateEntry `json:"history,omitempty"`
}

func ToCredentialsResponse(c domaincred.Credentials, changed []string, history []credential.UpdateEntry) CredentialsResponse {
	if changed == nil {
		changed = []string{}
	}
	return CredentialsResponse{
		AuthToken:      logutil.MaskSecret(c.AuthToken),
		HubAccessToken: logutil.MaskSecret(c.HubAccessToken),
		Cookie:         logutil.MaskSecret(c.Cookie),
		SubscribeToken: logutil.MaskSecret(c.SubscribeToken),
		Source:         c.Source,
		UpdatedAt:      c.UpdatedAt,
		Changed:        changed,
		History:        history,
	}
}

type StatusResponse struct {
	Connection    signalr.Stats         `json:"connection"`
	Notifications appnotification.Stats `json:"notifications"`
	Totals        map[string]uint64     `json:"totals"`
	Deposit       *deposit.Status       `json:"deposit,omitempty"`
	TokenSource   *tokensource.Status   `json:"token_source,omitempty"`
	Credentials   CredentialsResponse   `json:"credentials"`
	Destinations  int                   `json:"destinations"`
	Uptime        string                `json:"uptime"`
}

type NotificationResponse struct {
	Channel       string    `json:"channel"`
	ExternalID    string    `json:"external_id"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	ClientName    string    `json:"client_name"`
	ClientLogin   string    `json:"client_login,omitempty"`
	PaymentSystem string    `json:"payment_system,omitempty"`
	State         int       `json:"state"`
	StateName     string    `json:"state_name,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
	ReceivedAt    time.Time `json:"received_at"`
}

func ToNotificationResponses(records []notification.Record) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(records))
	for _, r := range records {
		out = append(out, NotificationResponse{
			Channel:       string(r.Channel),
			ExternalID:    r.ExternalID,
			Amount:        r.Amount.String(),
			Currency:      r.Currency,
			ClientName:    r.ClientName,
			ClientLogin:   r.ClientLogin,
			PaymentSystem: r.PaymentSystem,
			State:         r.State,
			StateName:     r.StateName,
			RequestedAt:   r.RequestedAt,
			ReceivedAt:    r.ReceivedAt,
		})
	}
	return out
}

type NotificationsQuery struct {
	Channel notification.Channel
	Limit   int
}

// ParseNotificationsQuery reads channel and limit. An empty channel means
// both; limit defaults to DefaultListLimit and is capped at MaxListLimit.
func ParseNotificationsQuery(c *gin.Context) (NotificationsQuery, error) {
	q := NotificationsQuery{Limit: constants.DefaultListLimit}

	switch ch := notification.Channel(strings.ToLower(strings.TrimSpace(c.Query("channel")))); ch {
	case "", notification.ChannelWithdrawal, notification.ChannelDeposit:
		q.Channel = ch
	default:
		return q, errors.NewValidationError("invalid channel", "channel must be one of [withdrawal deposit]")
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return q, errors.NewValidationError("invalid limit", "limit must be a positive integer")
		}
		q.Limit = min(limit, constants.MaxListLimit)
	}
	return q, nil
}
