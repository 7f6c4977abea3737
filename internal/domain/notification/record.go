// Package notification holds the events bowatch alerts on and the provider
// payloads they are built from.
package notification

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Channel separates withdrawal ids from deposit ids; each has its own
// processed-id set.
type Channel string

const (
	ChannelWithdrawal Channel = "withdrawal"
	ChannelDeposit    Channel = "deposit"
)

func (c Channel) IsValid() bool {
	return c == ChannelWithdrawal || c == ChannelDeposit
}

// Record is one emitted alert.
type Record struct {
	Channel       Channel         `json:"channel"`
	ExternalID    string          `json:"external_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ClientID      string          `json:"client_id,omitempty"`
	ClientName    string          `json:"client_name"`
	ClientLogin   string          `json:"client_login,omitempty"`
	PaymentSystem string          `json:"payment_system,omitempty"`
	AccountHolder string          `json:"account_holder,omitempty"`
	IBAN          string          `json:"iban,omitempty"`
	BTag          string          `json:"btag,omitempty"`
	Note          string          `json:"note,omitempty"`
	State         int             `json:"state"`
	StateName     string          `json:"state_name,omitempty"`
	RequestedAt   time.Time       `json:"requested_at"`
	ReceivedAt    time.Time       `json:"received_at"`
	Message       string          `json:"message,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}
