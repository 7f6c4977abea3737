package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Hub notification discriminator for a withdrawal request event.
	WithdrawalEventType     = 3
	WithdrawalOperationType = 1

	// StateNew is the only withdrawal state that produces an alert.
	StateNew = 0
)

// ExternalID accepts both numeric and string ids from the provider.
type ExternalID string

func (id *ExternalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ExternalID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("external id: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

// FlexString accepts strings, numbers and null for loosely typed fields
// such as ClientId or CurrencyId.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	default:
		*f = FlexString(string(b))
	}
	return nil
}

// StateCode is a provider state that arrives as a number, a numeric string
// or not at all. Present is false when the field is missing or null.
type StateCode struct {
	Value   int
	Present bool
}

func (s *StateCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = StateCode{}
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	n, ok := ParseIntLoose(raw)
	if !ok {
		return fmt.Errorf("state code %q is not an integer", raw)
	}
	*s = StateCode{Value: n, Present: true}
	return nil
}

// Is reports whether the state was sent and equals code.
func (s StateCode) Is(code int) bool {
	return s.Present && s.Value == code
}

// HubEvent is the decoded argument of a hub Notification invocation.
type HubEvent struct {
	Type          int             `json:"Type"`
	OperationType int             `json:"OperationType"`
	Object        json.RawMessage `json:"Object"`
}

// IsWithdrawalRequest applies the provider discriminator: Type 3,
// OperationType 1 and an Object present.
func (e *HubEvent) IsWithdrawalRequest() bool {
	return e.Type == WithdrawalEventType &&
		e.OperationType == WithdrawalOperationType &&
		len(e.Object) > 0 && !bytes.Equal(bytes.TrimSpace(e.Object), []byte("null"))
}

// WithdrawalObject is the Object of a withdrawal request event.
type WithdrawalObject struct {
	ID                ExternalID      `json:"Id"`
	Amount            decimal.Decimal `json:"Amount"`
	State             StateCode       `json:"State"`
	ClientID          FlexString      `json:"ClientId"`
	ClientFirstName   string          `json:"ClientFirstName"`
	ClientLastName    string          `json:"ClientLastName"`
	ClientLogin       string          `json:"ClientLogin"`
	CurrencyID        FlexString      `json:"CurrencyId"`
	PaymentSystemName string          `json:"PaymentSystemName"`
	AccountHolder     string          `json:"AccountHolder"`
	RequestTimeLocal  string          `json:"RequestTimeLocal"`
	RequestTime       string          `json:"RequestTime"`
	Info              string          `json:"Info"`
	BTag              string          `json:"BTag"`
}

func (w *WithdrawalObject) ClientName() string {
	return strings.TrimSpace(w.ClientFirstName + " " + w.ClientLastName)
}

// RequestTimestamp prefers the local request time the back office shows.
func (w *WithdrawalObject) RequestTimestamp() string {
	if w.RequestTimeLocal != "" {
		return w.RequestTimeLocal
	}
	return w.RequestTime
}

// DepositObject is one row of the deposit request listing.
type DepositObject struct {
	ID                ExternalID      `json:"Id"`
	StateName         string          `json:"StateName"`
	State             StateCode       `json:"State"`
	ClientID          FlexString      `json:"ClientId"`
	ClientName        string          `json:"ClientName"`
	ClientLogin       string          `json:"ClientLogin"`
	Amount            decimal.Decimal `json:"Amount"`
	CurrencyID        FlexString      `json:"CurrencyId"`
	PaymentSystemName string          `json:"PaymentSystemName"`
	BTag              string          `json:"BTag"`
	Info              string          `json:"Info"`
	RequestTime       string          `json:"RequestTime"`
	RequestTimeLocal  string          `json:"RequestTimeLocal"`

	Raw json.RawMessage `json:"-"`
}

func (d *DepositObject) RequestTimestamp() string {
	if d.RequestTimeLocal != "" {
		return d.RequestTimeLocal
	}
	return d.RequestTime
}

var ibanPattern = regexp.MustCompile(`\b[A-Z]{2}\d{2}(?:\s?[A-Z0-9]{4}){3,7}(?:\s?[A-Z0-9]{1,4})?\b`)

// ExtractIBAN finds an IBAN embedded in free text and returns it without
// spaces, or "" when none is present.
func ExtractIBAN(info string) string {
	m := ibanPattern.FindString(strings.ToUpper(info))
	if m == "" {
		return ""
	}
	return strings.ReplaceAll(m, " ", "")
}

// ParseIntLoose parses a decimal integer, tolerating surrounding spaces.
func ParseIntLoose(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}
