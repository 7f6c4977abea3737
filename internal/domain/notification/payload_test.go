package notification

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubEvent_IsWithdrawalRequest(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"match", `{"Type":3,"OperationType":1,"Object":{"Id":1}}`, true},
		{"wrong type", `{"Type":2,"OperationType":1,"Object":{"Id":1}}`, false},
		{"wrong operation", `{"Type":3,"OperationType":2,"Object":{"Id":1}}`, false},
		{"missing object", `{"Type":3,"OperationType":1}`, false},
		{"null object", `{"Type":3,"OperationType":1,"Object":null}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ev HubEvent
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &ev))
			assert.Equal(t, tc.want, ev.IsWithdrawalRequest())
		})
	}
}

func TestWithdrawalObject_LooseFields(t *testing.T) {
	raw := `{"Id":555,"Amount":"1250.50","State":0,"ClientId":98765,"CurrencyId":"TRY",
		"ClientFirstName":"Ayse","ClientLastName":"Yilmaz","RequestTime":"2026-10-16T09:00:00"}`

	var w WithdrawalObject
	require.NoError(t, json.Unmarshal([]byte(raw), &w))

	assert.Equal(t, ExternalID("555"), w.ID)
	assert.Equal(t, "1250.5", w.Amount.String())
	assert.Equal(t, FlexString("98765"), w.ClientID)
	assert.Equal(t, "Ayse Yilmaz", w.ClientName())
	assert.Equal(t, "2026-10-16T09:00:00", w.RequestTimestamp())
}

func TestExternalID_String(t *testing.T) {
	var id ExternalID
	require.NoError(t, json.Unmarshal([]byte(`" 42 "`), &id))
	assert.Equal(t, ExternalID("42"), id)
	require.NoError(t, json.Unmarshal([]byte(`null`), &id))
	assert.Equal(t, ExternalID(""), id)
}

func TestExtractIBAN(t *testing.T) {
	assert.Equal(t, "TR330006100519786457841326", ExtractIBAN("iban: tr33 0006 1005 1978 6457 8413 26 ziraat"))
	assert.Equal(t, "TR330006100519786457841326", ExtractIBAN("TR330006100519786457841326"))
	assert.Equal(t, "", ExtractIBAN("papara 1234567"))
}

func TestStateCode(t *testing.T) {
	cases := []struct {
		raw     string
		want    StateCode
		wantErr bool
	}{
		{`{"State":0}`, StateCode{Value: 0, Present: true}, false},
		{`{"State":" 2 "}`, StateCode{Value: 2, Present: true}, false},
		{`{"State":null}`, StateCode{}, false},
		{`{}`, StateCode{}, false},
		{`{"State":"new"}`, StateCode{}, true},
		{`{"State":1.5}`, StateCode{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			var w WithdrawalObject
			err := json.Unmarshal([]byte(tc.raw), &w)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, w.State)
		})
	}

	assert.False(t, StateCode{}.Is(StateNew))
	assert.True(t, StateCode{Present: true}.Is(StateNew))
}

func TestChannel_IsValid(t *testing.T) {
	assert.True(t, ChannelWithdrawal.IsValid())
	assert.False(t, Channel("bonus").IsValid())
}
