package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// invocation is a client-to-hub call in the classic protocol.
type invocation struct {
	Hub       string `json:"H"`
	Method    string `json:"M"`
	Arguments []any  `json:"A"`
	ID        int64  `json:"I"`
}

type subscription struct {
	Subscription int `json:"Subscription"`
}

type subscribeArgument struct {
	Data  []subscription `json:"Data"`
	Token string         `json:"Token"`
}

// BuildSubscribeFrame encodes the Subscribe invocation sent once per session.
func BuildSubscribeFrame(hub string, ids []int, token string, seq int64) ([]byte, error) {
	subs := make([]subscription, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, subscription{Subscription: id})
	}
	return json.Marshal(invocation{
		Hub:       hub,
		Method:    "Subscribe",
		Arguments: []any{subscribeArgument{Data: subs, Token: token}},
		ID:        seq,
	})
}

// BuildPingFrame encodes the hub-level Ping invocation.
func BuildPingFrame(hub string, seq int64) ([]byte, error) {
	return json.Marshal(invocation{
		Hub:       hub,
		Method:    "Ping",
		Arguments: []any{},
		ID:        seq,
	})
}

// Frame is an inbound server message. A keep-alive is the empty object; an
// invocation result carries I (and R or E); pushed calls arrive in M.
type Frame struct {
	C        string          `json:"C,omitempty"`
	Messages []HubMessage    `json:"M,omitempty"`
	S        int             `json:"S,omitempty"`
	I        json.RawMessage `json:"I,omitempty"`
	R        json.RawMessage `json:"R,omitempty"`
	E        string          `json:"E,omitempty"`
}

// HubMessage is one server-to-client invocation.
type HubMessage struct {
	Hub       string     `json:"H"`
	Method    string     `json:"M"`
	Arguments []Argument `json:"A"`
}

// IsKeepAlive reports whether raw is an empty or "{}" frame.
func IsKeepAlive(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("{}"))
}

// ParseFrame decodes an inbound frame.
func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

// IsInvocationResult reports whether the frame answers a client invocation,
// which includes the reply to a hub Ping.
func (f *Frame) IsInvocationResult() bool {
	return len(f.I) > 0
}

// ArgumentKind tags how a hub argument was encoded on the wire.
type ArgumentKind int

const (
	ArgumentObject ArgumentKind = iota
	// ArgumentRawString is JSON text sent as a JSON string.
	ArgumentRawString
	ArgumentOther
)

// Argument normalises the two encodings the provider uses for the same
// payload. Payload always holds the decoded JSON document.
type Argument struct {
	Kind    ArgumentKind
	Payload json.RawMessage
}

func (a *Argument) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("empty argument")
	}
	switch b[0] {
	case '"':
		var text string
		if err := json.Unmarshal(b, &text); err != nil {
			return err
		}
		inner := bytes.TrimSpace([]byte(text))
		if !json.Valid(inner) {
			a.Kind = ArgumentOther
			a.Payload = append(json.RawMessage(nil), b...)
			return nil
		}
		a.Kind = ArgumentRawString
		a.Payload = inner
	case '{':
		a.Kind = ArgumentObject
		a.Payload = append(json.RawMessage(nil), b...)
	default:
		a.Kind = ArgumentOther
		a.Payload = append(json.RawMessage(nil), b...)
	}
	return nil
}

// Decode unmarshals the normalised payload into v. Only object payloads,
// direct or string-encoded, are decodable.
func (a *Argument) Decode(v any) error {
	if a.Kind == ArgumentOther || len(a.Payload) == 0 || a.Payload[0] != '{' {
		return fmt.Errorf("argument is not an object")
	}
	return json.Unmarshal(a.Payload, v)
}
