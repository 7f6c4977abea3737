// Package credential models the back-office secrets the listener runs with.
package credential

import (
	"strings"
	"time"
)

// Field names, as they appear in change logs and the tokens file.
const (
	FieldAuthToken      = "authToken"
	FieldHubAccessToken = "hubAccessToken"
	FieldCookie         = "cookie"
	FieldSubscribeToken = "subscriptionToken"
)

// Credentials is an immutable snapshot. The zero value is valid but empty.
type Credentials struct {
	AuthToken      string    `json:"auth_token"`
	HubAccessToken string    `json:"hub_access_token"`
	Cookie         string    `json:"cookie"`
	SubscribeToken string    `json:"subscribe_token"`
	UpdatedAt      time.Time `json:"updated_at"`
	Source         string    `json:"source"`
}

// Patch lists replacement values; empty fields leave the current value alone.
type Patch struct {
	AuthToken      string `json:"auth_token"`
	HubAccessToken string `json:"hub_access_token"`
	Cookie         string `json:"cookie"`
	SubscribeToken string `json:"subscribe_token"`
}

func (p Patch) IsEmpty() bool {
	return p.AuthToken == "" && p.HubAccessToken == "" && p.Cookie == "" && p.SubscribeToken == ""
}

// Apply returns c with p merged in and the names of the fields whose value
// actually changed.
func (c Credentials) Apply(p Patch) (Credentials, []string) {
	var changed []string
	set := func(dst *string, v, name string) {
		v = strings.TrimSpace(v)
		if v == "" || v == *dst {
			return
		}
		*dst = v
		changed = append(changed, name)
	}

	next := c
	set(&next.AuthToken, p.AuthToken, FieldAuthToken)
	set(&next.HubAccessToken, p.HubAccessToken, FieldHubAccessToken)
	set(&next.Cookie, p.Cookie, FieldCookie)
	set(&next.SubscribeToken, p.SubscribeToken, FieldSubscribeToken)
	return next, changed
}

// AffectsSession reports whether any changed field invalidates the live
// SignalR session. The auth token is only used by the deposit API.
func AffectsSession(changed []string) bool {
	for _, f := range changed {
		switch f {
		case FieldHubAccessToken, FieldCookie, FieldSubscribeToken:
			return true
		}
	}
	return false
}

// Ready reports whether a SignalR session can be attempted.
func (c Credentials) Ready() bool {
	return c.HubAccessToken != ""
}
