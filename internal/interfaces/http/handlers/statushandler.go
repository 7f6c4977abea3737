package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bowatch/bowatch/internal/infrastructure/signalr"
	"github.com/bowatch/bowatch/internal/interfaces/dto"
	"github.com/bowatch/bowatch/internal/shared/utils"
)

// StatusDeps lists the status sources. Deposit and TokenSource are nil when
// the feature is disabled.
type StatusDeps struct {
	Session       SessionController
	Connection    ConnectionStats
	Notifications NotificationStats
	History       NotificationHistory
	Credentials   CredentialStore
	Destinations  DestinationStore
	Deposit       DepositStatus
	TokenSource   TokenSourceStatus
}

type StatusHandler struct {
	deps    StatusDeps
	started time.Time
	now     func() time.Time
}

func NewStatusHandler(deps StatusDeps) *StatusHandler {
	return &StatusHandler{deps: deps, started: time.Now(), now: time.Now}
}

// Health reports 503 once the session has given up reconnecting, since only
// an operator can bring it back.
func (h *StatusHandler) Health(c *gin.Context) {
	state := h.deps.Session.State()
	body := gin.H{"status": "ok", "state": state.String()}
	if state == signalr.StateFailed {
		body["status"] = "failed"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *StatusHandler) GetStatus(c *gin.Context) {
	totals := make(map[string]uint64)
	for ch, n := range h.deps.History.Totals() {
		totals[string(ch)] = n
	}

	resp := dto.StatusResponse{
		Connection:    h.deps.Connection.Stats(),
		Notifications: h.deps.Notifications.Stats(),
		Totals:        totals,
		Credentials:   dto.ToCredentialsResponse(h.deps.Credentials.Get(), nil, nil),
		Destinations:  len(h.deps.Destinations.List()),
		Uptime:        h.now().Sub(h.started).Truncate(time.Second).String(),
	}
	if h.deps.Deposit != nil {
		st := h.deps.Deposit.Status()
		resp.Deposit = &st
	}
	if h.deps.TokenSource != nil {
		st := h.deps.TokenSource.Status()
		resp.TokenSource = &st
	}

	utils.SuccessResponse(c, http.StatusOK, "", resp)
}
