package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bowatch/bowatch/internal/interfaces/dto"
	"github.com/bowatch/bowatch/internal/shared/utils"
)

type NotificationHandler struct {
	history NotificationHistory
}

func NewNotificationHandler(history NotificationHistory) *NotificationHandler {
	return &NotificationHandler{history: history}
}

// ListNotifications returns the most recent alerts held in memory, newest
// first.
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	q, err := dto.ParseNotificationsQuery(c)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	records := h.history.Recent(q.Channel, q.Limit)
	utils.SuccessResponse(c, http.StatusOK, "", dto.ToNotificationResponses(records))
}
