package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bowatch/bowatch/internal/interfaces/dto"
	"github.com/bowatch/bowatch/internal/shared/errors"
	"github.com/bowatch/bowatch/internal/shared/logger"
	"github.com/bowatch/bowatch/internal/shared/utils"
)

type ListenerHandler struct {
	session      SessionController
	destinations DestinationStore
	logger       logger.Interface
}

func NewListenerHandler(session SessionController, destinations DestinationStore, log logger.Interface) *ListenerHandler {
	return &ListenerHandler{session: session, destinations: destinations, logger: log}
}

// Reconnect resets the reconnect budget and restarts the session in the
// background. This is the manual way out of the failed state.
func (h *ListenerHandler) Reconnect(c *gin.Context) {
	previous := h.session.State()
	if !h.session.Reconnect() {
		utils.ErrorResponseWithError(c, errors.NewUnavailableError("listener is not running"))
		return
	}

	h.logger.Infow("reconnect requested via admin api", "previous_state", previous.String(), "client_ip", c.ClientIP())
	utils.SuccessResponse(c, http.StatusAccepted, "Reconnect scheduled", gin.H{"previous_state": previous.String()})
}

func (h *ListenerHandler) ListDestinations(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "", gin.H{"chat_ids": h.destinations.List()})
}

func (h *ListenerHandler) UpdateDestinations(c *gin.Context) {
	var req dto.UpdateDestinationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnw("invalid request body for update destinations", "error", err)
		utils.ErrorResponseWithError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	ids := h.destinations.Replace(req.ChatIDs)
	h.logger.Infow("telegram destinations replaced", "count", len(ids))
	utils.SuccessResponse(c, http.StatusOK, "Destinations updated", gin.H{"chat_ids": ids})
}
