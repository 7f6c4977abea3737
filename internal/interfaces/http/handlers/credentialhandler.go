package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bowatch/bowatch/internal/interfaces/dto"
	"github.com/bowatch/bowatch/internal/shared/errors"
	"github.com/bowatch/bowatch/internal/shared/logger"
	"github.com/bowatch/bowatch/internal/shared/utils"
)

// SourceAdminAPI tags credential updates made through this handler.
const SourceAdminAPI = "admin-api"

type CredentialHandler struct {
	store  CredentialStore
	logger logger.Interface
}

func NewCredentialHandler(store CredentialStore, log logger.Interface) *CredentialHandler {
	return &CredentialHandler{store: store, logger: log}
}

func (h *CredentialHandler) GetCredentials(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "", dto.ToCredentialsResponse(h.store.Get(), nil, h.store.Updates()))
}

// UpdateCredentials merges the supplied tokens. Subscribers of the store
// restart the hub session when a session field changed.
func (h *CredentialHandler) UpdateCredentials(c *gin.Context) {
	var req dto.UpdateCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnw("invalid request body for update credentials", "error", err)
		utils.ErrorResponseWithError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	patch, err := req.ToPatch()
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	current, changed := h.store.Update(c.Request.Context(), patch, SourceAdminAPI)
	if len(changed) == 0 {
		utils.SuccessResponse(c, http.StatusOK, "Credentials unchanged", dto.ToCredentialsResponse(current, changed, nil))
		return
	}

	h.logger.Infow("credentials updated via admin api", "changed", changed, "client_ip", c.ClientIP())
	utils.SuccessResponse(c, http.StatusOK, "Credentials updated", dto.ToCredentialsResponse(current, changed, nil))
}
