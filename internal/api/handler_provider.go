package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"airsense-backend/internal/model"
)

type connectProviderRequest struct {
	AppKey        string `json:"appKey" binding:"required"`
	AppSecret     string `json:"appSecret" binding:"required"`
	WebhookSecret string `json:"webhookSecret"`
}

// ConnectProvider handles POST /api/tenants/:tenant_id/providers/qingping.
// Credentials are exchanged for a token and a full device sync runs
// immediately so the tenant sees their fleet right away.
func (h *Handler) ConnectProvider(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	var req connectProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.syncer.ConnectAndSync(c.Request.Context(), tenantID, model.ProviderQingping,
		req.AppKey, req.AppSecret, req.WebhookSecret)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SyncProvider handles POST /api/tenants/:tenant_id/providers/qingping/sync,
// an on-demand sync alongside the scheduled polls.
func (h *Handler) SyncProvider(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	failed, err := h.syncer.SyncTenant(c.Request.Context(), tenantID, model.ProviderQingping)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"failedDevices": failed})
}
