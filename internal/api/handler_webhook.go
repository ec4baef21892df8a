package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"airsense-backend/internal/metrics"
	"airsense-backend/internal/model"
	"airsense-backend/internal/parse"
	"airsense-backend/internal/qingping"
)

// PostWebhook handles POST /webhooks/qingping/:tenant_id, the provider's
// push channel. Signature verification is the only authentication gate
// on this path, so everything fails closed.
func (h *Handler) PostWebhook(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	var body qingping.WebhookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed webhook body"})
		return
	}

	cfg, err := h.store.GetProviderConfig(c.Request.Context(), tenantID, model.ProviderQingping)
	if err != nil || cfg.WebhookSecret == "" {
		metrics.WebhooksRejected.WithLabelValues("tenant").Inc()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "webhook not configured"})
		return
	}

	sig := body.Signature
	if !qingping.VerifySignature(sig.Timestamp.String(), sig.Token, sig.Signature, cfg.WebhookSecret) {
		metrics.WebhooksRejected.WithLabelValues("signature").Inc()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	mac, err := parse.NormalizeMAC(body.Payload.Info.MAC)
	if err != nil {
		metrics.WebhooksRejected.WithLabelValues("device").Inc()
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown device"})
		return
	}

	var device model.Device
	if err := h.store.DB().WithContext(c.Request.Context()).
		Where("tenant_id = ? AND provider = ? AND provider_device_id = ?", tenantID, model.ProviderQingping, mac).
		First(&device).Error; err != nil {
		metrics.WebhooksRejected.WithLabelValues("device").Inc()
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown device"})
		return
	}

	if _, err := h.syncer.IngestPushed(c.Request.Context(), device.ID, body.Payload.Data); err != nil {
		abortWithError(c, err)
		return
	}
	c.String(http.StatusOK, "ok")
}
