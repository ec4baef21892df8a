package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"airsense-backend/internal/model"
)

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// GetDevices handles GET /api/tenants/:tenant_id/devices.
func (h *Handler) GetDevices(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	var devices []model.Device
	if err := h.store.DB().WithContext(c.Request.Context()).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&devices).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve devices"})
		return
	}
	c.JSON(http.StatusOK, devices)
}

// GetDevice handles GET /api/tenants/:tenant_id/devices/:device_id.
func (h *Handler) GetDevice(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}

	var device model.Device
	res := h.store.DB().WithContext(c.Request.Context()).
		Where("id = ? AND tenant_id = ?", deviceID, tenantID).
		Limit(1).
		Find(&device)
	if res.Error != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve device"})
		return
	}
	if res.RowsAffected == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	c.JSON(http.StatusOK, device)
}

type addDeviceRequest struct {
	Name string `json:"name"`
	MAC  string `json:"mac" binding:"required"`
}

// AddDevice handles POST /api/tenants/:tenant_id/devices.
func (h *Handler) AddDevice(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	var req addDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deviceID, err := h.store.AddByMAC(c.Request.Context(), tenantID, req.Name, req.MAC, model.ProviderQingping)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": deviceID})
}

type renameDeviceRequest struct {
	Name string `json:"name" binding:"required"`
}

// RenameDevice handles PUT /api/tenants/:tenant_id/devices/:device_id/name.
func (h *Handler) RenameDevice(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}

	var req renameDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.RenameDevice(c.Request.Context(), tenantID, deviceID, req.Name); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type visibleMetricsRequest struct {
	VisibleMetrics string `json:"visibleMetrics"`
}

// UpdateVisibleMetrics handles PUT /api/tenants/:tenant_id/devices/:device_id/metrics.
func (h *Handler) UpdateVisibleMetrics(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}

	var req visibleMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.UpdateVisibleMetrics(c.Request.Context(), tenantID, deviceID, req.VisibleMetrics); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reportIntervalRequest struct {
	Seconds int `json:"seconds" binding:"required"`
}

// UpdateReportInterval handles PUT /api/tenants/:tenant_id/devices/:device_id/report-interval.
// The change is pushed to the provider and logged as an auditable event.
func (h *Handler) UpdateReportInterval(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}

	var req reportIntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.syncer.PushReportInterval(c.Request.Context(), tenantID, deviceID, req.Seconds); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteDevice handles DELETE /api/tenants/:tenant_id/devices/:device_id.
func (h *Handler) DeleteDevice(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}

	var device model.Device
	if err := h.store.DB().WithContext(c.Request.Context()).
		Where("id = ? AND tenant_id = ?", deviceID, tenantID).
		First(&device).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}

	counts, err := h.store.DeleteDevice(c.Request.Context(), deviceID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	// Releasing the sensor upstream is best-effort; the local cascade
	// already completed.
	h.syncer.UnbindFromProvider(c.Request.Context(), tenantID, device.Provider, device.ProviderDeviceID)

	c.JSON(http.StatusOK, counts)
}

// CleanupOrphanedReadings handles POST /internal/maintenance/orphaned-readings.
// Internal-only integrity pass, not part of the tenant-facing surface.
func (h *Handler) CleanupOrphanedReadings(c *gin.Context) {
	deleted, err := h.store.CleanupOrphanedReadings(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
