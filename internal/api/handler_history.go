package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func queryTs(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " timestamp"})
		return nil, false
	}
	return &v, true
}

// GetHistory handles GET /api/devices/:device_id/readings, latest first.
func (h *Handler) GetHistory(c *gin.Context) {
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}
	startTs, ok := queryTs(c, "start")
	if !ok {
		return
	}
	endTs, ok := queryTs(c, "end")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	readings, err := h.store.History(c.Request.Context(), deviceID, startTs, endTs, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, readings)
}

// GetHistoryAggregated handles GET /api/devices/:device_id/readings/aggregated.
func (h *Handler) GetHistoryAggregated(c *gin.Context) {
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}
	startTs, ok := queryTs(c, "start")
	if !ok {
		return
	}
	endTs, ok := queryTs(c, "end")
	if !ok {
		return
	}
	if startTs == nil || endTs == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "start and end are required"})
		return
	}
	bucketMinutes, err := strconv.Atoi(c.DefaultQuery("bucket_minutes", "60"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid bucket_minutes"})
		return
	}

	points, err := h.store.HistoryAggregated(c.Request.Context(), deviceID, *startTs, *endTs, bucketMinutes)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// GetExport handles GET /api/tenants/:tenant_id/devices/:device_id/export,
// ascending chronological order with cap and clamp flags.
func (h *Handler) GetExport(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}
	startTs, ok := queryTs(c, "start")
	if !ok {
		return
	}
	endTs, ok := queryTs(c, "end")
	if !ok {
		return
	}
	if startTs == nil || endTs == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "start and end are required"})
		return
	}

	result, err := h.store.ForExport(c.Request.Context(), tenantID, deviceID, *startTs, *endTs)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"readings": result.Readings,
		"capped":   result.Capped,
		"clamped":  result.Clamped,
	})
}
