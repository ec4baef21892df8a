package api

import (
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"airsense-backend/internal/metrics"
	"airsense-backend/internal/mw"
	"airsense-backend/internal/store"
	"airsense-backend/internal/syncer"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, sync *syncer.Service, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, sync, webpushOptions)

	// Rate limit: 10 requests per second with a burst of 5
	rateLimiter := mw.RateLimiter(rate.Limit(10), 5)

	// Cache read endpoints briefly; dashboards poll aggressively.
	cacheStore := cache.New(1*time.Minute, 10*time.Minute)
	caching := mw.Cache(cacheStore, 1*time.Minute)

	// Provider push channel. Authenticated by signature, never cached
	// or rate limited against the provider's own retries.
	r.POST("/webhooks/qingping/:tenant_id", handler.PostWebhook)
	// A hook URL configured without the tenant segment is a caller
	// mistake, not a missing route.
	r.POST("/webhooks/qingping", func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing tenant id"})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/tenants/:tenant_id/devices", handler.GetDevices)
		api.POST("/tenants/:tenant_id/devices", handler.AddDevice)
		api.GET("/tenants/:tenant_id/devices/:device_id", handler.GetDevice)
		api.PUT("/tenants/:tenant_id/devices/:device_id/name", handler.RenameDevice)
		api.PUT("/tenants/:tenant_id/devices/:device_id/metrics", handler.UpdateVisibleMetrics)
		api.PUT("/tenants/:tenant_id/devices/:device_id/report-interval", handler.UpdateReportInterval)
		api.DELETE("/tenants/:tenant_id/devices/:device_id", handler.DeleteDevice)
		api.GET("/tenants/:tenant_id/devices/:device_id/export", handler.GetExport)

		api.GET("/devices/:device_id/readings", caching, handler.GetHistory)
		api.GET("/devices/:device_id/readings/aggregated", caching, handler.GetHistoryAggregated)

		api.POST("/tenants/:tenant_id/providers/qingping", handler.ConnectProvider)
		api.POST("/tenants/:tenant_id/providers/qingping/sync", handler.SyncProvider)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	// Internal maintenance surface; deployments keep this off the
	// public ingress.
	internal := r.Group("/internal")
	{
		internal.POST("/maintenance/orphaned-readings", handler.CleanupOrphanedReadings)
	}

	return r
}
