// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all service metrics.
var Registry = prometheus.NewRegistry()

var (
	// SyncCycles counts provider sync cycles by outcome.
	SyncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airsense",
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Provider sync cycles by outcome",
		},
		[]string{"outcome"}, // ok, error
	)

	// DeviceSyncFailures counts devices skipped within a sync loop.
	DeviceSyncFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "airsense",
			Subsystem: "sync",
			Name:      "device_failures_total",
			Help:      "Devices skipped during multi-device sync loops",
		},
	)

	// ReadingsIngested counts ingested readings by source path.
	ReadingsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airsense",
			Subsystem: "ingest",
			Name:      "readings_total",
			Help:      "Readings ingested by source",
		},
		[]string{"source"}, // poll, webhook, sync
	)

	// ReadingsExpired counts readings deleted by retention cleanup.
	ReadingsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "airsense",
			Subsystem: "retention",
			Name:      "readings_deleted_total",
			Help:      "Readings deleted by retention cleanup",
		},
	)

	// WebhooksRejected counts webhook requests rejected before ingestion.
	WebhooksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airsense",
			Subsystem: "webhook",
			Name:      "rejected_total",
			Help:      "Webhook requests rejected before ingestion",
		},
		[]string{"reason"}, // signature, tenant, device
	)

	// TokenRefreshes counts provider token refreshes by outcome.
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airsense",
			Subsystem: "sync",
			Name:      "token_refreshes_total",
			Help:      "Provider OAuth token refreshes by outcome",
		},
		[]string{"outcome"},
	)

	// JobsDue tracks how many scheduled jobs are currently runnable,
	// sampled on every runner poll. A value that keeps growing means the
	// runner is stalled or falling behind.
	JobsDue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "airsense",
			Subsystem: "jobs",
			Name:      "due",
			Help:      "Scheduled jobs currently due to run",
		},
	)
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(
		SyncCycles,
		DeviceSyncFailures,
		ReadingsIngested,
		ReadingsExpired,
		WebhooksRejected,
		TokenRefreshes,
		JobsDue,
	)
}

// Handler returns an HTTP handler for exposing the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
