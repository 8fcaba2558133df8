package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CamerasCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streams_cameras_created_total",
		Help: "Total number of cameras created",
	})

	CamerasRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streams_cameras_removed_total",
		Help: "Total number of cameras removed, by reason",
	}, []string{"reason"})

	ProducersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streams_producers_created_total",
		Help: "Total number of ingest producers created",
	}, []string{"kind"})

	ProducersClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streams_producers_closed_total",
		Help: "Total number of ingest producers closed, by kind and reason",
	}, []string{"kind", "reason"})

	LivenessStatsErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streams_liveness_stats_errors_total",
		Help: "Stats fetches that failed or timed out during a liveness tick",
	}, []string{"kind"})

	LivenessTickPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streams_liveness_tick_panics_total",
		Help: "Liveness ticks that panicked and were recovered",
	})

	ConsumersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streams_consumers_active",
		Help: "Current number of registered viewer consumers",
	})

	ViewerTransportsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streams_viewer_transports_active",
		Help: "Current number of viewer-facing transports",
	})

	EngineRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streams_engine_request_duration_seconds",
		Help:    "Latency of media engine requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"op", "result"})

	CleanupFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streams_cleanup_failures_total",
		Help: "Best-effort teardown steps that failed",
	}, []string{"step"})

	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streams_events_dropped_total",
		Help: "Lifecycle events dropped because the bus queue was full",
	})

	EventPublishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streams_event_publish_failures_total",
		Help: "Lifecycle events a sink failed to accept",
	}, []string{"sink"})

	RateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streams_ratelimit_decisions_total",
		Help: "Rate limit decisions, by scope and result",
	}, []string{"scope", "result"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streams_http_requests_total",
		Help: "HTTP requests served, by method, route and status class",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streams_http_request_duration_seconds",
		Help:    "Latency of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
