// Package metrics
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandspy_classifications_total",
			Help: "Total number of completed classifications, labeled by final label.",
		},
		[]string{"label"},
	)
	StageUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandspy_stage_used_total",
			Help: "Which fetch stage ultimately supplied the evidence for a classification.",
		},
		[]string{"stage"},
	)
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brandspy_stage_duration_seconds",
			Help:    "Duration of each fetch stage in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	FetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandspy_fetch_failures_total",
			Help: "Total number of failed fetch attempts, labeled by stage.",
		},
		[]string{"stage"},
	)
	VisionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandspy_vision_requests_total",
			Help: "Total number of vision API calls, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_name"},
	)
	PendingJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "brandspy_pending_jobs",
			Help: "Number of domain jobs currently waiting to be processed.",
		},
	)
)

func init() {
	prometheus.MustRegister(ClassificationsTotal)
	prometheus.MustRegister(StageUsed)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(FetchFailures)
	prometheus.MustRegister(VisionRequests)
	prometheus.MustRegister(DBQueryDuration)
	prometheus.MustRegister(PendingJobs)
}

func ExposeMetrics(addr string) {
	slog.Info("Exposing Prometheus metrics", "address", addr)
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("Failed to start Prometheus metrics server", "error", err)
	}
}
