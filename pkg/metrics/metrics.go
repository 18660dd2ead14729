package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Workload metrics
	WorkloadsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_workloads_total",
			Help: "Number of workloads by lifecycle state",
		},
		[]string{"state"},
	)

	ProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hutch_provision_duration_seconds",
			Help:    "Time from provisioning start to ready or failed",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	ProvisionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_provision_failures_total",
			Help: "Total number of provisioning pipelines that ended in failed state",
		},
	)

	ScriptDownloadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_script_download_failures_total",
			Help: "Total number of install script downloads that exhausted their retries",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_api_requests_total",
			Help: "Total number of control API requests by route and status",
		},
		[]string{"route", "status"},
	)

	// Telemetry metrics
	TelemetryConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_telemetry_connections",
			Help: "Open telemetry connections by mode",
		},
		[]string{"mode"},
	)

	TelemetryAuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_telemetry_auth_failures_total",
			Help: "Total number of telemetry connections closed for failed authentication",
		},
	)
)

// Register registers all metrics with the default prometheus registry
func Register() {
	prometheus.MustRegister(
		WorkloadsTotal,
		ProvisionDuration,
		ProvisionFailuresTotal,
		ScriptDownloadFailuresTotal,
		APIRequestsTotal,
		TelemetryConnections,
		TelemetryAuthFailuresTotal,
	)
}

// Handler returns the prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
