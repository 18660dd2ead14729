/*
Package metrics exposes Prometheus metrics and daemon health.

# Metrics

	hutch_workloads_total{state}            gauge, workloads per state
	hutch_provision_duration_seconds        histogram, pipeline runs
	hutch_provision_failures_total          counter
	hutch_script_download_failures_total    counter
	hutch_api_requests_total{route,status}  counter, control API
	hutch_telemetry_connections{mode}       gauge, live channels
	hutch_telemetry_auth_failures_total     counter

Register installs the collectors once at startup; Handler serves the
standard Prometheus scrape endpoint.

# Health

HealthTracker aggregates component health (containerd connectivity,
anything else a subsystem reports) into one status body. The daemon is
"healthy" when every component is, "degraded" otherwise. The handler
answers 200 in both cases so probes can tell a degraded daemon from a
dead one; the body carries the per-component detail.

	health := metrics.NewHealthTracker(version)
	health.SetComponent("containerd", false, "connection refused")
	mux.HandleFunc("GET /health", health.HealthHandler())
*/
package metrics
