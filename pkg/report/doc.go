/*
Package report pushes node status to the dashboard.

On a fixed schedule the reporter probes containerd (keeping the status
endpoint's runtime component current) and, when a dashboard URL is
configured, posts a JSON snapshot of node health and every workload's
lifecycle state. Pushes retry with exponential backoff; a dashboard
outage only costs reports, never workload operations.
*/
package report
