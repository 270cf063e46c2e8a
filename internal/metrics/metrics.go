// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PullRunsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controld_pull_runs_started_total",
			Help: "Pull lifecycle runs triggered",
		},
	)

	PullRunsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controld_pull_runs_completed_total",
			Help: "Pull lifecycle runs reaching a terminal state, by outcome",
		},
		[]string{"outcome"},
	)

	GatewaysCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controld_nat_gateways_created_total",
			Help: "NAT gateways created by provisioning runs",
		},
	)

	GatewaysReused = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controld_nat_gateways_reused_total",
			Help: "Runs that found an available NAT gateway and skipped creation",
		},
	)

	GatewaysDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controld_nat_gateways_deleted_total",
			Help: "NAT gateways deleted during teardown",
		},
	)

	RouteRestoreFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controld_route_restore_failures_total",
			Help: "Best-effort default-route restorations that failed",
		},
	)

	PullRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controld_pull_rounds_total",
			Help: "Pull trigger/inventory rounds issued against the backend",
		},
	)

	ScaleOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controld_scale_operations_total",
			Help: "Fleet scale operations by desired count and result",
		},
		[]string{"desired", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		PullRunsStarted,
		PullRunsCompleted,
		GatewaysCreated,
		GatewaysReused,
		GatewaysDeleted,
		RouteRestoreFailures,
		PullRounds,
		ScaleOps,
	)
}
