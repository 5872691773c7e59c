// Package metrics defines the Prometheus metrics for the Lattice
// control plane. All metrics are registered with the default registry
// at init; no HTTP handler serving that registry is mounted anywhere in
// this module.
//
// Metric naming follows Prometheus conventions:
//   - lattice_ prefix for all custom metrics
//   - _total suffix for counters
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SpritesByStatus tracks the current fleet composition by derived
	// health status.
	SpritesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lattice_fleet_sprites_by_status",
			Help: "Number of tracked sprites, by derived health status.",
		},
		[]string{"status"},
	)

	// IntentsByState tracks the current intent count by lifecycle state.
	IntentsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lattice_intent_by_state",
			Help: "Number of intents currently in each lifecycle state.",
		},
		[]string{"state"},
	)

	// ReconcileFailuresTotal counts fleet reconciliation cycles that hit
	// an observation failure.
	ReconcileFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_fleet_reconcile_failures_total",
			Help: "Total fleet reconciliation cycles that encountered an observation failure.",
		},
	)

	// ActiveExecSessions is the number of exec sessions currently open.
	ActiveExecSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lattice_exec_active_sessions",
			Help: "Number of exec sessions currently open.",
		},
	)

	// GovernanceSyncErrorsTotal counts failed governance-issue sync
	// attempts.
	GovernanceSyncErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_governance_sync_errors_total",
			Help: "Total governance-issue sync attempts that failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SpritesByStatus,
		IntentsByState,
		ReconcileFailuresTotal,
		ActiveExecSessions,
		GovernanceSyncErrorsTotal,
	)
}

// SetSpriteStatusCounts replaces the sprites-by-status gauge values,
// zeroing any status not present in counts.
func SetSpriteStatusCounts(counts map[string]int) {
	for _, status := range []string{"ok", "converging", "degraded", "error"} {
		SpritesByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}

// SetIntentStateCounts sets the intents-by-state gauge for each state in
// counts; states absent from counts keep their previous value.
func SetIntentStateCounts(counts map[string]int) {
	for state, n := range counts {
		IntentsByState.WithLabelValues(state).Set(float64(n))
	}
}

// RecordReconcileFailure increments the reconciliation failure counter.
func RecordReconcileFailure() {
	ReconcileFailuresTotal.Inc()
}

// RecordGovernanceSyncError increments the governance sync error
// counter.
func RecordGovernanceSyncError() {
	GovernanceSyncErrorsTotal.Inc()
}
