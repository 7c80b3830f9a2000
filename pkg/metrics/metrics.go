package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts dispatched requests by type and outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_requests_total",
			Help: "Total requests dispatched, by request type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// ConnectedAccounts tracks currently authenticated connections.
	ConnectedAccounts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentctl_connected_accounts",
			Help: "Number of currently connected, authenticated accounts",
		},
	)

	// TasksByStatus tracks task counts per lifecycle state.
	TasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentctl_tasks",
			Help: "Tasks on the board by status",
		},
		[]string{"status"},
	)

	// AutoAcceptanceRuns counts auto-acceptance outcomes.
	AutoAcceptanceRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_auto_acceptance_runs_total",
			Help: "Auto-acceptance runs by result",
		},
		[]string{"result"},
	)

	// SLAEscalations counts coordinator recommendations by action.
	SLAEscalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_sla_escalations_total",
			Help: "SLA coordinator escalations by action",
		},
		[]string{"action"},
	)

	// SharedSessionsActive tracks live pair sessions.
	SharedSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentctl_shared_sessions_active",
			Help: "Active in-memory shared sessions",
		},
	)
)

// Register installs all collectors on the default registry. Safe to call
// once at startup.
func Register() {
	prometheus.MustRegister(
		RequestsTotal,
		ConnectedAccounts,
		TasksByStatus,
		AutoAcceptanceRuns,
		SLAEscalations,
		SharedSessionsActive,
	)
}
