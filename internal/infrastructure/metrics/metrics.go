// Package metrics provides Prometheus metrics for villa-auth.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcileTotal counts finished reconciliations by trigger and outcome.
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "villa_auth",
			Name:      "reconcile_total",
			Help:      "Total number of identity reconciliations",
		},
		[]string{"trigger", "outcome"},
	)

	// ReconcileDuration measures remote reconciliation duration.
	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "villa_auth",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of remote reconciliations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	// LoginTotal counts password sign-ins by outcome.
	LoginTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "villa_auth",
			Name:      "login_total",
			Help:      "Total number of password sign-ins",
		},
		[]string{"outcome"},
	)

	// GuardDecisionsTotal counts route guard decisions.
	GuardDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "villa_auth",
			Name:      "guard_decisions_total",
			Help:      "Total number of route guard decisions",
		},
		[]string{"decision", "reason"},
	)

	// EventsTotal counts identity events received.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "villa_auth",
			Name:      "events_total",
			Help:      "Total number of identity events received",
		},
		[]string{"source", "kind"},
	)

	// StoreErrorsTotal counts session store failures.
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "villa_auth",
			Name:      "store_errors_total",
			Help:      "Total number of session store errors",
		},
		[]string{"operation"},
	)

	// ActiveReconcilers tracks the number of live per-visitor reconcilers.
	ActiveReconcilers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "villa_auth",
			Name:      "active_reconcilers",
			Help:      "Number of live per-visitor reconcilers",
		},
	)

	// ProviderConnectionStatus tracks identity provider reachability.
	ProviderConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "villa_auth",
			Name:      "provider_connection_status",
			Help:      "Identity provider status (1 = connected, 0 = disconnected)",
		},
	)
)

// RecordReconcile records a finished reconciliation.
func RecordReconcile(trigger, outcome string, duration float64) {
	ReconcileTotal.WithLabelValues(trigger, outcome).Inc()
	if duration > 0 {
		ReconcileDuration.WithLabelValues(trigger).Observe(duration)
	}
}

// RecordLogin records a sign-in attempt.
func RecordLogin(outcome string) {
	LoginTotal.WithLabelValues(outcome).Inc()
}

// RecordGuardDecision records a terminal guard decision.
func RecordGuardDecision(decision, reason string) {
	GuardDecisionsTotal.WithLabelValues(decision, reason).Inc()
}

// RecordEvent records a received identity event.
func RecordEvent(source, kind string) {
	EventsTotal.WithLabelValues(source, kind).Inc()
}

// RecordStoreError records a session store failure.
func RecordStoreError(operation string) {
	StoreErrorsTotal.WithLabelValues(operation).Inc()
}

// SetProviderConnected sets the identity provider status to connected.
func SetProviderConnected() {
	ProviderConnectionStatus.Set(1)
}

// SetProviderDisconnected sets the identity provider status to disconnected.
func SetProviderDisconnected() {
	ProviderConnectionStatus.Set(0)
}
