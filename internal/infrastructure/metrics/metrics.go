// Package metrics holds the Prometheus collectors of the loan coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

var LedgerSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "p2plend",
	Subsystem: "ledger",
	Name:      "submissions_total",
	Help:      "Ledger transactions submitted, by method and outcome.",
}, []string{"method", "outcome"})

var LedgerConfirmSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "p2plend",
	Subsystem: "ledger",
	Name:      "confirm_seconds",
	Help:      "Time spent waiting for a ledger confirmation.",
	Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120},
}, []string{"method"})

// ─── Coordinator ────────────────────────────────────────────────────────────

var Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "p2plend",
	Subsystem: "coordinator",
	Name:      "operations_total",
	Help:      "Coordinator operations, by operation and result kind.",
}, []string{"op", "result"})

var ProjectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "p2plend",
	Subsystem: "coordinator",
	Name:      "projection_failures_total",
	Help:      "Record writes that failed after ledger confirmation.",
}, []string{"op"})

// ─── Reconciler ─────────────────────────────────────────────────────────────

var Reconciles = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "p2plend",
	Subsystem: "reconciler",
	Name:      "runs_total",
	Help:      "Reconcile attempts, by trigger and outcome.",
}, []string{"trigger", "outcome"})

var ReconcileQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "p2plend",
	Subsystem: "reconciler",
	Name:      "queue_depth",
	Help:      "Loans waiting for a reconcile retry.",
})
