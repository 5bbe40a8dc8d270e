// Package metrics exposes Prometheus counters for the settlement core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossrail_events_reconciled_total",
		Help: "Payment events processed by the reconciler, by network and outcome.",
	}, []string{"network", "outcome"})

	DuplicateEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossrail_duplicate_events_total",
		Help: "Payment events skipped because their identity was already processed.",
	}, []string{"network"})

	OfframpStageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossrail_offramp_stage_failures_total",
		Help: "Off-ramp pipeline failures by stage.",
	}, []string{"stage"})

	OfframpsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossrail_offramps_completed_total",
		Help: "Off-ramp transactions that reached completed.",
	})

	OfframpsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossrail_offramps_failed_total",
		Help: "Off-ramp transactions that reached failed.",
	})

	SessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossrail_sessions_swept_total",
		Help: "Expired off-ramp sessions removed by the sweeper.",
	})

	ChainReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossrail_chain_reconnects_total",
		Help: "Chain subscription reconnect attempts by network.",
	}, []string{"network"})
)

// Reconciler outcomes.
const (
	OutcomePaid    = "paid"
	OutcomeDropped = "dropped"
	OutcomeNoop    = "noop"
	OutcomeError   = "error"
)
