// Package metrics provides Prometheus collectors for call signaling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts sessions persisted by initiate.
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_sessions_created_total",
			Help: "Total number of call sessions created",
		},
		[]string{"type"},
	)

	// SessionTransitions counts persisted status transitions.
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_session_transitions_total",
			Help: "Total number of call session status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	// StaleWrites counts compare-and-swap conflicts seen by the state machine.
	StaleWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "call_session_stale_writes_total",
			Help: "Total number of optimistic concurrency conflicts on call sessions",
		},
	)

	// BusyRejections counts users skipped or rejected by the one-call-per-user policy.
	BusyRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "call_busy_rejections_total",
			Help: "Total number of users rejected because they were already in a call",
		},
	)

	// DeliveryFailures counts signaling events that could not be delivered.
	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_signal_delivery_failures_total",
			Help: "Total number of signaling events that failed to deliver",
		},
		[]string{"event"},
	)

	// ConnectedSockets tracks signaling sockets held by this node.
	ConnectedSockets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "call_signal_connected_sockets",
			Help: "Number of signaling websocket connections on this node",
		},
	)

	// RingSweepDuration tracks the duration of ring-timeout sweeps.
	RingSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "call_ring_sweep_duration_seconds",
			Help:    "Duration of ring-timeout sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RingSweepErrors counts failed sweeps.
	RingSweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "call_ring_sweep_errors_total",
			Help: "Total number of failed ring-timeout sweeps",
		},
	)

	// QualitySamples counts accepted quality samples by derived tier.
	QualitySamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_quality_samples_total",
			Help: "Total number of call quality samples by tier",
		},
		[]string{"tier"},
	)

	// NegotiationRelayed counts negotiation payloads forwarded.
	NegotiationRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "call_negotiation_relayed_total",
			Help: "Total number of negotiation payloads relayed",
		},
	)
)

// RecordTransition increments the transition counter.
func RecordTransition(from, to string) {
	SessionTransitions.WithLabelValues(from, to).Inc()
}

// RecordDeliveryFailure increments the delivery failure counter for event.
func RecordDeliveryFailure(event string) {
	DeliveryFailures.WithLabelValues(event).Inc()
}

// ObserveSweep records one sweep run.
func ObserveSweep(d time.Duration, err error) {
	RingSweepDuration.Observe(d.Seconds())
	if err != nil {
		RingSweepErrors.Inc()
	}
}
