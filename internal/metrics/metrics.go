package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DecisionsTotal counts terminal decisions by outcome.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gate_controller",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Terminal decisions by outcome",
		},
		[]string{"outcome"},
	)

	// DecisionLatency tracks end-to-end decision latency, recognition
	// excluded.
	DecisionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gate_controller",
			Subsystem: "engine",
			Name:      "decision_latency_seconds",
			Help:      "Time from event intake to terminal verdict",
		},
	)

	// MirrorFailures counts best-effort mirror appends that failed.
	MirrorFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gate_controller",
			Subsystem: "mirror",
			Name:      "append_failures_total",
			Help:      "Mirror sink appends that failed (logged only)",
		},
	)

	// ActuationFailures counts relay pulses that errored after the
	// verdict was recorded.
	ActuationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gate_controller",
			Subsystem: "dispatch",
			Name:      "actuation_failures_total",
			Help:      "Gate actuation attempts that failed",
		},
	)

	// NotifyFailures counts operator notifications that failed to send.
	NotifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gate_controller",
			Subsystem: "notify",
			Name:      "send_failures_total",
			Help:      "Operator notifications that failed to send",
		},
	)
)

// MustRegister registers all metrics with the default registry.
func MustRegister() {
	prometheus.MustRegister(
		DecisionsTotal,
		DecisionLatency,
		MirrorFailures,
		ActuationFailures,
		NotifyFailures,
	)
}
