// Package metrics exposes the control plane's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts registry and controller operations by name and outcome.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devfleet",
		Name:      "operations_total",
		Help:      "Control plane operations by name and outcome.",
	}, []string{"op", "outcome"})

	// PortsAllocated tracks the number of allocated ports per range.
	PortsAllocated = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "devfleet",
		Name:      "ports_allocated",
		Help:      "Currently allocated ports per range.",
	}, []string{"range"})

	// SupervisorCallDuration observes latency of supervisor invocations.
	SupervisorCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devfleet",
		Name:      "supervisor_call_duration_seconds",
		Help:      "Duration of calls to the external process supervisor.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"call"})
)

// ObserveOp records one operation outcome.
func ObserveOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Operations.WithLabelValues(op, outcome).Inc()
}
