package resource

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "resource",
			Name:      "loads_total",
			Help:      "Total resource load attempts by outcome",
		},
		[]string{"slot", "outcome"},
	)

	loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "resource",
			Name:      "load_duration_seconds",
			Help:      "Duration of successful resource loads in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"slot"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "resource",
			Name:      "load_retries_total",
			Help:      "Total retryable exhaustion failures during loads",
		},
		[]string{"slot"},
	)

	adapterFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "resource",
			Name:      "adapter_failures_total",
			Help:      "Total overlay attachments that failed",
		},
		[]string{"slot"},
	)

	inferencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "resource",
			Name:      "inferences_total",
			Help:      "Total gated inference calls",
		},
		[]string{"slot"},
	)

	gateWaiters = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "resource",
			Name:      "gate_waiters",
			Help:      "Callers currently queued on the inference gate",
		},
		[]string{"slot"},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, loadDuration, retriesTotal,
		adapterFailuresTotal, inferencesTotal, gateWaiters)
}
