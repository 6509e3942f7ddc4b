package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// KernelSeconds tracks the compute time of one request by mode
	KernelSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fractal_kernel_seconds",
			Help:    "Kernel compute time per request in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"mode"},
	)

	// KernelRequests counts kernel runs by mode and outcome
	KernelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractal_kernel_requests_total",
			Help: "Kernel runs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// SamplesTraced counts Monte-Carlo samples traced by the trajectory kernel
	SamplesTraced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fractal_samples_traced_total",
			Help: "Monte-Carlo samples traced",
		},
	)

	// Batches counts scheduler batches by mode and event (issued, dropped, merged, stale, failed)
	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractal_batches_total",
			Help: "Scheduler batches by mode and event",
		},
		[]string{"mode", "event"},
	)

	// WorkerQueue tracks queued requests per worker kind
	WorkerQueue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fractal_worker_queue",
			Help: "Requests queued or in flight per worker kind",
		},
		[]string{"worker"},
	)

	// Connections tracks open websocket worker connections on the server
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fractal_worker_connections",
			Help: "Open websocket worker connections",
		},
	)
)

// Outcomes and events used as label values.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"

	EventIssued  = "issued"
	EventDropped = "dropped"
	EventMerged  = "merged"
	EventStale   = "stale"
	EventFailed  = "failed"
)
