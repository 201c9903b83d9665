package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkerErrors counts top-level worker failures, one series per
	// error class.
	WorkerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailsync",
		Subsystem: "worker",
		Name:      "errors_total",
		Help:      "Top-level user worker errors by class.",
	}, []string{"class"})

	// DelayedStart records the backoff applied before a worker attempt.
	// Only set for nonzero delays.
	DelayedStart = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mailsync",
		Subsystem: "worker",
		Name:      "delayed_start_seconds",
		Help:      "Backoff delay applied before the most recent worker start.",
	})

	// ActiveWorkers tracks the number of running user workers.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mailsync",
		Subsystem: "daemon",
		Name:      "active_workers",
		Help:      "Number of user workers currently running.",
	})

	// MessagesProcessed counts messages handed to downstream processing.
	MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mailsync",
		Subsystem: "worker",
		Name:      "messages_processed_total",
		Help:      "Messages discovered and dispatched for processing.",
	})
)
