package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesProcessed tracks how many sync batches finished, by final
	// status (completed/partial/failed) and path (inline/queued).
	BatchesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinisync_batches_processed_total",
		Help: "Total number of sync batches processed",
	}, []string{"status", "path"})

	// OperationsProcessed counts individual operations by entity type and
	// outcome (applied/already_applied/conflict/error).
	OperationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinisync_operations_processed_total",
		Help: "Total number of sync operations processed",
	}, []string{"entity", "outcome"})

	// BatchDuration measures end-to-end processing time of one batch
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clinisync_batch_duration_seconds",
		Help:    "Duration of sync batch processing in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BatchSize tracks the number of operations per submitted batch
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clinisync_batch_size",
		Help:    "Number of operations per sync batch",
		Buckets: []float64{1, 5, 10, 50, 100, 250, 500},
	})

	// PendingBatches is the current number of ledger rows waiting for a
	// worker. The primary indicator of sync lag.
	PendingBatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clinisync_pending_batches",
		Help: "Current number of pending sync batches in the ledger",
	})

	// HealthStatus provides a binary 0/1 signal for broker connectivity
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clinisync_healthy",
		Help: "Current health status (1 for healthy, 0 for unhealthy)",
	})
)
