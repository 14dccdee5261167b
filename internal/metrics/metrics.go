// Package metrics exposes Prometheus collectors for lifecycle operations.
//
// Exported on /metrics by `eraport serve`:
//   - eraport_snapshots_created_total{trigger,scope}
//   - eraport_snapshot_failures_total{trigger,reason}
//   - eraport_snapshot_size_bytes (histogram)
//   - eraport_operation_duration_seconds{operation,status}
//   - eraport_operations_total{operation,status}
//   - eraport_rows_deleted_total{table}
//   - eraport_safety_snapshot_failures_total{operation}
//   - eraport_mirror_uploads_total{status}
//   - eraport_last_snapshot_timestamp_seconds
//   - eraport_http_requests_total{method,route,status}
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SnapshotsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eraport_snapshots_created_total",
			Help: "Snapshots that passed verification and were kept",
		},
		[]string{"trigger", "scope"},
	)

	SnapshotFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eraport_snapshot_failures_total",
			Help: "Snapshot attempts that produced no file",
		},
		[]string{"trigger", "reason"},
	)

	SnapshotSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eraport_snapshot_size_bytes",
			Help:    "Size of created snapshots",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8), // 64KiB .. 1GiB
		},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eraport_operation_duration_seconds",
			Help:    "Duration of lifecycle operations",
			Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"operation", "status"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eraport_operations_total",
			Help: "Lifecycle operations by outcome",
		},
		[]string{"operation", "status"},
	)

	RowsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eraport_rows_deleted_total",
			Help: "Rows removed by prune and reset",
		},
		[]string{"table"},
	)

	SafetySnapshotFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eraport_safety_snapshot_failures_total",
			Help: "Pre-operation snapshots that failed",
		},
		[]string{"operation"},
	)

	MirrorUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eraport_mirror_uploads_total",
			Help: "Offsite snapshot uploads by outcome",
		},
		[]string{"status"},
	)

	LastSnapshot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eraport_last_snapshot_timestamp_seconds",
			Help: "Unix time of the newest verified snapshot",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eraport_http_requests_total",
			Help: "API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordSnapshot updates the snapshot collectors after a successful build.
func RecordSnapshot(trigger, scope string, size int64, at time.Time) {
	SnapshotsCreated.WithLabelValues(trigger, scope).Inc()
	SnapshotSize.Observe(float64(size))
	LastSnapshot.Set(float64(at.Unix()))
}

// RecordOperation observes one lifecycle operation.
func RecordOperation(operation, status string, d time.Duration) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation, status).Observe(d.Seconds())
}

// RecordDeleted adds per-table deletion counts.
func RecordDeleted(counts map[string]int64) {
	for table, n := range counts {
		RowsDeleted.WithLabelValues(table).Add(float64(n))
	}
}

func RecordHTTP(method, route string, status int) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
