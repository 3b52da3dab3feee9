package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ExtensionMetrics are the service metrics of the ledger extension.
type ExtensionMetrics struct {
	// Name of the pipeline being instrumented, used as the metric prefix.
	pipeline string

	// Counts of database operations
	databaseOperations *prometheus.CounterVec

	// Latencies of database operations.
	databaseLatencies *prometheus.HistogramVec

	// Rows written per table.
	rowsWritten *prometheus.CounterVec

	// Durations of the phases of a batch (read, content, write).
	batchPhases *prometheus.HistogramVec

	// Last committed state version.
	committedStateVersion prometheus.Gauge

	// Substate downs skipped because another writer got there first.
	substateConflicts prometheus.Counter

	// Cache hit rates for the local cache.
	localCacheReads *prometheus.CounterVec
}

type CacheReadStatus string

const (
	CacheReadStatusHit      CacheReadStatus = "hit"
	CacheReadStatusMiss     CacheReadStatus = "miss"
	CacheReadStatusBadValue CacheReadStatus = "bad_value" // Value in cache was not valid (likely because of mismatched types / CBOR encoding).
	CacheReadStatusError    CacheReadStatus = "error"     // Other internal error reading from cache.
)

// NewDefaultExtensionMetrics creates Prometheus metric instrumentation
// for the ledger extension pipeline.
func NewDefaultExtensionMetrics(pipeline string) ExtensionMetrics {
	metrics := ExtensionMetrics{
		pipeline: pipeline,
		databaseOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_db_operations", pipeline),
				Help: "How many database operations occur, partitioned by operation and status.",
			},
			[]string{"database", "operation", "status"}, // Labels.
		),
		databaseLatencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_db_latencies", pipeline),
				Help: "How long database operations take, partitioned by operation.",
			},
			[]string{"database", "operation"}, // Labels.
		),
		rowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_rows_written", pipeline),
				Help: "How many rows were bulk-loaded, partitioned by table.",
			},
			[]string{"table"}, // Labels.
		),
		batchPhases: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    fmt.Sprintf("%s_batch_phase_seconds", pipeline),
				Help:    "How long each phase of a ledger extension batch takes.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"phase"}, // Labels.
		),
		committedStateVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_committed_state_version", pipeline),
				Help: "The last state version durably committed.",
			},
		),
		substateConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_substate_down_conflicts", pipeline),
				Help: "How many substate downs were skipped because the down version was already set.",
			},
		),
		localCacheReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "local_cache_reads",
				Help: "How many local cache reads occur, partitioned by status (hit, miss, bad_data, error).",
			},
			[]string{"cache", "status"}, // Labels.
		),
	}
	metrics.databaseOperations = registerOnce(metrics.databaseOperations).(*prometheus.CounterVec)
	metrics.databaseLatencies = registerOnce(metrics.databaseLatencies).(*prometheus.HistogramVec)
	metrics.rowsWritten = registerOnce(metrics.rowsWritten).(*prometheus.CounterVec)
	metrics.batchPhases = registerOnce(metrics.batchPhases).(*prometheus.HistogramVec)
	metrics.committedStateVersion = registerOnce(metrics.committedStateVersion).(prometheus.Gauge)
	metrics.substateConflicts = registerOnce(metrics.substateConflicts).(prometheus.Counter)
	metrics.localCacheReads = registerOnce(metrics.localCacheReads).(*prometheus.CounterVec)
	return metrics
}

// DatabaseOperations returns the counter for the database operation.
// The provided params are used as labels.
func (m *ExtensionMetrics) DatabaseOperations(db, operation, status string) prometheus.Counter {
	return m.databaseOperations.WithLabelValues(db, operation, status)
}

// DatabaseLatencies returns a new latency timer for the provided
// database operation.
// The provided params are used as labels.
func (m *ExtensionMetrics) DatabaseLatencies(db string, operation string) *prometheus.Timer {
	return prometheus.NewTimer(m.databaseLatencies.WithLabelValues(db, operation))
}

// RowsWritten returns the counter of rows bulk-loaded into the table.
func (m *ExtensionMetrics) RowsWritten(table string) prometheus.Counter {
	return m.rowsWritten.WithLabelValues(table)
}

// BatchPhase returns the histogram for one batch phase ("read", "content", "write").
func (m *ExtensionMetrics) BatchPhase(phase string) prometheus.Observer {
	return m.batchPhases.WithLabelValues(phase)
}

// CommittedStateVersion returns the watermark gauge.
func (m *ExtensionMetrics) CommittedStateVersion() prometheus.Gauge {
	return m.committedStateVersion
}

// SubstateConflicts returns the counter of skipped concurrent substate downs.
func (m *ExtensionMetrics) SubstateConflicts() prometheus.Counter {
	return m.substateConflicts
}

// LocalCacheReads returns the counter for the local cache read.
// The provided params are used as labels.
func (m *ExtensionMetrics) LocalCacheReads(cache string, status CacheReadStatus) prometheus.Counter {
	return m.localCacheReads.WithLabelValues(cache, string(status))
}

// registerOnce registers collector, or returns the identical collector a
// previous pipeline instance already registered.
func registerOnce(collector prometheus.Collector) prometheus.Collector {
	err := prometheus.Register(collector)
	are := &prometheus.AlreadyRegisteredError{}
	switch {
	case err == nil:
		return collector
	case errors.As(err, are):
		return are.ExistingCollector
	default:
		panic(err)
	}
}
