package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Operation names used as the "operation" label
const (
	OpGet    = "get"
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpOpen   = "open"
)

// Metrics holds all Prometheus metrics for a store
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	keysTotal         prometheus.Gauge
	logSizeBytes      prometheus.Gauge
	replayedRecords   prometheus.Counter
	corruptionsTotal  *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them process-wide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "basekv_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "status"},
		),

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "basekv_operation_duration_seconds",
				Help:    "Store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		keysTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "basekv_keys_total",
				Help: "Number of keys in the index, tombstones included",
			},
		),

		logSizeBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "basekv_log_size_bytes",
				Help: "Size of the append log in bytes",
			},
		),

		replayedRecords: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "basekv_replayed_records_total",
				Help: "Records decoded while rebuilding the index",
			},
		),

		corruptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "basekv_corruptions_total",
				Help: "Corrupt or truncated records encountered",
			},
			[]string{"kind"},
		),
	}
}

// RecordOperation records one store operation
func (m *Metrics) RecordOperation(operation string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := statusSuccess
	if !success {
		status = statusError
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateStoreStats sets the key count and log size gauges
func (m *Metrics) UpdateStoreStats(keys int, logSize uint64) {
	if m == nil {
		return
	}
	m.keysTotal.Set(float64(keys))
	m.logSizeBytes.Set(float64(logSize))
}

// RecordReplay adds replayed records
func (m *Metrics) RecordReplay(records uint64) {
	if m == nil {
		return
	}
	m.replayedRecords.Add(float64(records))
}

// RecordCorruption counts one corrupt record by kind ("checksum", "truncated")
func (m *Metrics) RecordCorruption(kind string) {
	if m == nil {
		return
	}
	m.corruptionsTotal.WithLabelValues(kind).Inc()
}
