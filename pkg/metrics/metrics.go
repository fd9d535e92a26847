// Package metrics exposes Prometheus metrics for the data store: records put
// and deleted, rows scanned, memtable sizes, dump activity and writer
// batches.
//
// # Basic Usage
//
//	// Count inserted records of a table
//	metrics.RecordsPut.WithLabelValues("runs/eval").Add(float64(n))
//
//	// Time a dump
//	timer := metrics.NewTimer()
//	err := table.Dump(dir, opts)
//	metrics.DumpLatency.WithLabelValues("runs/eval").Observe(timer.Stop().Seconds())
//
// All collectors register with the default Prometheus registry on package
// initialization.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsPut counts records applied as inserts.
	// Labels: table
	RecordsPut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_records_put_total",
			Help: "Total number of records inserted",
		},
		[]string{"table"},
	)

	// RecordsDeleted counts keys marked for deletion.
	// Labels: table
	RecordsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_records_deleted_total",
			Help: "Total number of keys deleted",
		},
		[]string{"table"},
	)

	// RowsScanned counts merged rows returned by scans.
	// Labels: source (memory/disk)
	RowsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_rows_scanned_total",
			Help: "Total number of rows returned by table scans",
		},
		[]string{"source"},
	)

	// Dumps counts memtable dumps.
	// Labels: table, status (success/failure/skipped)
	Dumps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_dumps_total",
			Help: "Total number of memtable dumps",
		},
		[]string{"table", "status"},
	)

	// DumpLatency tracks the time spent writing a base file, in seconds.
	// Labels: table
	DumpLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "datastore_dump_duration_seconds",
			Help: "Time spent dumping a memtable to a base file",
			Buckets: []float64{
				0.001, // 1ms - small tables
				0.01,  // 10ms
				0.1,   // 100ms
				1,     // 1s - large snapshots
				10,    // 10s
			},
		},
		[]string{"table"},
	)

	// TableBytes tracks the approximate in-memory size of each memtable.
	// Labels: table
	TableBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datastore_memtable_bytes",
			Help: "Approximate memtable size in bytes",
		},
		[]string{"table"},
	)

	// WriterBatches counts batches applied by background writers.
	// Labels: table, status (success/failure)
	WriterBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_writer_batches_total",
			Help: "Total number of batches applied by table writers",
		},
		[]string{"table", "status"},
	)

	// WriterQueueDepth tracks items waiting in a writer queue.
	// Labels: table
	WriterQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datastore_writer_queue_depth",
			Help: "Current number of queued writer items",
		},
		[]string{"table"},
	)
)

// Timer measures the duration of an operation. It captures the start time on
// creation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Status renders an error as a status label value.
func Status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
