package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// JournalMetrics tracks audit journal persistence and export activity.
type JournalMetrics struct {
	writes       *prometheus.CounterVec
	failures     *prometheus.CounterVec
	exportedRows *prometheus.GaugeVec
}

var (
	journalOnce     sync.Once
	journalRegistry *JournalMetrics
)

func Journal() *JournalMetrics {
	journalOnce.Do(func() {
		journalRegistry = &JournalMetrics{
			writes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "journal_writes_total",
				Help: "Count of journal rows written by table.",
			}, []string{"table"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "journal_write_failures_total",
				Help: "Count of failed journal writes by table.",
			}, []string{"table"}),
			exportedRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "journal_exported_rows",
				Help: "Rows emitted by the most recent export per table and format.",
			}, []string{"table", "format"}),
		}
		prometheus.MustRegister(
			journalRegistry.writes,
			journalRegistry.failures,
			journalRegistry.exportedRows,
		)
	})
	return journalRegistry
}

func (m *JournalMetrics) RecordWrite(table string) {
	if m == nil {
		return
	}
	if table == "" {
		table = "unknown"
	}
	m.writes.WithLabelValues(table).Inc()
}

func (m *JournalMetrics) RecordFailure(table string) {
	if m == nil {
		return
	}
	if table == "" {
		table = "unknown"
	}
	m.failures.WithLabelValues(table).Inc()
}

func (m *JournalMetrics) SetExportedRows(table, format string, rows float64) {
	if m == nil {
		return
	}
	if table == "" {
		table = "unknown"
	}
	if format == "" {
		format = "unknown"
	}
	m.exportedRows.WithLabelValues(table, format).Set(rows)
}

// InitTable primes the per-table series so dashboards render zeroes before
// the first write.
func (m *JournalMetrics) InitTable(table string) {
	if m == nil {
		return
	}
	if table == "" {
		table = "unknown"
	}
	m.writes.WithLabelValues(table).Add(0)
	m.failures.WithLabelValues(table).Add(0)
}
