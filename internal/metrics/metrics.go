// Package metrics holds the engine's Prometheus counters. Each process owns
// one Metrics value on its own registry; a CLI run can dump it to a
// node-exporter textfile when it exits.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tumorboard"

// Metrics is the set of engine counters.
type Metrics struct {
	registry *prometheus.Registry

	SessionsImported *prometheus.CounterVec
	RecordsImported  *prometheus.CounterVec
	RowsSkipped      *prometheus.CounterVec
	RecordsPruned    *prometheus.CounterVec
	Finalizations    *prometheus.CounterVec
	LockRetries      *prometheus.CounterVec
	Routed           *prometheus.CounterVec
	Unrouted         *prometheus.CounterVec
	StepFailures     *prometheus.CounterVec
	Backups          prometheus.Counter
}

// New registers every counter on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Labels: entity
		SessionsImported: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "sessions_total",
			Help:      "Sessions upserted by collection imports and re-syncs",
		}, []string{"entity"}),

		// Labels: entity
		RecordsImported: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "records_total",
			Help:      "Patient records upserted",
		}, []string{"entity"}),

		// Labels: entity, reason (missing_number, missing_name, invalid)
		RowsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "rows_skipped_total",
			Help:      "Sheet rows skipped during import",
		}, []string{"entity", "reason"}),

		// Labels: entity
		RecordsPruned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "records_pruned_total",
			Help:      "Stored records deleted because they vanished from the sheet",
		}, []string{"entity"}),

		// Labels: entity, kind (FINALIZED, EDITED)
		Finalizations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finalizations_total",
			Help:      "Completed session finalizations",
		}, []string{"entity", "kind"}),

		// Labels: op
		LockRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "file",
			Name:      "lock_retries_total",
			Help:      "File operations retried because the file was locked",
		}, []string{"op"}),

		// Labels: category
		Routed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "records_routed_total",
			Help:      "Records inserted into a category ledger",
		}, []string{"category"}),

		// Labels: entity
		Unrouted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "records_unrouted_total",
			Help:      "Indicated records whose call priority maps to no category",
		}, []string{"entity"}),

		// Labels: step
		StepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Failed engine operations by step",
		}, []string{"step"}),

		Backups: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "written_total",
			Help:      "Backups written before workbook mutations",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in text exposition format to path,
// creating its directory if needed.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
