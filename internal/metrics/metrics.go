// Package metrics exposes the daemon's Prometheus counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the daemon records, registered against its
// own prometheus.Registry so cmd/orchestrad can serve it without relying on
// the global default registry.
type Registry struct {
	Registry *prometheus.Registry

	AnchorBlocksArchived    prometheus.Counter
	ExecutionBlocksArchived prometheus.Counter
	MicroblocksArchived     prometheus.Counter
	BatchesProcessed        prometheus.Counter
	EventsAppended          *prometheus.CounterVec
	AnalysisDiagnostics     prometheus.Counter
	Rollbacks               prometheus.Counter
	InvariantViolations     prometheus.Counter
}

// New builds and registers every metric.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		Registry: reg,
		AnchorBlocksArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrad_anchor_blocks_archived_total",
			Help: "Number of anchor-chain blocks archived.",
		}),
		ExecutionBlocksArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrad_execution_blocks_archived_total",
			Help: "Number of execution-chain blocks archived.",
		}),
		MicroblocksArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrad_microblocks_archived_total",
			Help: "Number of microblocks archived.",
		}),
		BatchesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrad_batches_processed_total",
			Help: "Number of contract-processor batches applied.",
		}),
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrad_events_appended_total",
			Help: "Number of event-log records appended, by record kind.",
		}, []string{"kind"}),
		AnalysisDiagnostics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrad_analysis_diagnostics_total",
			Help: "Number of non-fatal per-contract analysis failures recorded.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrad_rollbacks_total",
			Help: "Number of block or microblock rollbacks applied.",
		}),
		InvariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrad_invariant_violations_total",
			Help: "Number of fatal invariant violations encountered before abort.",
		}),
	}
	reg.MustRegister(
		m.AnchorBlocksArchived,
		m.ExecutionBlocksArchived,
		m.MicroblocksArchived,
		m.BatchesProcessed,
		m.EventsAppended,
		m.AnalysisDiagnostics,
		m.Rollbacks,
		m.InvariantViolations,
	)
	return m
}
