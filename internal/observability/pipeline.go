package observability

import "github.com/prometheus/client_golang/prometheus"

// Pipeline counts reception pipeline events. A nil Pipeline ignores them.
type Pipeline struct {
	catalogBatches *prometheus.CounterVec
	batchSize      *prometheus.HistogramVec
	imports        *prometheus.CounterVec
	parsedRows     prometheus.Counter
	commits        *prometheus.CounterVec
}

// NewPipeline registers the pipeline collectors on registerer.
func NewPipeline(registerer prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		catalogBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reception",
			Name:      "catalog_batch_queries_total",
			Help:      "Catalog lookup queries by resolution phase.",
		}, []string{"phase"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reception",
			Name:      "catalog_batch_size",
			Help:      "Codes per catalog lookup query.",
			Buckets:   []float64{1, 10, 50, 100, 200, 500},
		}, []string{"phase"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reception",
			Name:      "imports_total",
			Help:      "Spreadsheet imports by outcome.",
		}, []string{"outcome"}),
		parsedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reception",
			Name:      "parsed_rows_total",
			Help:      "Non-blank spreadsheet rows read by imports.",
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reception",
			Name:      "commits_total",
			Help:      "Commit attempts by outcome.",
		}, []string{"outcome"}),
	}
	registerer.MustRegister(p.catalogBatches, p.batchSize, p.imports, p.parsedRows, p.commits)
	return p
}

// ObserveCatalogBatch records one catalog lookup query.
func (p *Pipeline) ObserveCatalogBatch(phase string, size int) {
	if p == nil {
		return
	}
	p.catalogBatches.WithLabelValues(phase).Inc()
	p.batchSize.WithLabelValues(phase).Observe(float64(size))
}

// ObserveImport records an import outcome and its row count.
func (p *Pipeline) ObserveImport(outcome string, rows int) {
	if p == nil {
		return
	}
	p.imports.WithLabelValues(outcome).Inc()
	if rows > 0 {
		p.parsedRows.Add(float64(rows))
	}
}

// ObserveCommit records a commit outcome.
func (p *Pipeline) ObserveCommit(outcome string) {
	if p == nil {
		return
	}
	p.commits.WithLabelValues(outcome).Inc()
}
