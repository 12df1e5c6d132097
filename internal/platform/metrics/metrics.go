// Package metrics holds the prometheus collectors shared by the rollup and loader pipelines
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the pipeline updates
type Metrics struct {
	FilesProcessed  *prometheus.CounterVec // by result: ok|failed
	EventsDecoded   prometheus.Counter
	MalformedLines  prometheus.Counter
	RecordsEmitted  prometheus.Counter
	RecordsBuffered prometheus.Gauge
	Compactions     prometheus.Counter
	RecordsRemoved  prometheus.Counter
	ChunksFlushed   *prometheus.CounterVec // by status: uploaded|failed|dry_run
	Statements      prometheus.Counter
	UploadAttempts  *prometheus.CounterVec // by result: ok|retry|failed
	UploadSeconds   prometheus.Histogram
	FetchSeconds    prometheus.Histogram
	ChunksLoaded    *prometheus.CounterVec // by result: ok|failed
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FilesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ghafacts_files_processed_total",
			Help: "Archive files processed, by result.",
		}, []string{"result"}),
		EventsDecoded: f.NewCounter(prometheus.CounterOpts{
			Name: "ghafacts_events_decoded_total",
			Help: "Events decoded from archive files.",
		}),
		MalformedLines: f.NewCounter(prometheus.CounterOpts{
			Name: "ghafacts_malformed_lines_total",
			Help: "Archive lines skipped because they failed to decode.",
		}),
		RecordsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "ghafacts_records_emitted_total",
			Help: "Projected records per file before per-file compaction.",
		}),
		RecordsBuffered: f.NewGauge(prometheus.GaugeOpts{
			Name: "ghafacts_records_buffered",
			Help: "Records currently held by the aggregator.",
		}),
		Compactions: f.NewCounter(prometheus.CounterOpts{
			Name: "ghafacts_compactions_total",
			Help: "Aggregator compaction passes.",
		}),
		RecordsRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "ghafacts_compaction_removed_total",
			Help: "Records dropped by compaction.",
		}),
		ChunksFlushed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ghafacts_chunks_flushed_total",
			Help: "SQL chunks flushed, by status.",
		}, []string{"status"}),
		Statements: f.NewCounter(prometheus.CounterOpts{
			Name: "ghafacts_statements_total",
			Help: "INSERT statements written to SQL files.",
		}),
		UploadAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ghafacts_upload_attempts_total",
			Help: "Object store put attempts, by result.",
		}, []string{"result"}),
		UploadSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ghafacts_upload_seconds",
			Help:    "Duration of a successful SQL file upload including retries.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		FetchSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ghafacts_fetch_seconds",
			Help:    "Duration to download and decode one archive file.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		ChunksLoaded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ghafacts_chunks_loaded_total",
			Help: "SQL files applied to Postgres by the loader, by result.",
		}, []string{"result"}),
	}
}

// Nop returns collectors bound to a throwaway registry
func Nop() *Metrics { return New(prometheus.NewRegistry()) }
