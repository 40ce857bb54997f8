// Package metrics exposes Prometheus counters for the parsing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesParsed counts source files by outcome (ok, error).
	FilesParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billsherlock",
		Name:      "files_parsed_total",
		Help:      "Bill export files processed, by outcome.",
	}, []string{"outcome"})

	// RecordsInserted counts transaction rows stored after dedup.
	RecordsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billsherlock",
		Name:      "records_inserted_total",
		Help:      "Transaction records inserted after deduplication.",
	})

	// RecordsDeduplicated counts rows dropped because they already existed.
	RecordsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billsherlock",
		Name:      "records_deduplicated_total",
		Help:      "Parsed records skipped as duplicates.",
	})

	// JobsByStatus tracks the async pipeline.
	JobsByStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billsherlock",
		Name:      "jobs_total",
		Help:      "Upload jobs by terminal status.",
	}, []string{"status"})

	// ParseDuration observes per-file parse latency.
	ParseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "billsherlock",
		Name:      "parse_duration_seconds",
		Help:      "Time spent parsing a single file.",
		Buckets:   prometheus.DefBuckets,
	})

	// ArchivesExtracted counts report archive extractions by outcome.
	ArchivesExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billsherlock",
		Name:      "archives_extracted_total",
		Help:      "Report archives extracted, by outcome.",
	}, []string{"outcome"})

	// ReportsSwept counts report trees removed by the retention sweeper.
	ReportsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billsherlock",
		Name:      "reports_swept_total",
		Help:      "Expired report trees removed by retention sweeps.",
	})
)
