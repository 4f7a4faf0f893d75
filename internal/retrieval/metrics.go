package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Retrieval outcomes.
const (
	outcomeOK          = "ok"
	outcomeLexicalOnly = "lexical_only"
	outcomeEmpty       = "empty"
	outcomeError       = "error"
)

var (
	// RetrievalsTotal counts Retrieve calls.
	// Labels: outcome (ok, lexical_only, empty, error)
	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repoctx",
			Subsystem: "retrieval",
			Name:      "retrievals_total",
			Help:      "Total number of retrievals by outcome",
		},
		[]string{"outcome"},
	)

	// RetrievalDuration tracks end-to-end retrieval time.
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "repoctx",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Duration of retrievals in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// IndexCacheLookups counts lexical index cache lookups.
	// Labels: result (hit, miss)
	IndexCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repoctx",
			Subsystem: "retrieval",
			Name:      "index_cache_lookups_total",
			Help:      "Lexical index cache lookups by result",
		},
		[]string{"result"},
	)

	// SnippetsScanned tracks the number of snippets per retrieval.
	SnippetsScanned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "repoctx",
			Subsystem: "retrieval",
			Name:      "snippets_scanned",
			Help:      "Number of snippets produced by the scanner per retrieval",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		},
	)
)
