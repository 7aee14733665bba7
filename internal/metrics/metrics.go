package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tier labels.
const (
	TierMemory  = "memory"
	TierDisk    = "disk"
	TierNetwork = "network"
)

var (
	TileLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maptiles_lookups_total",
		Help: "Tile lookups by the tier that answered them, or miss",
	}, []string{"tier"})

	FetchesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maptiles_fetches_started_total",
		Help: "Network fetches started, by destination (memory or disk)",
	}, []string{"dest"})

	FetchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maptiles_fetch_results_total",
		Help: "Finished network fetches by outcome",
	}, []string{"outcome"})

	FetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "maptiles_fetch_latency_seconds",
		Help:    "Latency of upstream tile downloads in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	StaleDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maptiles_stale_discards_total",
		Help: "Completed fetches discarded because the view had moved on",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maptiles_store_errors_total",
		Help: "Tile store backend errors by operation",
	}, []string{"backend", "operation"})

	GridPopulated = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "maptiles_grid_populated_cells",
		Help: "Non-empty cells per layer grid",
	}, []string{"layer"})
)
