package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CIDCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_cid_cache_lookups_total",
			Help: "Digest to CID cache lookups by result",
		},
		[]string{"result"}, // "hit", "inflight", "miss", "invalid"
	)

	CIDConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_cid_conversions_total",
			Help: "Digest to CID conversions executed by the cache",
		},
		[]string{"status"},
	)

	ManifestFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_manifest_fetches_total",
			Help: "Reward manifest fetches by outcome",
		},
		[]string{"status"}, // "ok", "unavailable", "malformed", "mismatch"
	)

	ManifestFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rewards_manifest_fetch_duration_seconds",
			Help:    "Duration of reward manifest fetches in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	ViewRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_view_refresh_total",
			Help: "Distributor view refreshes by outcome",
		},
		[]string{"status"}, // "ok", "error", "superseded", "panic"
	)

	ViewRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rewards_view_refresh_duration_seconds",
			Help:    "Duration of distributor view refreshes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	ClaimSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_claim_submissions_total",
			Help: "Claim transactions submitted by outcome",
		},
		[]string{"status"}, // "submitted", "error", "accepted", "reverted"
	)

	ChainCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_chain_calls_total",
			Help: "Read-only contract calls by method and outcome",
		},
		[]string{"method", "status"},
	)

	SourceBalanceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_source_balance_errors_total",
			Help: "Failed reward source balance lookups",
		},
		[]string{"source"},
	)
)
