package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MatchesTotal counts match attempts by outcome ("ok" or a rejection code)
var MatchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskora_matches_total",
		Help: "Total number of order match attempts by outcome",
	},
	[]string{"outcome"},
)

// SettlementsTotal counts settlements by entry path (confirm/submit) and outcome
var SettlementsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskora_settlements_total",
		Help: "Total number of settlement attempts by path and outcome",
	},
	[]string{"path", "outcome"},
)

// SettlementLatency records latency distribution for the settle transaction
var SettlementLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "taskora_settlement_latency_seconds",
		Help:    "Latency in seconds of the settlement transaction",
		Buckets: prometheus.DefBuckets,
	},
)

// MatchTokensActive gauges live entries in the match cache
var MatchTokensActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "taskora_match_tokens_active",
		Help: "Number of unexpired match tokens currently cached",
	},
)

func init() {
	prometheus.MustRegister(MatchesTotal, SettlementsTotal, SettlementLatency, MatchTokensActive)
}
