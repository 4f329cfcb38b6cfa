// Package metrics exposes the bot's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StreamReconnects counts reconnect cycles per streaming connection.
var StreamReconnects = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "xarb_stream_reconnects_total",
		Help: "Reconnect cycles started by a streaming connection",
	},
	[]string{"conn"},
)

// StreamMalformed counts inbound frames dropped because they did not parse.
var StreamMalformed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "xarb_stream_malformed_total",
		Help: "Inbound frames dropped as malformed",
	},
	[]string{"conn"},
)

// Venue state
var (
	BookReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xarb_book_ready",
			Help: "1 when the venue's order book is ready",
		},
		[]string{"venue"},
	)

	SnapshotLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xarb_snapshot_loads_total",
			Help: "Depth snapshot loads by result",
		},
		[]string{"venue", "result"},
	)
)

// Trading
var (
	Opportunities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xarb_opportunities_total",
			Help: "Selected opportunities by direction",
		},
		[]string{"buy_venue", "sell_venue"},
	)

	SkippedBusy = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xarb_opportunities_skipped_busy_total",
			Help: "Opportunities dropped because a trade was already in flight",
		},
	)

	Executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xarb_executions_total",
			Help: "Finished two-leg executions by status",
		},
		[]string{"status"},
	)

	ExecutionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xarb_execution_latency_seconds",
			Help:    "Time from dispatch until both legs resolved",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(StreamReconnects, StreamMalformed)
	prometheus.MustRegister(BookReady, SnapshotLoads)
	prometheus.MustRegister(Opportunities, SkippedBusy, Executions, ExecutionLatency)
}
