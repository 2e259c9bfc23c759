package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal tracks finished chain cycles by status
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buywatch_cycles_total",
			Help: "Total number of chain cycles by final status",
		},
		[]string{"chain", "status"},
	)

	// CyclesSkipped tracks ticks dropped because the previous cycle was still running
	CyclesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buywatch_cycles_skipped_total",
			Help: "Total number of chain cycles skipped due to an overlapping cycle",
		},
		[]string{"chain"},
	)

	// CycleDuration tracks chain cycle latency
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buywatch_cycle_duration_seconds",
			Help:    "Chain cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// EventsTotal tracks per-destination purchase outcomes
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buywatch_events_total",
			Help: "Purchase events by outcome (seen, notified, skipped, failed, invalid)",
		},
		[]string{"chain", "outcome"},
	)

	// DataSourceFetches tracks chain data source calls
	DataSourceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buywatch_datasource_fetches_total",
			Help: "Total number of chain data source fetches",
		},
		[]string{"chain", "result"},
	)

	// RPCCallsTotal tracks RPC calls per chain and provider
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buywatch_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"chain", "provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per chain and provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buywatch_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"chain", "provider"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buywatch_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "provider", "method"},
	)

	// MarketFallbacks counts renders that used a cached snapshot
	MarketFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buywatch_market_fallbacks_total",
			Help: "Total number of market snapshot cache fallbacks",
		},
		[]string{"chain"},
	)

	// NotifierSends tracks outbound messages by kind and result
	NotifierSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buywatch_notifier_sends_total",
			Help: "Total number of notifier sends",
		},
		[]string{"kind", "result"},
	)

	// LedgerPruned counts dedup records removed by retention
	LedgerPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buywatch_ledger_pruned_total",
			Help: "Total number of dedup records pruned",
		},
	)

	// DBConnectionPoolUsage tracks the open/max connection ratio in percent
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "buywatch_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)

	// ProviderAvailable is 1 while an RPC provider accepts calls
	ProviderAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "buywatch_rpc_provider_available",
			Help: "Whether an RPC provider is available (1) or not (0)",
		},
		[]string{"chain", "provider"},
	)

	// ProviderErrorRate is the rolling error rate of an RPC provider
	ProviderErrorRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "buywatch_rpc_provider_error_rate",
			Help: "Rolling error rate of an RPC provider",
		},
		[]string{"chain", "provider"},
	)

	// PendingPurchases counts the parked (destination, purchase) pairs after a chain cycle
	PendingPurchases = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "buywatch_pending_purchases",
			Help: "Parked purchases waiting for a destination retry",
		},
		[]string{"chain"},
	)
)
