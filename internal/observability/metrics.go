package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the exchange.
type Metrics struct {
	// --- Markets ---
	MarketsRegistered prometheus.Counter

	// --- Swaps ---
	SwapsExecuted    *prometheus.CounterVec
	SwapsQuoted      *prometheus.CounterVec
	SwapsRejected    *prometheus.CounterVec
	SwapDuration     *prometheus.HistogramVec
	SwapStepsPerSwap *prometheus.HistogramVec
	TicksCrossed     *prometheus.CounterVec
	FeesCollected    *prometheus.CounterVec
	InsuranceFees    *prometheus.CounterVec

	// --- Liquidity ---
	LiquidityAdds    *prometheus.CounterVec
	LiquidityRemoves *prometheus.CounterVec
	OpenOrders       *prometheus.GaugeVec
	TrackedTicks     *prometheus.GaugeVec

	// --- Funding ---
	FundingUpdates *prometheus.CounterVec

	// --- Events ---
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	// --- Persistence ---
	PersistOpsWritten prometheus.Counter
	PersistBatchSize  prometheus.Histogram
	PersistBatchDur   prometheus.Histogram
	PersistErrors     *prometheus.CounterVec
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		MarketsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_exchange_markets_registered_total",
			Help: "Markets registered against pools",
		}),

		SwapsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_exchange_swaps_executed_total",
			Help: "Swaps committed to pool state",
		}, []string{"market", "direction"}),

		SwapsQuoted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_exchange_swaps_quoted_total",
			Help: "Pure swap quotes served",
		}, []string{"market", "direction"}),

		SwapsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_exchange_swaps_rejected_total",
			Help: "Swaps rejected before state mutation",
		}, []string{"market", "reason"}),

		SwapDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_exchange_swap_duration_seconds",
			Help:    "Swap replay plus commit duration",
			Buckets: opBuckets,
		}, []string{"market"}),

		SwapStepsPerSwap: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_exchange_swap_steps",
			Help:    "Replay steps per swap",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}, []string{"market"}),

		TicksCrossed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_exchange_ticks_crossed_total",
			Help: "Initialized ticks crossed by swaps",
		}, []string{"market"}),

		FeesCollected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_exchange_fees_collected_total",
			Help: "Taker fees charged (quote units)",
		}, []string{"market"}),

		InsuranceFees: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_exchange_insurance_fees_total",
			Help: "Fee share diverted to the insurance fund (quote units)",
		}, []string{"market"}),

		LiquidityAdds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_exchange_liquidity_adds_total",
			Help: "Add-liquidity operations",
		}, []string{"market"}),

		LiquidityRemoves: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_exchange_liquidity_removes_total",
			Help: "Remove-liquidity operations",
		}, []string{"market"}),

		OpenOrders: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_exchange_open_orders",
			Help: "Open maker orders",
		}, []string{"market"}),

		TrackedTicks: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_exchange_tracked_ticks",
			Help: "Ticks with growth records",
		}, []string{"market"}),

		FundingUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_exchange_funding_updates_total",
			Help: "Funding growth updates applied",
		}, []string{"market"}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_exchange_events_published_total",
			Help: "Events published to NATS",
		}, []string{"event_type"}),

		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_exchange_events_dropped_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistOpsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_exchange_persist_ops_written_total",
			Help: "Operation records written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_exchange_persist_batch_size",
			Help:    "Operation records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_exchange_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_exchange_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_exchange_snapshot_taken_total",
			Help: "State snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_exchange_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_exchange_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),
	}
}
