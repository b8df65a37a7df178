// Package metrics exposes Prometheus metrics for observability.
//
// Gauges/counters:
//   - grid_active_orders{session_id}            — active grid orders per session
//   - grid_arbitrage_count{session_id}           — completed FIFO matches per session
//   - session_event_queue_depth{session_id}      — current queue depth
//   - session_event_queue_dropped_total{session_id} — events dropped under backpressure
//   - ws_supervisor_state{account}                — circuit-breaker state (0=closed,1=open,2=half_open)
//   - risk_daily_loss{account}                    — today's realized P&L
//   - copy_trade_latency_ms                       — leader-fill-to-follower-order latency (histogram)
//
// Registered in init() and served at /metrics (Prometheus text exposition
// format) by the admin HTTP server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	GridActiveOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_active_orders",
			Help: "Number of active grid orders for a session.",
		},
		[]string{"session_id"},
	)

	GridArbitrageCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_arbitrage_count",
			Help: "Completed FIFO buy/sell matches for a session.",
		},
		[]string{"session_id"},
	)

	SessionEventQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "session_event_queue_depth",
			Help: "Current depth of a session's event queue.",
		},
		[]string{"session_id"},
	)

	SessionEventQueueDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_event_queue_dropped_total",
			Help: "Events dropped from a session's event queue under backpressure.",
		},
		[]string{"session_id"},
	)

	WSSupervisorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_supervisor_state",
			Help: "WebSocket supervisor circuit state (0=closed, 1=open, 2=half_open).",
		},
		[]string{"account"},
	)

	WSConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_connection_state",
			Help: "WebSocket connection state (0=disconnected, 1=connected, 2=reconnecting, 3=failed).",
		},
		[]string{"account"},
	)

	RiskDailyLoss = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "risk_daily_loss",
			Help: "Today's realized P&L for an account (negative is a loss).",
		},
		[]string{"account"},
	)

	CopyTradeLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copy_trade_latency_ms",
			Help:    "Latency from leader fill to follower order submission, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(
		GridActiveOrders,
		GridArbitrageCount,
		SessionEventQueueDepth,
		SessionEventQueueDropped,
		WSSupervisorState,
		WSConnectionState,
		RiskDailyLoss,
		CopyTradeLatencyMs,
	)
}
