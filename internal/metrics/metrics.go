// Package metrics exposes the engine's Prometheus counters and gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/gauge the engine publishes.
type Metrics struct {
	Registry *prometheus.Registry

	OrdersPlaced   *prometheus.CounterVec
	OrdersFilled   *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec
	OrdersFailed   *prometheus.CounterVec

	GatewayRetries   prometheus.Counter
	GatewayRateLimited prometheus.Counter

	OpenPositions   prometheus.Gauge
	AccountEquity   *prometheus.GaugeVec
	LiquidationsTriggered *prometheus.CounterVec

	EventBusSequenceGap prometheus.Counter
}

// New constructs and registers every metric against a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execcore_orders_placed_total",
			Help: "Orders placed, by origin.",
		}, []string{"origin"}),
		OrdersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execcore_orders_filled_total",
			Help: "Orders filled, by origin.",
		}, []string{"origin"}),
		OrdersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execcore_orders_cancelled_total",
			Help: "Orders cancelled, by origin.",
		}, []string{"origin"}),
		OrdersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execcore_orders_failed_total",
			Help: "Orders failed, by origin.",
		}, []string{"origin"}),
		GatewayRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execcore_gateway_retries_total",
			Help: "Transient-error retries attempted against the exchange gateway.",
		}),
		GatewayRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execcore_gateway_rate_limited_total",
			Help: "Requests that waited on the gateway's rate gate.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execcore_open_positions",
			Help: "Currently open virtual positions across all accounts.",
		}),
		AccountEquity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "execcore_account_equity",
			Help: "Per-account equity snapshot.",
		}, []string{"account_id"}),
		LiquidationsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execcore_liquidations_triggered_total",
			Help: "Liquidation tier triggers, by tier.",
		}, []string{"tier"}),
		EventBusSequenceGap: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execcore_eventbus_sequence_gap_total",
			Help: "Detected gaps in the outbound event sequence numbers.",
		}),
	}

	registry.MustRegister(
		m.OrdersPlaced, m.OrdersFilled, m.OrdersCancelled, m.OrdersFailed,
		m.GatewayRetries, m.GatewayRateLimited,
		m.OpenPositions, m.AccountEquity, m.LiquidationsTriggered,
		m.EventBusSequenceGap,
	)
	return m
}
