// Package metrics registers the daemon's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the daemon exports. Create exactly one
// per process; promauto registers against the default registry.
type Metrics struct {
	OrdersPlaced    *prometheus.CounterVec
	OrdersFilled    prometheus.Counter
	OrdersCancelled prometheus.Counter
	OrderRejections *prometheus.CounterVec
	PriceTicks      prometheus.Counter
	TradesPrinted   prometheus.Counter
	WSClients       prometheus.Gauge
	FillWait        prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	return &Metrics{
		OrdersPlaced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonx_orders_placed_total",
			Help: "Total orders accepted by the engine",
		}, []string{"type", "side"}),
		OrdersFilled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carbonx_orders_filled_total",
			Help: "Total orders that reached filled status",
		}),
		OrdersCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carbonx_orders_cancelled_total",
			Help: "Total orders cancelled before completion",
		}),
		OrderRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonx_order_rejections_total",
			Help: "Orders rejected at validation, by reason",
		}, []string{"reason"}),
		PriceTicks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carbonx_price_ticks_total",
			Help: "Price updates published by the feed",
		}),
		TradesPrinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carbonx_trades_printed_total",
			Help: "Trades appended to the tape, synthetic and real",
		}),
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "carbonx_ws_clients",
			Help: "Currently connected websocket clients",
		}),
		FillWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "carbonx_fill_wait_seconds",
			Help:    "Time from order placement to complete fill",
			Buckets: []float64{0.5, 1, 2, 5, 15, 60, 300},
		}),
	}
}

// RecordOrderPlaced counts an accepted order by type and side.
func (m *Metrics) RecordOrderPlaced(orderType, side string) {
	m.OrdersPlaced.WithLabelValues(orderType, side).Inc()
}

// RecordRejection counts a validation failure by its reason string.
func (m *Metrics) RecordRejection(reason string) {
	m.OrderRejections.WithLabelValues(reason).Inc()
}

// ObserveFillWait records how long an order waited for its full fill.
func (m *Metrics) ObserveFillWait(seconds float64) {
	m.FillWait.Observe(seconds)
}

// ClientConnected and ClientDisconnected track the websocket gauge.
func (m *Metrics) ClientConnected() { m.WSClients.Inc() }

func (m *Metrics) ClientDisconnected() { m.WSClients.Dec() }
