// Package metrics exposes Prometheus instrumentation for the exchange core.
// Each Metrics value carries its own registry so tests can construct
// independent instances without collector name collisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	OrdersPlaced    prometheus.Counter
	OrdersRejected  prometheus.Counter
	OrdersCancelled prometheus.Counter
	TradesExecuted  prometheus.Counter

	PlacementLatency prometheus.Histogram
	OpenOrders       *prometheus.GaugeVec
}

func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Total number of orders accepted",
		}),

		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Total number of orders rejected at validation or reservation",
		}),

		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Total number of orders cancelled",
		}),

		TradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_executed_total",
			Help:      "Total number of trades executed",
		}),

		PlacementLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_placement_seconds",
			Help:      "Order placement latency including matching",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),

		OpenOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_orders",
			Help:      "Resting orders in the book by symbol and side",
		}, []string{"symbol", "side"}),
	}

	registry.MustRegister(
		m.OrdersPlaced,
		m.OrdersRejected,
		m.OrdersCancelled,
		m.TradesExecuted,
		m.PlacementLatency,
		m.OpenOrders,
	)

	return m
}

// Handler serves this instance's registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
