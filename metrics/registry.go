// Package metrics wraps a Prometheus registry and adapts it to the
// engine.Instrumentation and marketdata.Instrumentation interfaces, so
// neither the matching engine nor the market-data session imports
// prometheus directly.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradecore/engine"
	"tradecore/marketdata"
)

// Registry holds every metric this module exports. Construct one per
// process with NewRegistry and wire it into the order book(s) and
// session(s) via SetInstrumentation.
type Registry struct {
	prom *prometheus.Registry

	ordersProcessed *prometheus.CounterVec
	tradesExecuted  *prometheus.CounterVec
	orderBookDepth  *prometheus.GaugeVec
	matchingLatency *prometheus.HistogramVec

	sessionState        prometheus.Gauge
	sessionReconnects   prometheus.Counter
	sessionHeartbeatAge prometheus.Gauge
}

// NewRegistry builds a Registry with its own prometheus.Registry, so
// multiple Registries (e.g. in tests) never collide on the default
// global registerer.
func NewRegistry(namespace string) *Registry {
	prom := prometheus.NewRegistry()

	r := &Registry{
		prom: prom,
		ordersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_processed_total",
			Help:      "Total number of orders processed by the book, by symbol and side.",
		}, []string{"symbol", "side"}),
		tradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_executed_total",
			Help:      "Total number of trades executed, by symbol.",
		}, []string{"symbol"}),
		orderBookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orderbook_depth",
			Help:      "Resting quantity on one side of the book as of the most recent Submit.",
		}, []string{"symbol", "side"}),
		matchingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matching_latency_seconds",
			Help:      "Time from one Submit call requesting the book's write lock until releasing it.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"symbol"}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current market-data session state, as its integer enum value.",
		}),
		sessionReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_reconnects_total",
			Help:      "Total reconnect attempts scheduled by the market-data session.",
		}),
		sessionHeartbeatAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_heartbeat_age_seconds",
			Help:      "Seconds since the market-data session last received any frame.",
		}),
	}

	prom.MustRegister(
		r.ordersProcessed,
		r.tradesExecuted,
		r.orderBookDepth,
		r.matchingLatency,
		r.sessionState,
		r.sessionReconnects,
		r.sessionHeartbeatAge,
	)

	return r
}

// Handler returns the promhttp handler for this registry's metric set.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

// --- engine.Instrumentation ---

var _ engine.Instrumentation = (*Registry)(nil)

func (r *Registry) OrderProcessed(symbol string, side engine.Side) {
	r.ordersProcessed.WithLabelValues(symbol, side.String()).Inc()
}

func (r *Registry) TradeExecuted(symbol string) {
	r.tradesExecuted.WithLabelValues(symbol).Inc()
}

func (r *Registry) RecordDepth(symbol string, side engine.Side, quantity int64) {
	r.orderBookDepth.WithLabelValues(symbol, side.String()).Set(float64(quantity))
}

func (r *Registry) RecordMatchLatency(symbol string, d time.Duration) {
	r.matchingLatency.WithLabelValues(symbol).Observe(d.Seconds())
}

// --- marketdata.Instrumentation ---

var _ marketdata.Instrumentation = (*Registry)(nil)

func (r *Registry) SetState(state marketdata.State) {
	r.sessionState.Set(float64(state))
}

func (r *Registry) RecordReconnect() {
	r.sessionReconnects.Inc()
}

func (r *Registry) RecordHeartbeatAge(age time.Duration) {
	r.sessionHeartbeatAge.Set(age.Seconds())
}
