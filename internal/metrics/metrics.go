// Package metrics holds the Prometheus collectors of the decision core.
//
// Exposed series:
//   - gq_ticks_total{pair,strategy,status}   ticks by terminal status
//   - gq_tick_duration_seconds{strategy}      tick latency
//   - gq_decisions_total{pair,intent}         enter/exit/none decisions
//   - gq_orders_total{pair,kind,status}       gateway calls
//   - gq_optimizer_runs_total{pair}           walk-forward optimizations
//   - gq_optimizer_duration_seconds           grid search latency
//   - gq_optimizer_memory_size{pair}          ranked parameter sets kept
//   - gq_virtual_capital{pair}                grid compounding capital
//   - gq_state_corruption_total{pair,field}   persisted fields reset to default
//
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	Ticks           *prometheus.CounterVec
	TickDuration    *prometheus.HistogramVec
	Decisions       *prometheus.CounterVec
	Orders          *prometheus.CounterVec
	OptimizerRuns   *prometheus.CounterVec
	OptimizerDur    prometheus.Histogram
	OptimizerMemory *prometheus.GaugeVec
	VirtualCapital  *prometheus.GaugeVec
	StateCorruption *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gq_ticks_total",
			Help: "Ticks handled, by terminal status",
		}, []string{"pair", "strategy", "status"}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gq_tick_duration_seconds",
			Help:    "Tick handling latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"strategy"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gq_decisions_total",
			Help: "Per-tick intents",
		}, []string{"pair", "intent"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gq_orders_total",
			Help: "Order gateway calls, by outcome",
		}, []string{"pair", "kind", "status"}),
		OptimizerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gq_optimizer_runs_total",
			Help: "Walk-forward optimizations performed",
		}, []string{"pair"}),
		OptimizerDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gq_optimizer_duration_seconds",
			Help:    "Grid search latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		OptimizerMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gq_optimizer_memory_size",
			Help: "Ranked parameter sets kept after the last optimization",
		}, []string{"pair"}),
		VirtualCapital: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gq_virtual_capital",
			Help: "Grid per-pair compounding capital",
		}, []string{"pair"}),
		StateCorruption: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gq_state_corruption_total",
			Help: "Persisted state fields reset to their default",
		}, []string{"pair", "field"}),
	}
	m.registry.MustRegister(
		m.Ticks,
		m.TickDuration,
		m.Decisions,
		m.Orders,
		m.OptimizerRuns,
		m.OptimizerDur,
		m.OptimizerMemory,
		m.VirtualCapital,
		m.StateCorruption,
	)
	return m
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(pair, strategy, status, intent string, took time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(pair, strategy, status).Inc()
	m.TickDuration.WithLabelValues(strategy).Observe(took.Seconds())
	m.Decisions.WithLabelValues(pair, intent).Inc()
}

func (m *Metrics) ObserveOrder(pair, kind, status string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(pair, kind, status).Inc()
}

func (m *Metrics) ObserveOptimization(pair string, memory int, took time.Duration) {
	if m == nil {
		return
	}
	m.OptimizerRuns.WithLabelValues(pair).Inc()
	m.OptimizerDur.Observe(took.Seconds())
	m.OptimizerMemory.WithLabelValues(pair).Set(float64(memory))
}

func (m *Metrics) SetVirtualCapital(pair string, v float64) {
	if m == nil {
		return
	}
	m.VirtualCapital.WithLabelValues(pair).Set(v)
}

func (m *Metrics) ObserveCorruption(pair string, fields []string) {
	if m == nil {
		return
	}
	for _, f := range fields {
		m.StateCorruption.WithLabelValues(pair, f).Inc()
	}
}
