package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/workload/pkg/types"
)

const namespace = "geth_workload"

// PrometheusMetrics holds all Prometheus metrics for the workload.
// It is created once per process and shared by the cycle controller,
// the supervisor and the head-block refresher.
type PrometheusMetrics struct {
	// Window gauges, overwritten at the end of every cycle
	TPS         prometheus.Gauge
	RPCRate     prometheus.Gauge
	MGasPerSec  prometheus.Gauge
	FailureRate prometheus.Gauge
	AvgLatency  prometheus.Gauge

	HeadBlock   prometheus.Gauge
	TargetTPS   prometheus.Gauge
	Concurrency prometheus.Gauge
	State       *prometheus.GaugeVec

	// Observed per attempt as workers complete them
	TxLatency prometheus.Histogram

	RPCErrors prometheus.Counter
	Cycles    *prometheus.CounterVec
	Restarts  prometheus.Counter
}

// NewPrometheusMetrics creates and registers all metrics on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		TPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tps",
			Help:      "Achieved transactions per second over the test window",
		}),
		RPCRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rpc_rps",
			Help:      "Approximate JSON-RPC requests per second over the test window",
		}),
		MGasPerSec: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mgas_per_sec",
			Help:      "Achieved mega-gas per second (MGas/s) over the test window",
		}),
		FailureRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failure_rate",
			Help:      "Transaction failure rate over the test window (0-1)",
		}),
		AvgLatency: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "avg_latency_seconds",
			Help:      "Average transaction latency in seconds over the test window",
		}),
		HeadBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "head_block_number",
			Help:      "Latest block number observed by the workload",
		}),
		TargetTPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_tps",
			Help:      "Configured target transactions per second of the current cycle",
		}),
		Concurrency: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concurrency",
			Help:      "Configured worker count of the current cycle",
		}),
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "Current supervisor state (1 if active, 0 otherwise)",
		}, []string{"state"}),
		TxLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_latency_seconds",
			Help:      "Histogram of transaction latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		RPCErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "Total JSON-RPC errors observed by the workload",
		}),
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Supervisor iterations by result",
		}, []string{"result"}),
		Restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Full supervisor restarts after connectivity failures",
		}),
	}
}

// ObserveLatency records one completed attempt into the latency histogram.
func (m *PrometheusMetrics) ObserveLatency(d time.Duration) {
	m.TxLatency.Observe(d.Seconds())
}

// IncRPCErrors counts one failed attempt that never obtained a receipt.
func (m *PrometheusMetrics) IncRPCErrors() {
	m.RPCErrors.Inc()
}

// PublishWindow overwrites the window gauges with a cycle's metrics.
func (m *PrometheusMetrics) PublishWindow(w types.WindowMetrics) {
	m.TPS.Set(w.TPS)
	m.RPCRate.Set(w.RPS)
	m.MGasPerSec.Set(w.MGasPerSec)
	m.FailureRate.Set(w.FailureRate)
	m.AvgLatency.Set(w.AvgLatency.Seconds())
}

// SetHeadBlock updates the head block gauge.
func (m *PrometheusMetrics) SetHeadBlock(n uint64) {
	m.HeadBlock.Set(float64(n))
}

// SetLoadConfig exposes the configuration of the cycle about to run.
func (m *PrometheusMetrics) SetLoadConfig(cfg types.LoadConfig) {
	m.TargetTPS.Set(float64(cfg.TargetTPS))
	m.Concurrency.Set(float64(cfg.Concurrency))
}

// SetState marks state as the only active supervisor state.
func (m *PrometheusMetrics) SetState(state types.SupervisorState) {
	for _, s := range types.AllStates {
		if s == state {
			m.State.WithLabelValues(string(s)).Set(1)
		} else {
			m.State.WithLabelValues(string(s)).Set(0)
		}
	}
}

// RecordCycle counts one supervisor iteration ("completed", "idle", "no_accounts").
func (m *PrometheusMetrics) RecordCycle(result string) {
	m.Cycles.WithLabelValues(result).Inc()
}

// IncRestarts counts one full supervisor restart.
func (m *PrometheusMetrics) IncRestarts() {
	m.Restarts.Inc()
}
