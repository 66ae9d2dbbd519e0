package metrics

import (
	"time"

	"tradebot/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the Prometheus collectors for backtests and the live trader.
type Metrics struct {
	Registry *prometheus.Registry

	// Backtests
	RunsTotal     *prometheus.CounterVec // labels: outcome=completed|aborted|error
	RunDuration   prometheus.Histogram
	BarsProcessed prometheus.Counter
	TradesTotal   *prometheus.CounterVec // labels: exit_reason

	// Live trading
	SignalsTotal   *prometheus.CounterVec // labels: signal
	OrdersTotal    *prometheus.CounterVec // labels: status
	OrderLatency   prometheus.Histogram
	Equity         *prometheus.GaugeVec // labels: symbol
	LastBarLag     prometheus.Gauge
	NotifyFailures prometheus.Counter

	// Plumbing
	FanoutDropsTotal         *prometheus.CounterVec // labels: subscriber
	RedisCircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	RedisBufferedEvents      prometheus.Counter
	WSClients                prometheus.Gauge
}

// NewMetrics creates the collectors on a fresh registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_backtest_runs_total",
			Help: "Backtest runs by outcome",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradebot_backtest_run_duration_seconds",
			Help:    "Wall time of one backtest run",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		BarsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_bars_processed_total",
			Help: "Bars stepped through by the simulator",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_trades_total",
			Help: "Closed trades by exit reason",
		}, []string{"exit_reason"}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_live_signals_total",
			Help: "Signals produced on closed live bars",
		}, []string{"signal"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_orders_total",
			Help: "Orders by final status",
		}, []string{"status"}),
		OrderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradebot_order_latency_seconds",
			Help:    "Order submission latency including retries",
			Buckets: prometheus.DefBuckets,
		}),
		Equity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradebot_equity",
			Help: "Mark-to-market account equity",
		}, []string{"symbol"}),
		LastBarLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_last_bar_lag_seconds",
			Help: "Delay between a bar closing and the trader processing it",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_notification_failures_total",
			Help: "Notifications that could not be delivered",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_fanout_drops_total",
			Help: "Bars dropped per slow subscriber",
		}, []string{"subscriber"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_redis_circuit_breaker_state",
			Help: "Redis publisher breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_redis_buffered_events_total",
			Help: "Events buffered while the Redis breaker was open",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_ws_clients",
			Help: "Connected websocket dashboard clients",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RunsTotal,
		m.RunDuration,
		m.BarsProcessed,
		m.TradesTotal,
		m.SignalsTotal,
		m.OrdersTotal,
		m.OrderLatency,
		m.Equity,
		m.LastBarLag,
		m.NotifyFailures,
		m.FanoutDropsTotal,
		m.RedisCircuitBreakerState,
		m.RedisBufferedEvents,
		m.WSClients,
	)
	return m
}

// ObserveRun records one finished backtest.
func (m *Metrics) ObserveRun(completed bool, bars int, ledger []model.LedgerEntry, took time.Duration) {
	outcome := "completed"
	if !completed {
		outcome = "aborted"
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(took.Seconds())
	m.BarsProcessed.Add(float64(bars))
	for _, e := range ledger {
		m.TradesTotal.WithLabelValues(string(e.ExitReason)).Inc()
	}
}
