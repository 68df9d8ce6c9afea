package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's prometheus collectors. Every method is nil-safe so
// components can run without instrumentation.
type Metrics struct {
	Ticks         prometheus.Counter
	TickErrors    *prometheus.CounterVec
	Signals       *prometheus.CounterVec
	Orders        *prometheus.CounterVec
	Exits         *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	GateBlocks    *prometheus.CounterVec

	OpenPositions     prometheus.Gauge
	DailyPnL          prometheus.Gauge
	DailyPnLPct       prometheus.Gauge
	ConsecutiveLosses prometheus.Gauge
	InventoryDrift    prometheus.Gauge

	CallLatency *prometheus.HistogramVec

	// TickLatency keeps recent tick durations for the status API.
	TickLatency *LatencyWindow
}

// NewMetrics builds and registers the collectors on reg. A nil reg leaves them
// unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_ticks_total",
			Help: "Engine ticks completed",
		}),
		TickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_tick_errors_total",
			Help: "Tick failures by kind",
		}, []string{"kind"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_signals_total",
			Help: "Strategy signals by action",
		}, []string{"action"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_orders_total",
			Help: "Order submissions by side and result",
		}, []string{"side", "result"}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_exits_total",
			Help: "Position exits by rule",
		}, []string{"rule"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_notifications_total",
			Help: "Notification outcomes",
		}, []string{"result"}),
		GateBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_gate_blocks_total",
			Help: "Entries blocked by the risk gate",
		}, []string{"reason"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_open_positions",
			Help: "Open positions",
		}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_daily_pnl",
			Help: "Realized PnL this session, quote currency",
		}),
		DailyPnLPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_daily_pnl_pct",
			Help: "Realized PnL as a fraction of starting balance",
		}),
		ConsecutiveLosses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_consecutive_losses",
			Help: "Current losing streak",
		}),
		InventoryDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_inventory_drift",
			Help: "Venue base balance minus tracked open quantity at the last reconciliation",
		}),
		CallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scalper_call_latency_seconds",
			Help:    "External call latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"call"}),
		TickLatency: NewLatencyWindow(500),
	}
	if reg != nil {
		reg.MustRegister(m.Ticks, m.TickErrors, m.Signals, m.Orders, m.Exits, m.Notifications, m.GateBlocks,
			m.OpenPositions, m.DailyPnL, m.DailyPnLPct, m.ConsecutiveLosses, m.InventoryDrift, m.CallLatency)
	}
	return m
}

func (m *Metrics) TickDone(d time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickLatency.RecordDuration(d)
}

func (m *Metrics) TickError(kind string) {
	if m == nil {
		return
	}
	m.TickErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) Signal(action string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(action).Inc()
}

func (m *Metrics) Order(side, result string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(side, result).Inc()
}

func (m *Metrics) Exit(rule string) {
	if m == nil {
		return
	}
	m.Exits.WithLabelValues(rule).Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) GateBlock(reason string) {
	if m == nil {
		return
	}
	m.GateBlocks.WithLabelValues(reason).Inc()
}

// Session publishes the session gauges.
func (m *Metrics) Session(open int, pnl, pnlPct float64, losses int) {
	if m == nil {
		return
	}
	m.OpenPositions.Set(float64(open))
	m.DailyPnL.Set(pnl)
	m.DailyPnLPct.Set(pnlPct)
	m.ConsecutiveLosses.Set(float64(losses))
}

// Drift publishes the last reconciliation difference.
func (m *Metrics) Drift(diff float64) {
	if m == nil {
		return
	}
	m.InventoryDrift.Set(diff)
}

// ObserveCall records how long an external call took.
func (m *Metrics) ObserveCall(call string, started time.Time) {
	if m == nil {
		return
	}
	m.CallLatency.WithLabelValues(call).Observe(time.Since(started).Seconds())
}
