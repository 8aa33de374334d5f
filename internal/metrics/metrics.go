// Package metrics exposes Prometheus metrics and health endpoints for the
// trading engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"trading-enginev1/internal/circuit"
	"trading-enginev1/internal/orchestrator"
	"trading-enginev1/internal/portfolio"
	"trading-enginev1/internal/position"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec   // labels: symbol, strategy, outcome
	CycleDuration *prometheus.HistogramVec // labels: strategy
	SignalsTotal  *prometheus.CounterVec   // labels: symbol, strategy, direction
	ActionsTotal  *prometheus.CounterVec   // labels: symbol, strategy, action
	FetchFailures *prometheus.CounterVec   // labels: symbol, strategy
	TradesTotal   *prometheus.CounterVec   // labels: symbol, strategy, exit_reason

	OpenPositions prometheus.Gauge
	Balance       prometheus.Gauge
	DailyLoss     prometheus.Gauge
	RealizedPnL   prometheus.Gauge

	// Circuit breakers
	BrokerCircuitState  prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BrokerCircuitTrips  prometheus.Counter
	RedisCircuitState   prometheus.Gauge
	RedisBufferedTrades prometheus.Counter

	// Reporting sinks
	SinkDropsTotal  *prometheus.CounterVec // labels: sink
	SinkErrorsTotal *prometheus.CounterVec // labels: sink

	WSReconnects prometheus.Counter
}

// New registers and returns all metrics on reg. A nil reg uses the default
// Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_cycles_total",
			Help: "Loop cycles by outcome",
		}, []string{"symbol", "strategy", "outcome"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeengine_cycle_duration_seconds",
			Help:    "Wall time of one loop cycle including candle fetch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"strategy"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_signals_total",
			Help: "Strategy signals by direction",
		}, []string{"symbol", "strategy", "direction"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_position_actions_total",
			Help: "Position manager actions (opened, rejected, closed, ...)",
		}, []string{"symbol", "strategy", "action"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_fetch_failures_total",
			Help: "Cycles skipped because candles could not be fetched",
		}, []string{"symbol", "strategy"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_trades_total",
			Help: "Completed trades by exit reason",
		}, []string{"symbol", "strategy", "exit_reason"}),

		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_open_positions",
			Help: "Positions currently open across all loops",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_account_balance",
			Help: "Account balance after realized P&L",
		}),
		DailyLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_daily_loss",
			Help: "Realized loss accumulated in the current UTC day",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_realized_pnl",
			Help: "Realized P&L since start",
		}),

		BrokerCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_broker_circuit_breaker_state",
			Help: "Broker circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BrokerCircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_broker_circuit_breaker_trips_total",
			Help: "Times the broker circuit breaker tripped open",
		}),
		RedisCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBufferedTrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_redis_buffered_trades_total",
			Help: "Trades buffered locally while Redis was unavailable",
		}),

		SinkDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_sink_drops_total",
			Help: "Trade records dropped because a sink queue was full",
		}, []string{"sink"}),
		SinkErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_sink_errors_total",
			Help: "Trade records a sink failed to write",
		}, []string{"sink"}),

		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_ws_reconnects_total",
			Help: "Kline stream reconnection attempts",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.SignalsTotal,
		m.ActionsTotal,
		m.FetchFailures,
		m.TradesTotal,
		m.OpenPositions,
		m.Balance,
		m.DailyLoss,
		m.RealizedPnL,
		m.BrokerCircuitState,
		m.BrokerCircuitTrips,
		m.RedisCircuitState,
		m.RedisBufferedTrades,
		m.SinkDropsTotal,
		m.SinkErrorsTotal,
		m.WSReconnects,
	)
	return m
}

// ObserveCycle records one loop report.
func (m *Metrics) ObserveCycle(rep orchestrator.CycleReport) {
	m.CyclesTotal.WithLabelValues(rep.Symbol, rep.Strategy, string(rep.Outcome)).Inc()
	m.CycleDuration.WithLabelValues(rep.Strategy).Observe(rep.Duration.Seconds())

	switch rep.Outcome {
	case orchestrator.OutcomeDataError:
		m.FetchFailures.WithLabelValues(rep.Symbol, rep.Strategy).Inc()
		return
	case orchestrator.OutcomeInsufficientData:
		return
	}

	m.SignalsTotal.WithLabelValues(rep.Symbol, rep.Strategy, string(rep.Signal.Direction)).Inc()
	if rep.Action != "" && rep.Action != position.ActionNone && rep.Action != position.ActionHeld {
		m.ActionsTotal.WithLabelValues(rep.Symbol, rep.Strategy, string(rep.Action)).Inc()
	}
	if rep.Trade != nil {
		m.TradesTotal.WithLabelValues(rep.Symbol, rep.Strategy, rep.Trade.ExitReason).Inc()
	}
}

// ObserveAccount copies the account, portfolio and ledger state into gauges.
func (m *Metrics) ObserveAccount(acct portfolio.AccountStatus, openPositions int, realized float64) {
	m.Balance.Set(acct.Balance)
	m.DailyLoss.Set(acct.DailyLoss)
	m.OpenPositions.Set(float64(openPositions))
	m.RealizedPnL.Set(realized)
}

// BrokerCircuitChanged tracks broker breaker transitions.
func (m *Metrics) BrokerCircuitChanged(_, to circuit.State) {
	m.BrokerCircuitState.Set(float64(to))
	if to == circuit.StateOpen {
		m.BrokerCircuitTrips.Inc()
	}
}

// RedisCircuitChanged tracks Redis breaker transitions.
func (m *Metrics) RedisCircuitChanged(_, to circuit.State) {
	m.RedisCircuitState.Set(float64(to))
}
