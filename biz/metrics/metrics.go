package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ai_trader_ws_connections",
		Help: "Number of active WebSocket connections",
	})

	WSDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_trader_ws_dropped_total",
		Help: "Frames dropped because a channel or client buffer was full",
	}, []string{"reason"})

	TicksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_trader_ticks_total",
		Help: "Market ticks received from the bus",
	}, []string{"symbol"})

	CandlesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_trader_candles_closed_total",
		Help: "Candles closed by the aggregator",
	}, []string{"symbol", "period"})

	StrategyEvals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_trader_strategy_evals_total",
		Help: "Strategy rule evaluations by outcome",
	}, []string{"outcome"})

	TradesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_trader_trades_recorded_total",
		Help: "Closed trades written to the journal",
	}, []string{"mode"})

	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_trader_alerts_total",
		Help: "Alerts emitted by type",
	}, []string{"type"})

	CompileCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_trader_compile_cache_total",
		Help: "Compiled rule cache lookups",
	}, []string{"result"})
)
