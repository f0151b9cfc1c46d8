package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового движка
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для алертов (overflow, ERROR-инстансы, просадка)

// ============ Метрики событий ============

// EventProcessingLatency - время обработки события инстансом
var EventProcessingLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "xbot",
		Subsystem: "engine",
		Name:      "event_processing_latency_ms",
		Help:      "Time to process one market event in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
	},
	[]string{"symbol", "kind"},
)

// ============ Метрики ордеров ============

// OrdersSubmitted - отправленные ордера
var OrdersSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "xbot",
		Subsystem: "orders",
		Name:      "submitted_total",
		Help:      "Total number of submitted orders",
	},
	[]string{"symbol", "side"},
)

// OrdersTerminal - ордера, дошедшие до терминального состояния
var OrdersTerminal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "xbot",
		Subsystem: "orders",
		Name:      "terminal_total",
		Help:      "Orders that reached a terminal state",
	},
	[]string{"symbol", "state"}, // FILLED, CANCELLED, REJECTED
)

// OrderExecutionLatency - время от Submit до терминального состояния
var OrderExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "xbot",
		Subsystem: "orders",
		Name:      "execution_latency_ms",
		Help:      "Time from submit to terminal state in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"symbol", "side"},
)

// ============ Метрики риска ============

// RiskReservations - исходы резерваций капитала
var RiskReservations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "xbot",
		Subsystem: "risk",
		Name:      "reservations_total",
		Help:      "Capital reservation outcomes",
	},
	[]string{"symbol", "outcome"}, // granted, denied
)

// RiskDrawdown - текущая просадка от пика equity
var RiskDrawdown = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "xbot",
		Subsystem: "risk",
		Name:      "drawdown_ratio",
		Help:      "Current realized drawdown as a fraction of peak equity",
	},
)

// RiskExposure - открытая экспозиция по символам
var RiskExposure = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "xbot",
		Subsystem: "risk",
		Name:      "exposure_notional",
		Help:      "Open exposure per symbol in quote currency",
	},
	[]string{"symbol"},
)

// PnlTotal - суммарный реализованный PNL
var PnlTotal = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "xbot",
		Subsystem: "risk",
		Name:      "realized_pnl",
		Help:      "Total realized PnL in quote currency",
	},
)

// ============ Метрики инстансов ============

// InstancesByState - инстансы по состояниям state machine
var InstancesByState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "xbot",
		Subsystem: "engine",
		Name:      "instances",
		Help:      "Number of instances by lifecycle state",
	},
	[]string{"state"}, // INIT, RUNNING, PAUSED, STOPPING, STOPPED, ERROR
)

// InstanceRestarts - перезапуски после ERROR
var InstanceRestarts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "xbot",
		Subsystem: "engine",
		Name:      "instance_restarts_total",
		Help:      "Supervisor restarts of failed instances",
	},
	[]string{"instance"},
)

// TradesTotal - завершённые сделки (вход + выход)
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "xbot",
		Subsystem: "engine",
		Name:      "trades_total",
		Help:      "Completed round-trip trades",
	},
	[]string{"symbol", "result"}, // win, loss
)
