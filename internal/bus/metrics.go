package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// eventsPublished - события, прошедшие через шину
var eventsPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "xbot",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Total number of events published to the bus",
	},
	[]string{"kind"}, // candle, tick, lifecycle
)

// overflows - отказы подписчиков из-за переполнения очереди
var overflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "xbot",
		Subsystem: "bus",
		Name:      "overflows_total",
		Help:      "Number of subscriber queue overflows (subscriber failed)",
	},
	[]string{"instance"},
)

// subscriptions - текущее количество живых подписок
var subscriptions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "xbot",
		Subsystem: "bus",
		Name:      "subscriptions",
		Help:      "Current number of live subscriptions",
	},
)
