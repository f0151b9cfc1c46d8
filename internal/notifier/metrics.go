package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// notifierDelivered - доставленные уведомления по типам
var notifierDelivered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "xbot",
		Subsystem: "notifier",
		Name:      "delivered_total",
		Help:      "Notifications delivered to sinks",
	},
	[]string{"type"},
)

// notifierDropped - отброшенные из-за переполнения очереди
var notifierDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "xbot",
		Subsystem: "notifier",
		Name:      "dropped_total",
		Help:      "Notifications dropped due to a full queue",
	},
)
