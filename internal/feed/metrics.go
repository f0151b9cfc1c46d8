package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// feedReconnects - переподключения WebSocket фида
var feedReconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "xbot",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "WebSocket feed reconnections",
	},
	[]string{"exchange"},
)

// feedConnected - статус подключения фида
var feedConnected = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "xbot",
		Subsystem: "feed",
		Name:      "connected",
		Help:      "Feed connection status (1=connected, 0=disconnected)",
	},
	[]string{"exchange"},
)
