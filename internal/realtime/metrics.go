package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carelink_ws_connections",
		Help: "Number of live WebSocket connections.",
	})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carelink_ws_messages_total",
		Help: "Inbound WebSocket messages accepted, by envelope type.",
	}, []string{"type"})

	droppedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_ws_dropped_messages_total",
		Help: "Outbound envelopes dropped because a client mailbox was full.",
	})

	emergencyAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_ws_emergency_alerts_total",
		Help: "Emergency alerts fanned out to all connections.",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_ws_rate_limited_total",
		Help: "Inbound messages rejected by the per-connection rate limiter.",
	})

	authFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_ws_auth_failures_total",
		Help: "WebSocket handshakes rejected for missing or invalid tokens.",
	})
)
