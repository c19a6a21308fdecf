package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshReuseTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_refresh_reuse_detected_total",
		Help: "Refresh tokens presented again after rotation.",
	})

	sweptSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carelink_sessions_swept_total",
		Help: "Sessions deleted by the sweeper, by reason.",
	}, []string{"reason"})

	sweepFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carelink_session_sweep_failures_total",
		Help: "Sweeper runs that failed, by reason.",
	}, []string{"reason"})
)
