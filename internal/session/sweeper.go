package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper evicts expired and stale sessions on fixed schedules.
//
// Two independent schedules run from one goroutine: an hourly sweep of
// sessions past ExpiresAt, and a six-hourly sweep of sessions whose
// LastActivity is older than the staleness window (covering sessions that
// never formally expired but went cold). A failing run is logged and
// counted; it never stops the schedule.
type Sweeper struct {
	cfg   SweepConfig
	store Store
	log   *slog.Logger
}

// SweepReport is the outcome of a manual one-shot sweep.
type SweepReport struct {
	Expired int64
	Stale   int64
}

// NewSweeper constructs a Sweeper.
func NewSweeper(cfg SweepConfig, store Store, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{cfg: cfg, store: store, log: log}
}

// Run blocks until ctx is done, driving both schedules.
func (s *Sweeper) Run(ctx context.Context) {
	expired := time.NewTicker(s.cfg.ExpiredInterval)
	defer expired.Stop()
	stale := time.NewTicker(s.cfg.StaleInterval)
	defer stale.Stop()

	s.log.Info("sweeper.start",
		"expired_interval", s.cfg.ExpiredInterval.String(),
		"stale_interval", s.cfg.StaleInterval.String(),
		"stale_after", s.cfg.StaleAfter.String(),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper.stop")
			return
		case <-expired.C:
			s.sweepExpiredLogged(ctx, time.Now().UTC())
		case <-stale.C:
			s.sweepStaleLogged(ctx, time.Now().UTC())
		}
	}
}

// RunOnce performs both sweeps immediately. Unlike the scheduled path it
// propagates failures to the caller (operational/admin use).
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (SweepReport, error) {
	var rep SweepReport

	expired, err := s.store.DeleteExpiredBefore(ctx, now)
	if err != nil {
		return rep, err
	}
	rep.Expired = expired
	sweptSessionsTotal.WithLabelValues("expired").Add(float64(expired))

	stale, err := s.store.DeleteInactiveBefore(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return rep, err
	}
	rep.Stale = stale
	sweptSessionsTotal.WithLabelValues("stale").Add(float64(stale))

	s.log.Info("sweeper.run_once", "expired", expired, "stale", stale)
	return rep, nil
}

func (s *Sweeper) sweepExpiredLogged(ctx context.Context, now time.Time) {
	n, err := s.store.DeleteExpiredBefore(ctx, now)
	if err != nil {
		sweepFailuresTotal.WithLabelValues("expired").Inc()
		s.log.Error("sweeper.expired.fail", "err", err)
		return
	}
	sweptSessionsTotal.WithLabelValues("expired").Add(float64(n))
	s.log.Info("sweeper.expired.done", "deleted", n)
}

func (s *Sweeper) sweepStaleLogged(ctx context.Context, now time.Time) {
	n, err := s.store.DeleteInactiveBefore(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		sweepFailuresTotal.WithLabelValues("stale").Inc()
		s.log.Error("sweeper.stale.fail", "err", err)
		return
	}
	sweptSessionsTotal.WithLabelValues("stale").Add(float64(n))
	s.log.Info("sweeper.stale.done", "deleted", n)
}
