// Package app wires the CareLink server runtime: config, logging, crypto
// material, session services, HTTP routes, and the realtime gateway.
//
// It is intentionally small and deterministic so startup either produces a
// fully working process or an error, never a degraded one.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"carelink/internal/httpapi"
	"carelink/internal/realtime"
	"carelink/internal/security/vault"
	"carelink/internal/session"
)

// App is the CareLink server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	vault    *vault.Vault
	sessions *session.Service
	sweeper  *session.Sweeper

	ws   *realtime.WSGateway
	auth *httpapi.Handler
}

// New constructs a fully wired App instance from config and logger.
//
// Fail-fast policy: a missing or malformed vault key, session secret, or
// database URL (when set) aborts construction.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	// The vault refuses weak or absent keys; silently starting without
	// field encryption is unacceptable.
	v, err := vault.New(cfg.VaultKeyHex)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	sweepCfg, err := session.LoadSweepConfigFromEnv()
	if err != nil {
		return nil, err
	}
	codec, err := session.NewPasetoV4Codec(sessCfg)
	if err != nil {
		return nil, err
	}

	var (
		dbPool    *pgxpool.Pool
		dbEnabled bool
		store     session.Store
		directory httpapi.UserDirectory
	)

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		store = session.NewMemoryStore()
		directory = httpapi.NewMemoryDirectory()
	} else {
		pool, err := NewDBPool(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled.postgres_store")

		pgDir, err := httpapi.NewPostgresDirectory(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}

		dbPool = pool
		dbEnabled = true
		store = session.NewPostgresStore(pool)
		directory = pgDir
	}

	sessions := session.NewService(sessCfg, store, codec, log)
	sweeper := session.NewSweeper(sweepCfg, store, log)

	auth, err := httpapi.NewHandler(log, httpapi.LoadConfigFromEnv(), directory, sessions)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	ws := realtime.NewWSGateway(log, realtime.NewHub(log), sessions)

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		vault:     v,
		sessions:  sessions,
		sweeper:   sweeper,
		ws:        ws,
		auth:      auth,
	}, nil
}

// Vault exposes the credential vault for record-storage layers built on top
// of this runtime.
func (a *App) Vault() *vault.Vault {
	return a.vault
}

// Run starts the sweeper and HTTP server and blocks until context
// cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		a.sweeper.Run(runCtx)
	}()

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.auth)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		cancel()
		<-sweeperDone
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	cancel()
	<-sweeperDone

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
