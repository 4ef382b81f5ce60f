package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Inblac/gpt-proxy/config"
	"github.com/Inblac/gpt-proxy/dispatch"
	"github.com/Inblac/gpt-proxy/keypool"
	"github.com/Inblac/gpt-proxy/logger"
	"github.com/Inblac/gpt-proxy/metrics"
	"github.com/Inblac/gpt-proxy/redisclient"
	"github.com/Inblac/gpt-proxy/router"
	"github.com/Inblac/gpt-proxy/selector"
	"github.com/Inblac/gpt-proxy/upstream"
	"github.com/Inblac/gpt-proxy/usage"
	"github.com/Inblac/gpt-proxy/validator"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("gpt-proxy starting")

	repo, err := openRepository(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open key repository")
	}
	defer repo.Close()

	sel := selector.New(repo, cfg.MaxActiveKeysLimit)

	if cfg.RedisURL != "" {
		rc, err := redisclient.New(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed, rebuild coordination will be process-local")
		} else if err := rc.Ping(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed, rebuild coordination will be process-local")
		} else {
			log.Info().Msg("redis connected, coordinating ring rebuilds across replicas")
			sel = sel.WithLock(selector.NewRedisLock(rc.Raw(), "gpt-proxy:ring-rebuild", 2*time.Second))
		}
	}

	if err := sel.Rebuild(context.Background()); err != nil {
		log.Warn().Err(err).Msg("initial ring rebuild failed, starting with an empty ring")
	}

	// MaxCallsPerKeyPerWindow is advisory only; the window itself is
	// bounded by the accountant's own timestamp cap.
	acct := usage.New(usage.DefaultMaxTimestampsPerKey, cfg.UsageWindowSeconds)
	up := upstream.New(upstream.Config{ChatURL: cfg.UpstreamChatURL, ModelsURL: cfg.UpstreamModelsURL})
	defer up.CloseIdleConnections()

	reg := metrics.NewRegistry()

	engine := dispatch.New(repo, sel, acct, up, log).WithMetrics(reg)
	engine.DispatchTimeout = cfg.DispatchTimeout
	engine.MaxRetries = cfg.MaxRetries

	gaugeCtx, stopGauges := context.WithCancel(context.Background())
	go pushGauges(gaugeCtx, reg, up, acct)

	v := validator.New(repo, sel, up, log)
	v.Timeout = cfg.ValidatorTimeout
	poller := validator.NewPoller(v, cfg.ValidatorInterval)
	poller.Start()

	r := router.New(cfg, log, engine, reg)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // no write deadline: a streamed response may run arbitrarily long
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("gpt-proxy listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	poller.Stop()
	stopGauges()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("gpt-proxy stopped gracefully")
	}
}

// pushGauges periodically copies pull-side counters (shared transport
// totals, per-key usage window sizes) into the registry so /metrics
// reflects them without the hot path touching the registry.
func pushGauges(ctx context.Context, reg *metrics.Registry, up *upstream.Client, acct *usage.Accountant) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requests, errors := up.Metrics()
			reg.SetUpstreamRequestCounts(requests, errors)
			for keyID, n := range acct.Sizes() {
				reg.SetUsageWindowSize(keyID, n)
			}
		}
	}
}

// openRepository selects the key repository backend per cfg.DBType.
func openRepository(cfg *config.Config) (keypool.Repository, error) {
	switch cfg.DBType {
	case "postgres":
		return keypool.OpenPostgres(cfg.DatabaseURL)
	default:
		return keypool.OpenSQLite(cfg.DatabaseURL)
	}
}
