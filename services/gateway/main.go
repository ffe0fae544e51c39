package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenhq/throttlegate/services/gateway/config"
	"github.com/wardenhq/throttlegate/services/gateway/egress"
	"github.com/wardenhq/throttlegate/services/gateway/handler"
	"github.com/wardenhq/throttlegate/services/gateway/identity"
	"github.com/wardenhq/throttlegate/services/gateway/ingress"
	"github.com/wardenhq/throttlegate/services/gateway/logger"
	"github.com/wardenhq/throttlegate/services/gateway/observability"
	"github.com/wardenhq/throttlegate/services/gateway/ratelimit"
	"github.com/wardenhq/throttlegate/services/gateway/ratelimit/store/memorystore"
	"github.com/wardenhq/throttlegate/services/gateway/ratelimit/store/redisstore"
	"github.com/wardenhq/throttlegate/services/gateway/redisclient"
	"github.com/wardenhq/throttlegate/services/gateway/router"
	"github.com/wardenhq/throttlegate/services/gateway/settings"
)

// identityExtractors registers the IdentityId values a settings.json
// document is allowed to reference. Deployments adding a new extractor
// wire it in here.
func identityExtractors() settings.IdentityExtractors {
	return settings.IdentityExtractors{
		"api-key":       identity.QueryParam("api-key"),
		"authorization": identity.Header("Authorization"),
		"sub-claim":     identity.JWTClaim("sub"),
	}
}

func newCounterStore(cfg *config.Config, log zerolog.Logger) ratelimit.CounterStore {
	if cfg.RedisURL == "" {
		log.Info().Msg("no REDIS_URL configured — using in-process memorystore")
		return memorystore.New()
	}
	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — falling back to memorystore")
		return memorystore.New()
	}
	if err := rc.Ping(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — falling back to memorystore")
		return memorystore.New()
	}
	log.Info().Msg("redis connected — using redisstore")
	return redisstore.New(rc.Raw(), log)
}

func newEngine(ctx context.Context, cfg *config.Config, log zerolog.Logger, section func(settings.Document) settings.Section, counterStore ratelimit.CounterStore, metrics *observability.Metrics) *ratelimit.Engine {
	producer := settings.FileProducer(cfg.SettingsPath, section, identityExtractors())
	loader := ratelimit.NewConfigLoader(ctx, log, producer, int(cfg.ConfigRefreshInterval.Seconds()))
	return ratelimit.NewEngine(loader, counterStore, log, metrics)
}

// propagateToIngress reads the Egress.PropagateToIngress flag out of
// settings.json once at startup; unlike the rule set itself, whether
// egress rejections propagate into the ingress response is treated as
// a static deployment choice, not something that hot-swaps mid-flight.
func propagateToIngress(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	doc, err := settings.Decode(f)
	if err != nil {
		return false
	}
	return doc.Egress.PropagateToIngress
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("throttlegate starting")

	ctx, cancelLoaders := context.WithCancel(context.Background())
	defer cancelLoaders()

	counterStore := newCounterStore(cfg, log)
	metrics := observability.NewMetrics()

	// The egress Engine backs an http.RoundTripper, not HTTP middleware,
	// so it is built up front like everything else; only the per-host
	// ingress middleware instance gets the double-checked lazy
	// construction spec.md §5/§9 calls for (see router.LazyIngress).
	egressEngine := newEngine(ctx, cfg, log, settings.EgressSection, counterStore, metrics)

	lazyIngress := router.NewLazyIngress(func() *ingress.Adapter {
		ingressEngine := newEngine(ctx, cfg, log, settings.IngressSection, counterStore, metrics)
		return ingress.New(ingressEngine, log, cfg.CleanupTimeout)
	})

	upstreamClient := &http.Client{
		Transport: egress.New(egressEngine, http.DefaultTransport, log, propagateToIngress(cfg.SettingsPath)),
	}
	demo := handler.NewDemoHandler(log, upstreamClient)

	r := router.New(cfg, log, lazyIngress, metrics, demo)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("throttlegate listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	lazyIngress.Stop()
	egressEngine.Stop()
	cancelLoaders()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("throttlegate stopped gracefully")
	}
}
