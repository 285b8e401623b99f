// Command marketdata-core runs the multi-provider OHLCV backend: it wires
// storage, cache, plugins, the DataSource chain, the Data Orchestrator, the
// Backfill Manager and the Subscription Manager behind an HTTP + WebSocket
// API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"jax-marketdata-core/internal/backfill"
	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/cache"
	"jax-marketdata-core/internal/config"
	"jax-marketdata-core/internal/datasource"
	"jax-marketdata-core/internal/httpapi"
	"jax-marketdata-core/internal/metrics"
	"jax-marketdata-core/internal/orchestrator"
	"jax-marketdata-core/internal/plugin"
	"jax-marketdata-core/internal/plugin/alpacaplugin"
	"jax-marketdata-core/internal/plugin/polygonplugin"
	"jax-marketdata-core/internal/store"
	"jax-marketdata-core/internal/store/migrations"
	"jax-marketdata-core/internal/subscription"
	"jax-marketdata-core/internal/subscription/wsserver"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file (optional, env vars take precedence)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Printf("starting jax-marketdata-core v%s (built: %s)", version, buildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(ctx, storeConfig(cfg))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := migrations.Run(cfg.DatabaseDSN); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	log.Println("database ready")

	barCache, err := cache.New(cacheConfig(cfg))
	if err != nil {
		log.Fatalf("failed to connect to cache: %v", err)
	}
	log.Println("cache ready")

	reg := metrics.NewRegistry()
	mdMetrics := metrics.NewMarketDataMetrics(reg)

	pluginRegistry := plugin.NewRegistry()
	pluginRegistry.Register("polygon", polygonplugin.New)
	pluginRegistry.Register("alpaca", alpacaplugin.New)

	plugins := make(map[string]plugin.Plugin)
	if cfg.Polygon.Enabled {
		p, err := pluginRegistry.Build("polygon", plugin.Config{APIKey: cfg.Polygon.APIKey})
		if err != nil {
			log.Fatalf("failed to build polygon plugin: %v", err)
		}
		plugins["polygon"] = p
	}
	if cfg.Alpaca.Enabled {
		p, err := pluginRegistry.Build("alpaca", plugin.Config{APIKey: cfg.Alpaca.APIKey, APISecret: cfg.Alpaca.APISecret})
		if err != nil {
			log.Fatalf("failed to build alpaca plugin: %v", err)
		}
		plugins["alpaca"] = p
	}
	log.Printf("providers enabled: %v", keys(plugins))

	aggSource := datasource.NewAggregateViewSource(db)
	if err := aggSource.Refresh(ctx); err != nil {
		log.Printf("warning: failed to load aggregate view configs: %v", err)
	}
	cacheSource := datasource.NewCacheSource(barCache, db)

	sources := []datasource.Source{aggSource, cacheSource}
	for providerKey, p := range plugins {
		sources = append(sources, datasource.NewPluginSource(p, providerKey, barCache, db))
	}
	orch := orchestrator.New(sources, mdMetrics)

	lookup := func(providerKey string) (plugin.Plugin, bool) {
		p, ok := plugins[providerKey]
		return p, ok
	}
	backfillMgr := backfill.New(backfillConfig(cfg), db, barCache, lookup, mdMetrics)

	subMgr := subscription.New(subscriptionConfig(cfg), orch, backfillMgr, pollPersister{db: db, cache: barCache}, mdMetrics)
	defer subMgr.Shutdown()

	server := httpapi.New(httpConfig(cfg))
	server.RegisterOHLCV(orch, providerCatalog{plugins: plugins})
	wsSrv := wsserver.New(subMgr, wsConfig(cfg))
	server.Router().Handle("/ws", wsSrv)
	server.Router().HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		reg.WriteText(w)
	}).Methods(http.MethodGet)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received, gracefully stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	log.Println("jax-marketdata-core stopped")
}

func keys(m map[string]plugin.Plugin) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// pollPersister adapts *store.Store + *cache.Cache to
// subscription.PollPersister so the poll task can write freshly observed 1m
// bars through the same persistence path as the Backfill Manager.
type pollPersister struct {
	db    *store.Store
	cache *cache.Cache
}

func (p pollPersister) UpsertBars(ctx context.Context, key bars.AssetKey, group []bars.Bar) error {
	return p.db.UpsertBars(ctx, key, group)
}

func (p pollPersister) Store1m(ctx context.Context, asset bars.Asset, group []bars.Bar) {
	p.cache.Store1m(ctx, asset, group)
}

// providerCatalog implements httpapi.ProviderCatalog over the process's
// configured plugin instances.
type providerCatalog struct {
	plugins map[string]plugin.Plugin
}

func (c providerCatalog) Providers(market string) []string {
	return keys(c.plugins)
}

func (c providerCatalog) Symbols(ctx context.Context, market, providerKey string) ([]string, error) {
	p, ok := c.plugins[providerKey]
	if !ok {
		return nil, fmt.Errorf("marketdata-core: unknown provider %q", providerKey)
	}
	return p.GetSymbols(ctx, market)
}

func storeConfig(cfg *config.Config) store.Config {
	c := store.DefaultConfig()
	c.DSN = cfg.DatabaseDSN
	return c
}

func cacheConfig(cfg *config.Config) cache.Config {
	c := cache.DefaultConfig()
	c.RedisURL = cfg.RedisURL
	c.TTL1mGroup = time.Duration(cfg.CacheTTL1mBarGroupSec) * time.Second
	c.TTLResampled = time.Duration(cfg.CacheTTLResampledSec) * time.Second
	return c
}

func backfillConfig(cfg *config.Config) backfill.Config {
	c := backfill.DefaultConfig()
	c.DefaultBackfillPeriod = time.Duration(cfg.DefaultBackfillPeriodMs) * time.Millisecond
	c.ChunkSize = cfg.DefaultPluginChunkSize
	c.ChunkDelay = time.Duration(cfg.BackfillChunkDelaySec * float64(time.Second))
	c.MaxChunks = cfg.MaxBackfillChunks
	return c
}

func subscriptionConfig(cfg *config.Config) subscription.Config {
	c := subscription.DefaultConfig()
	c.DefaultChartPoints = cfg.DefaultChartPoints
	c.InitialPollDelay = time.Duration(cfg.InitialPollDelaySec) * time.Second
	c.MinPollInterval = time.Duration(cfg.MinPollIntervalSec) * time.Second
	c.MaxPollInterval = time.Duration(cfg.MaxPollIntervalSec) * time.Second
	c.PollJitterFactor = cfg.PollJitterFactor
	c.MaxPollFailuresBeforeBackoff = cfg.MaxPollFailuresBeforeBackoff
	c.PollBackoffBase = time.Duration(cfg.PollBackoffBaseSec) * time.Second
	c.MaxPollBackoff = time.Duration(cfg.MaxPollBackoffSec) * time.Second
	return c
}

func httpConfig(cfg *config.Config) httpapi.Config {
	c := httpapi.DefaultConfig()
	c.Addr = cfg.HTTPAddr
	return c
}

func wsConfig(cfg *config.Config) wsserver.Config {
	c := wsserver.DefaultConfig()
	c.PingInterval = time.Duration(cfg.WSPingIntervalSec) * time.Second
	return c
}
