// Command threatwatchd runs the full ingestion daemon: Source Registry,
// Collection Engine, the Normalizer/Deduper/Scorer pipeline, the Periscope
// tiered store, and the Decay Worker, fronted by an operator-only HTTP
// surface (internal/ops).
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/threatwatch/infrastructure/httputil"
	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/domain/source"
	"github.com/R3E-Network/threatwatch/infrastructure/config"
	"github.com/R3E-Network/threatwatch/infrastructure/logging"
	"github.com/R3E-Network/threatwatch/infrastructure/metrics"
	"github.com/R3E-Network/threatwatch/infrastructure/state"
	"github.com/R3E-Network/threatwatch/internal/classify"
	"github.com/R3E-Network/threatwatch/internal/collect"
	"github.com/R3E-Network/threatwatch/internal/decay"
	"github.com/R3E-Network/threatwatch/internal/dedupe"
	"github.com/R3E-Network/threatwatch/internal/normalize"
	"github.com/R3E-Network/threatwatch/internal/ops"
	"github.com/R3E-Network/threatwatch/internal/periscope"
	"github.com/R3E-Network/threatwatch/internal/pipeline"
	"github.com/R3E-Network/threatwatch/internal/secretref"
	"github.com/R3E-Network/threatwatch/internal/sinks"
)

const serviceName = "threatwatch"

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 clean shutdown, 1 startup
// failure, 2 unrecoverable runtime error.
func run() int {
	env, err := config.LoadDaemonEnv()
	if err != nil {
		log.Printf("load environment: %v", err)
		return 1
	}

	sourcesPath := flag.String("sources", coalesce(env.SourcesPath, "sources.yaml"), "path to the source registry YAML file")
	opsAddr := flag.String("ops-addr", coalesce(env.OpsAddr, ":9090"), "operator HTTP surface listen address")
	flag.Parse()

	logger := logging.NewFromEnv(serviceName)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(serviceName)

	sourceConfigs, err := source.LoadConfigFile(*sourcesPath)
	if err != nil {
		log.Printf("load source config: %v", err)
		return 1
	}
	registry, err := source.NewRegistry(sourceConfigs)
	if err != nil {
		log.Printf("build source registry: %v", err)
		return 1
	}

	resolver := buildSecretResolver()

	l1, l2, l3, redisClient, closeStores, err := buildStores(ctx, env, resolver)
	if err != nil {
		log.Printf("build periscope stores: %v", err)
		return 1
	}
	defer closeStores()

	store := periscope.New(l1, l2, l3, periscope.DefaultL3Budget)

	// Watermarks ride on the same Redis instance as L1 when one is
	// configured, so a restart resumes collection from where it left off
	// instead of re-walking every feed from its default lookback; with no
	// Redis configured they fall back to the in-process memory backend.
	var watermarkBackend state.PersistenceBackend
	if redisClient != nil {
		watermarkBackend = state.NewRedisBackend(redisClient, "threatwatch:")
	} else {
		watermarkBackend = state.NewMemoryBackend()
	}
	watermarkState, err := state.NewPersistentState(state.Config{
		Backend:   watermarkBackend,
		KeyPrefix: "collect:",
	})
	if err != nil {
		log.Printf("build watermark state: %v", err)
		return 1
	}
	watermarks := collect.NewWatermarkStore(watermarkState)

	deduper, err := dedupe.New(store, dedupe.Config{})
	if err != nil {
		log.Printf("build deduper: %v", err)
		return 1
	}

	graphSink, vectorSink := buildSinks(env, m, logger)
	flushCtx, stopFlush := context.WithCancel(ctx)
	defer stopFlush()
	sinks.StartFlusher(flushCtx, graphSink, vectorSink, 30*time.Second)

	pl, err := pipeline.New(pipeline.Config{
		Normalizer: normalize.New(),
		Deduper:    deduper,
		Registry:   registry,
		Graph:      graphSink,
		Vector:     vectorSink,
		Embedder:   classify.StubEmbedder{Dim: 8},
		Promoter:   store,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		log.Printf("build pipeline: %v", err)
		return 1
	}

	fetchers := map[source.Kind]collect.Fetcher{
		source.KindFeed:   collect.NewFeedFetcher(nil),
		source.KindWeb:    collect.NewWebFetcher(nil),
		source.KindAPI:    collect.NewAPIFetcher(nil),
		source.KindSocial: collect.NewSocialFetcher(nil),
	}

	engineCfg := collect.DefaultConfig()
	if env.GlobalConcurrency > 0 {
		engineCfg.GlobalConcurrency = env.GlobalConcurrency
	}
	if env.PerHostConcurrency > 0 {
		engineCfg.PerHostConcurrency = env.PerHostConcurrency
	}

	engine := collect.New(registry, fetchers, watermarks, pl.Ingest, resolver.ResolveContext, m, logger, engineCfg)

	decayCfg := decay.DefaultConfig()
	if env.DecayPeriodSeconds > 0 {
		decayCfg.Schedule = fmt.Sprintf("@every %ds", env.DecayPeriodSeconds)
	}
	decayWorker := decay.New(store, m, logger, decayCfg)

	opsServer := ops.New(ops.Config{
		Addr:                *opsAddr,
		Version:             "dev",
		DebugToken:          env.OpsDebugToken,
		Registry:            registry,
		Engine:              engine,
		Store:               store,
		Metrics:             m,
		Logger:              logger,
		Reload:              func() error { return reloadSources(registry, *sourcesPath) },
		GraphDeadLetterLen:  graphSink.GraphDeadLetterLen,
		VectorDeadLetterLen: vectorSink.VectorDeadLetterLen,
	})

	if err := engine.Start(ctx); err != nil {
		log.Printf("start collection engine: %v", err)
		return 1
	}
	if err := decayWorker.Start(ctx); err != nil {
		log.Printf("start decay worker: %v", err)
		return 1
	}
	opsServer.ListenAndServe()

	logger.Info(ctx, "threatwatchd started", map[string]interface{}{
		"sources_path": *sourcesPath,
		"ops_addr":     *opsAddr,
	})

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	defer signal.Stop(reloadCh)

	for {
		select {
		case <-ctx.Done():
			return shutdown(opsServer, engine, decayWorker, logger)
		case <-reloadCh:
			if err := reloadSources(registry, *sourcesPath); err != nil {
				logger.Error(context.Background(), "SIGHUP reload failed", err, nil)
			} else {
				logger.Info(context.Background(), "source config reloaded", nil)
			}
		}
	}
}

func shutdown(opsServer *ops.Server, engine *collect.Engine, decayWorker *decay.Worker, logger *logging.Logger) int {
	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	opsServer.Shutdown()

	if err := engine.Stop(drainCtx); err != nil {
		logger.Error(drainCtx, "collection engine drain exceeded grace period", err, nil)
		return 2
	}
	if err := decayWorker.Stop(drainCtx); err != nil {
		logger.Error(drainCtx, "decay worker stop exceeded grace period", err, nil)
		return 2
	}
	logger.Info(drainCtx, "threatwatchd shut down cleanly", nil)
	return 0
}

func reloadSources(registry *source.Registry, path string) error {
	next, err := source.LoadConfigFile(path)
	if err != nil {
		return err
	}
	return registry.Reload(next)
}

// buildSecretResolver wires env:// and, when Azure credentials are
// reachable, azkv:// auth_ref resolution.
func buildSecretResolver() *secretref.Resolver {
	providers := []secretref.Provider{secretref.EnvProvider{}}
	if azure, err := secretref.NewAzureKeyVaultProvider(); err == nil {
		providers = append(providers, azure)
	}
	return secretref.NewResolver(5*time.Minute, providers...)
}

// buildStores resolves STORE_ENDPOINT into L1/L2/L3 backends. STORE_ENDPOINT may carry a comma-separated list of DSNs; a
// redis:// entry backs L1, a postgres://(or postgresql://) entry backs
// L2/L3. Either half missing falls back to an in-memory backend, the same
// dev/test fallback internal/periscope's MemoryBackend already provides.
func buildStores(ctx context.Context, env config.DaemonEnv, resolver *secretref.Resolver) (l1, l2, l3 periscope.Backend, redisClient *redis.Client, closeFn func(), err error) {
	raw := env.StoreEndpoint
	closeFns := make([]func(), 0, 2)
	closeFn = func() {
		for _, f := range closeFns {
			f()
		}
	}

	var redisDSN, postgresDSN string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		u, parseErr := url.Parse(part)
		if parseErr != nil {
			continue
		}
		switch u.Scheme {
		case "redis", "rediss":
			redisDSN = part
		case "postgres", "postgresql":
			postgresDSN = part
		}
	}

	if redisDSN != "" {
		opt, perr := redis.ParseURL(redisDSN)
		if perr != nil {
			return nil, nil, nil, nil, closeFn, fmt.Errorf("parse redis store endpoint: %w", perr)
		}
		if ref := env.StoreCredentialRef; ref != "" {
			if pw, rerr := resolver.Resolve(ref); rerr == nil && pw != "" {
				opt.Password = pw
			}
		}
		client := redis.NewClient(opt)
		if perr := client.Ping(ctx).Err(); perr != nil {
			return nil, nil, nil, nil, closeFn, fmt.Errorf("connect to redis store endpoint: %w", perr)
		}
		closeFns = append(closeFns, func() { _ = client.Close() })
		l1 = periscope.NewRedisBackend(client)
		redisClient = client
	} else {
		l1 = periscope.NewMemoryBackend()
	}

	if postgresDSN != "" {
		sqlDB, oerr := sql.Open("postgres", postgresDSN)
		if oerr != nil {
			return nil, nil, nil, nil, closeFn, fmt.Errorf("open postgres store endpoint: %w", oerr)
		}
		if perr := sqlDB.PingContext(ctx); perr != nil {
			return nil, nil, nil, nil, closeFn, fmt.Errorf("connect to postgres store endpoint: %w", perr)
		}
		if merr := periscope.Migrate(sqlDB); merr != nil {
			return nil, nil, nil, nil, closeFn, fmt.Errorf("run periscope migrations: %w", merr)
		}
		db := sqlx.NewDb(sqlDB, "postgres")
		closeFns = append(closeFns, func() { _ = db.Close() })
		l2 = periscope.NewPostgresBackend(db, intel.TierL2)
		l3 = periscope.NewPostgresBackend(db, intel.TierL3)
	} else {
		l2 = periscope.NewMemoryBackend()
		l3 = periscope.NewMemoryBackend()
	}

	return l1, l2, l3, redisClient, closeFn, nil
}

func buildSinks(env config.DaemonEnv, m *metrics.Metrics, logger *logging.Logger) (*sinks.HTTPGraphSink, *sinks.HTTPVectorSink) {
	cfg := sinks.DefaultConfig()
	cfg.GraphEndpoint = env.GraphEndpoint
	cfg.VectorEndpoint = env.VectorEndpoint
	client := httputil.NewClient(cfg.Timeout)
	return sinks.NewHTTPGraphSink(client, cfg, m, logger), sinks.NewHTTPVectorSink(client, cfg, m, logger)
}

func coalesce(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
