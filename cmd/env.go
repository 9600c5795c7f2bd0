package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/horizonte-ai/atlas/internal/cache"
	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/enrich"
	"github.com/horizonte-ai/atlas/internal/fetcher"
	"github.com/horizonte-ai/atlas/internal/llm"
	"github.com/horizonte-ai/atlas/internal/monitoring"
	"github.com/horizonte-ai/atlas/internal/pipeline"
	"github.com/horizonte-ai/atlas/internal/reconcile"
	"github.com/horizonte-ai/atlas/internal/resilience"
	"github.com/horizonte-ai/atlas/internal/session"
	"github.com/horizonte-ai/atlas/internal/stage"
	anthropicpkg "github.com/horizonte-ai/atlas/pkg/anthropic"
	"github.com/horizonte-ai/atlas/pkg/clearbit"
	"github.com/horizonte-ai/atlas/pkg/geocode"
	"github.com/horizonte-ai/atlas/pkg/ipapi"
	"github.com/horizonte-ai/atlas/pkg/linkedin"
	"github.com/horizonte-ai/atlas/pkg/openai"
	"github.com/horizonte-ai/atlas/pkg/opencorporates"
	"github.com/horizonte-ai/atlas/pkg/perplexity"
	"github.com/horizonte-ai/atlas/pkg/places"
	"github.com/horizonte-ai/atlas/pkg/receitaws"
)

// analysisEnv holds the store, caches, clients, and the assembled pipeline
// shared by the analyse and serve commands.
type analysisEnv struct {
	Store     session.Store
	Cache     *cache.Tiered
	Breakers  *resilience.ServiceBreakers
	Ledger    *cost.Ledger
	Pipeline  *pipeline.Pipeline
	Collector *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *analysisEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured session store. Callers own Close and
// Migrate.
func initStore(ctx context.Context) (session.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := session.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "open postgres store")
		}
		return st, nil
	case "sqlite", "":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "atlas.db"
		}
		st, err := session.NewSQLite(dsn)
		if err != nil {
			return nil, eris.Wrap(err, "open sqlite store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// initEnv validates config for the command mode, then assembles the store,
// cache tiers, source adapters, LLM client, and pipeline. Callers should
// defer env.Close().
func initEnv(ctx context.Context, mode string) (*analysisEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	breakers := resilience.NewServiceBreakers(resilienceTunables().Breaker())

	// Hot tier in Redis when configured, in process memory otherwise. The
	// warm tier always lives in the session store.
	var hot cache.Hot
	if cfg.Cache.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		hot = cache.NewRedis(rc)
		zap.L().Info("hot cache using redis", zap.String("addr", cfg.Cache.Redis.Addr))
	} else {
		hot = cache.NewMemory(cfg.Cache.HotMaxEntries, 5*time.Minute)
	}

	var cold cache.BlobStore
	if cfg.Cache.ColdDir != "" {
		cold = cache.NewFSBlobStore(cfg.Cache.ColdDir)
		zap.L().Info("cold cache enabled", zap.String("dir", cfg.Cache.ColdDir))
	}

	tiered := cache.NewTiered(hot, st, cold, cache.Config{
		HotTTL:  time.Duration(cfg.Cache.HotTTLMinutes) * time.Minute,
		WarmTTL: time.Duration(cfg.Cache.ReportTTLHours) * time.Hour,
	})

	// One OpenRouter client serves both the stage LLM calls and the premium
	// deep-analysis source.
	routerClient := openai.NewClient(cfg.OpenRouter.Key,
		openai.WithBaseURL(cfg.OpenRouter.BaseURL),
		openai.WithAppAttribution(cfg.OpenRouter.Referer, cfg.OpenRouter.Title),
	)

	llmOpts := []llm.Option{llm.WithRetryConfig(resilienceTunables().Retry())}
	if cfg.Anthropic.Key != "" {
		anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
		llmOpts = append(llmOpts, llm.WithAnthropicTransport(llm.NewAnthropicTransport(anthropicClient)))
		zap.L().Info("anthropic direct transport enabled")
	}
	ai := llm.NewClient(llm.NewRouterTransport(routerClient), breakers, llmOpts...)

	runnerOpts := []stage.RunnerOption{
		stage.WithEnglishGiveawayThreshold(cfg.Analysis.EnglishGiveawayThreshold),
	}
	if cfg.Perplexity.Key != "" {
		researcher := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
		runnerOpts = append(runnerOpts, stage.WithResearcher(researcher))
		zap.L().Info("perplexity research enabled", zap.String("model", cfg.Perplexity.Model))
	} else {
		zap.L().Debug("ATLAS_PERPLEXITY_KEY not set, stage 2 research disabled")
	}
	runner := stage.NewRunner(ai, nil, runnerOpts...)

	registry := enrich.NewRegistry(breakers, buildAdapters(routerClient)...)

	ledger := cost.NewLedger()

	popts := []pipeline.Option{
		pipeline.WithPolicy(enrich.Policy{
			IncludePaid:    cfg.Analysis.IncludePaidSources,
			IncludePremium: cfg.Analysis.IncludePremiumSources,
		}),
		pipeline.WithLedger(ledger),
		pipeline.WithTimeout(time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second),
		pipeline.WithGatherDeadline(time.Duration(cfg.Analysis.GatherDeadlineSeconds) * time.Second),
		pipeline.WithCacheTTLs(
			time.Duration(cfg.Cache.StageTTLHours)*time.Hour,
			time.Duration(cfg.Cache.ReportTTLHours)*time.Hour,
		),
	}
	if cfg.Reconcile.TrustPath != "" {
		trust, err := reconcile.LoadTrustConfig(cfg.Reconcile.TrustPath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load trust table")
		}
		popts = append(popts, pipeline.WithTrust(trust))
		zap.L().Info("trust table loaded", zap.String("path", cfg.Reconcile.TrustPath))
	}

	p := pipeline.New(st, tiered, registry, runner, popts...)
	collector := monitoring.NewCollector(st, tiered, breakers, ledger)

	zap.L().Info("analysis environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Int("sources", len(registry.Monitors())),
		zap.Bool("paid_sources", cfg.Analysis.IncludePaidSources),
		zap.Bool("premium_sources", cfg.Analysis.IncludePremiumSources),
	)

	return &analysisEnv{
		Store:     st,
		Cache:     tiered,
		Breakers:  breakers,
		Ledger:    ledger,
		Pipeline:  p,
		Collector: collector,
	}, nil
}

// buildAdapters assembles the data-source adapters in registry order. Free
// sources are always on; keyed sources join only when their key is present.
// The registry's selection policy gates the paid and premium tiers at run
// time.
func buildAdapters(routerClient openai.Client) []enrich.Adapter {
	pages := fetcher.NewPageFetcher(fetcher.PageOptions{
		UserAgent: cfg.Fetcher.UserAgent,
		Timeout:   time.Duration(cfg.Fetcher.TimeoutSecs) * time.Second,
		HostRate:  rate.Limit(cfg.Fetcher.HostRate),
		HostBurst: cfg.Fetcher.HostBurst,
		Retry:     resilienceTunables().Retry(),
	})

	geoProviders := []geocode.Provider{geocode.NewNominatimProvider(cfg.Geocode.UserAgent)}
	if cfg.Geocode.OpenCageKey != "" {
		geoProviders = append(geoProviders, geocode.NewOpenCageProvider(cfg.Geocode.OpenCageKey))
		zap.L().Info("opencage geocoding fallback enabled")
	}

	var ocOpts []opencorporates.Option
	if cfg.OpenCorporates.Token != "" {
		ocOpts = append(ocOpts, opencorporates.WithAPIToken(cfg.OpenCorporates.Token))
	}

	adapters := []enrich.Adapter{
		enrich.NewMetadataAdapter(pages),
		enrich.NewEnhancedMetadataAdapter(pages),
		enrich.NewReceitaAdapter(receitaws.NewClient()),
		enrich.NewOpenCorporatesAdapter(opencorporates.NewClient(ocOpts...)),
		enrich.NewIPGeoAdapter(ipapi.NewClient()),
		enrich.NewGeocodeAdapter(geocode.NewCascade(geoProviders...)),
	}

	if cfg.Groq.Key != "" {
		groqClient := openai.NewClient(cfg.Groq.Key,
			openai.WithBaseURL(enrich.GroqBaseURL),
			openai.WithModel(cfg.Groq.Model),
		)
		adapters = append(adapters, enrich.NewGroqAdapter(groqClient))
		zap.L().Info("groq inference source enabled", zap.String("model", cfg.Groq.Model))
	} else {
		zap.L().Debug("ATLAS_GROQ_KEY not set, groq inference source disabled")
	}
	if cfg.Clearbit.Key != "" {
		adapters = append(adapters, enrich.NewClearbitAdapter(clearbit.NewClient(cfg.Clearbit.Key)))
		zap.L().Info("clearbit source enabled")
	}
	if cfg.Places.Key != "" {
		adapters = append(adapters, enrich.NewPlacesAdapter(places.NewClient(cfg.Places.Key)))
		zap.L().Info("google places source enabled")
	}
	if cfg.LinkedIn.Key != "" {
		adapters = append(adapters, enrich.NewLinkedInAdapter(linkedin.NewClient(cfg.LinkedIn.Key)))
		zap.L().Info("linkedin source enabled")
	}

	// Premium deep analysis rides the OpenRouter key, which the analyse and
	// serve modes require anyway.
	adapters = append(adapters, enrich.NewDeepAnalysisAdapter(routerClient))

	return adapters
}

// resilienceTunables maps the resilience config section onto the retry and
// breaker policies shared by the LLM client, the page fetcher, and the
// adapter breakers.
func resilienceTunables() resilience.Tunables {
	return resilience.Tunables{
		BreakerFailureThreshold: cfg.Resilience.BreakerFailureThreshold,
		BreakerResetSecs:        cfg.Resilience.BreakerResetSecs,
		RetryMaxAttempts:        cfg.Resilience.RetryMaxAttempts,
		RetryInitialBackoffMs:   cfg.Resilience.RetryInitialBackoffMs,
		RetryMaxBackoffMs:       cfg.Resilience.RetryMaxBackoffMs,
		RetryMultiplier:         cfg.Resilience.RetryMultiplier,
		RetryJitter:             cfg.Resilience.RetryJitter,
	}
}
