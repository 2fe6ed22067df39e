package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/atelierdata/specpipe/internal/cache"
	"github.com/atelierdata/specpipe/internal/extract"
	"github.com/atelierdata/specpipe/internal/fetch"
	"github.com/atelierdata/specpipe/internal/model"
	"github.com/atelierdata/specpipe/internal/monitoring"
	"github.com/atelierdata/specpipe/internal/pipeline"
	"github.com/atelierdata/specpipe/internal/ratelimit"
	"github.com/atelierdata/specpipe/internal/resilience"
	"github.com/atelierdata/specpipe/internal/review"
	"github.com/atelierdata/specpipe/internal/store"
	anthropicpkg "github.com/atelierdata/specpipe/pkg/anthropic"
	"github.com/atelierdata/specpipe/pkg/browserless"
	"github.com/atelierdata/specpipe/pkg/firecrawl"
)

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "specpipe.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// env bundles the wired pipeline and its dependencies for one command.
type env struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Queue    *review.Queue
	Metrics  *monitoring.Collector
}

func (e *env) Close() {
	_ = e.Store.Close()
}

// initPipeline wires the full stage chain from config: store, cache,
// rate limiter, tier chain with breakers, extractor, pipeline.
func initPipeline(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	metrics := monitoring.NewCollector()

	limiter := ratelimit.New(ratelimit.Options{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		AcquireTimeout:    cfg.RateLimit.AcquireTimeout(),
		PerSource:         cfg.RateLimit.PerSource,
	})

	tiers := []fetch.Tier{
		fetch.NewDirectTier(
			time.Duration(cfg.Fetch.DirectTimeoutSecs)*time.Second,
			cfg.Fetch.MinContentLength,
		),
	}
	tierPolicy := resilience.TierPolicy()
	if cfg.Fetch.TierAttempts > 0 {
		tierPolicy.MaxAttempts = cfg.Fetch.TierAttempts
	}
	orchOpts := []fetch.OrchestratorOption{
		fetch.WithCache(cache.NewStoreBacked(st), cfg.Fetch.CacheTTL()),
		fetch.WithLimiter(limiter),
		fetch.WithMetrics(metrics),
		fetch.WithTierPolicy(tierPolicy),
	}

	if cfg.Browserless.Key != "" {
		bl := browserless.NewClient(cfg.Browserless.Key, browserless.WithBaseURL(cfg.Browserless.BaseURL))
		tiers = append(tiers, fetch.NewRenderedTier(bl,
			time.Duration(cfg.Fetch.RenderedTimeoutSecs)*time.Second,
			cfg.Fetch.MinContentLength,
		))
		orchOpts = append(orchOpts, fetch.WithBreaker(model.TierRendered, resilience.NewBreaker(3, 30*time.Second, time.Minute)))
	} else {
		zap.L().Warn("browserless key missing, rendered tier disabled")
	}

	if cfg.Firecrawl.Key != "" {
		fc := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
		tiers = append(tiers, fetch.NewManagedTier(fc,
			time.Duration(cfg.Fetch.ManagedTimeoutSecs)*time.Second,
		))
		orchOpts = append(orchOpts, fetch.WithBreaker(model.TierManagedCrawl, resilience.NewBreaker(3, 30*time.Second, time.Minute)))
	} else {
		zap.L().Warn("firecrawl key missing, managed crawl tier disabled")
	}

	orchestrator := fetch.NewOrchestrator(tiers, orchOpts...)

	templates, err := extract.LoadTemplates(cfg.Extract.TemplatesPath)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load extraction templates")
	}

	extractPolicy := resilience.DefaultPolicy()
	if cfg.Anthropic.MaxRetries > 0 {
		extractPolicy.MaxAttempts = cfg.Anthropic.MaxRetries
	}
	extractor := extract.New(
		anthropicpkg.NewClient(cfg.Anthropic.Key),
		extract.Options{
			Model:       cfg.Anthropic.Model,
			MaxTokens:   cfg.Anthropic.MaxTokens,
			Temperature: cfg.Anthropic.Temperature,
			Templates:   templates,
			Category:    cfg.Extract.Category,
			Timeout:     cfg.Anthropic.Timeout(),
			Policy:      &extractPolicy,
		},
	)

	return &env{
		Store:    st,
		Pipeline: pipeline.New(cfg, st, orchestrator, extractor, metrics),
		Queue:    review.NewQueue(st),
		Metrics:  metrics,
	}, nil
}
