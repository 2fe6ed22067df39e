package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atelierdata/specpipe/internal/cache"
	"github.com/atelierdata/specpipe/internal/model"
	"github.com/atelierdata/specpipe/internal/normalize"
	"github.com/atelierdata/specpipe/internal/ratelimit"
	"github.com/atelierdata/specpipe/internal/resilience"
)

// Metrics receives fetch-layer counter events.
type Metrics interface {
	RecordTier(tier model.FetchTier)
	RecordCacheHit()
	RecordFetchFailure()
}

// Orchestrator runs the tier chain for single URLs: cache check, rate-limit
// admission, then each tier in order under its retry policy and breaker.
type Orchestrator struct {
	tiers    []Tier
	breakers map[model.FetchTier]*resilience.Breaker
	cache    cache.Cache
	limiter  *ratelimit.Limiter
	policy   resilience.Policy
	cacheTTL time.Duration
	metrics  Metrics
	nowFunc  func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithCache enables the capture cache with the given TTL.
func WithCache(c cache.Cache, ttl time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cache = c
		o.cacheTTL = ttl
	}
}

// WithLimiter enables per-source admission control.
func WithLimiter(l *ratelimit.Limiter) OrchestratorOption {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithTierPolicy overrides the per-tier retry policy.
func WithTierPolicy(p resilience.Policy) OrchestratorOption {
	return func(o *Orchestrator) { o.policy = p }
}

// WithBreaker attaches a circuit breaker to one tier. An open breaker skips
// the tier entirely for the cooldown period.
func WithBreaker(tier model.FetchTier, b *resilience.Breaker) OrchestratorOption {
	return func(o *Orchestrator) { o.breakers[tier] = b }
}

// WithMetrics attaches a counter sink for tier usage and cache hits.
func WithMetrics(m Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an Orchestrator over the given tiers, tried in
// the order provided.
func NewOrchestrator(tiers []Tier, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		tiers:    tiers,
		breakers: make(map[model.FetchTier]*resilience.Breaker),
		policy:   resilience.TierPolicy(),
		cacheTTL: 24 * time.Hour,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Fetch acquires content for a URL. On success the capture carries the
// winning tier and a content hash, and is written to the cache. When every
// tier fails it returns a failed capture alongside ErrExhausted so the
// caller can persist the failure.
func (o *Orchestrator) Fetch(ctx context.Context, url string, forceRefresh bool) (*model.RawCapture, error) {
	if o.cache != nil && !forceRefresh {
		if cached, err := o.cache.Get(ctx, url); err != nil {
			zap.L().Warn("fetch: cache read failed", zap.String("url", url), zap.Error(err))
		} else if cached != nil {
			zap.L().Debug("fetch: cache hit", zap.String("url", url), zap.String("tier", string(cached.Tier)))
			if o.metrics != nil {
				o.metrics.RecordCacheHit()
			}
			return cached, nil
		}
	}

	source := ratelimit.Source(url)
	if o.limiter != nil {
		if err := o.limiter.Acquire(ctx, source); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for _, tier := range o.tiers {
		if b := o.breakers[tier.Name()]; b != nil && b.Open() {
			zap.L().Debug("fetch: tier breaker open, skipping",
				zap.String("tier", string(tier.Name())),
				zap.String("url", url),
			)
			continue
		}

		capture, err := resilience.DoVal(ctx, o.policy, func(ctx context.Context) (*model.RawCapture, error) {
			return tier.Fetch(ctx, url)
		})
		if err == nil && capture != nil {
			if b := o.breakers[tier.Name()]; b != nil {
				b.RecordSuccess()
			}
			if o.limiter != nil {
				o.limiter.ReportSuccess(source)
			}
			if o.metrics != nil {
				o.metrics.RecordTier(tier.Name())
			}
			capture.FetchedAt = o.nowFunc().UTC()
			capture.ContentHash = normalize.Hash(capture.Body)
			if o.cache != nil {
				if cacheErr := o.cache.Set(ctx, url, *capture, o.cacheTTL); cacheErr != nil {
					zap.L().Warn("fetch: cache write failed", zap.String("url", url), zap.Error(cacheErr))
				}
			}
			return capture, nil
		}

		lastErr = err
		if b := o.breakers[tier.Name()]; b != nil {
			if b.RecordFailure() {
				zap.L().Warn("fetch: tier breaker opened",
					zap.String("tier", string(tier.Name())),
				)
			}
		}
		zap.L().Debug("fetch: tier failed, trying next",
			zap.String("tier", string(tier.Name())),
			zap.String("url", url),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			break
		}
	}

	if o.limiter != nil {
		o.limiter.ReportFailure(source)
	}
	if o.metrics != nil {
		o.metrics.RecordFetchFailure()
	}

	failed := &model.RawCapture{
		URL:       url,
		Status:    model.CaptureFailed,
		FetchedAt: o.nowFunc().UTC(),
	}
	if lastErr != nil {
		return failed, eris.Wrapf(ErrExhausted, "url %s: last tier error: %v", url, lastErr)
	}
	return failed, ErrExhausted
}

// FetchAll fetches URLs concurrently, bounded by maxConcurrent. The result
// maps each URL to its capture; failed URLs carry failed captures.
func (o *Orchestrator) FetchAll(ctx context.Context, urls []string, maxConcurrent int, forceRefresh bool) map[string]*model.RawCapture {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	var mu sync.Mutex
	results := make(map[string]*model.RawCapture, len(urls))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for _, u := range urls {
		g.Go(func() error {
			capture, err := o.Fetch(gCtx, u, forceRefresh)
			if err != nil {
				zap.L().Warn("fetch: url failed", zap.String("url", u), zap.Error(err))
			}
			if capture != nil {
				mu.Lock()
				results[u] = capture
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
