// Package pipeline drives URLs through fetch, normalize, extract, evaluate
// and route, producing one URLOutcome per input.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atelierdata/specpipe/internal/change"
	"github.com/atelierdata/specpipe/internal/config"
	"github.com/atelierdata/specpipe/internal/model"
	"github.com/atelierdata/specpipe/internal/monitoring"
	"github.com/atelierdata/specpipe/internal/normalize"
	"github.com/atelierdata/specpipe/internal/quality"
	"github.com/atelierdata/specpipe/internal/review"
	"github.com/atelierdata/specpipe/internal/store"
)

// Fetcher acquires raw page content for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, forceRefresh bool) (*model.RawCapture, error)
}

// Extractor turns normalized content into a structured extraction.
type Extractor interface {
	Extract(ctx context.Context, content model.NormalizedContent) (*model.ExtractionResult, error)
}

// Pipeline orchestrates the acquisition stages for single URLs and batches.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	fetcher   Fetcher
	extractor Extractor
	evaluator *quality.Evaluator
	router    *review.Router
	queue     *review.Queue
	metrics   *monitoring.Collector
	nowFunc   func() time.Time
}

// New creates a Pipeline with all dependencies. A nil metrics collector
// gets replaced with a private one.
func New(
	cfg *config.Config,
	st store.Store,
	fetcher Fetcher,
	extractor Extractor,
	metrics *monitoring.Collector,
) *Pipeline {
	if metrics == nil {
		metrics = monitoring.NewCollector()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		fetcher:   fetcher,
		extractor: extractor,
		evaluator: quality.NewEvaluator(cfg.Quality.MinDescriptionLen),
		router:    review.NewRouter(cfg.Quality.AutoAcceptThreshold, cfg.Quality.FieldThreshold),
		queue:     review.NewQueue(st),
		metrics:   metrics,
		nowFunc:   time.Now,
	}
}

// Metrics returns the pipeline's collector.
func (p *Pipeline) Metrics() *monitoring.Collector {
	return p.metrics
}

// Options control one batch run.
type Options struct {
	// ForceRefresh bypasses the capture cache and the unchanged-content
	// short circuit.
	ForceRefresh bool
}

// ProcessURL runs one URL through every stage. It never returns an error:
// failures are reported in the outcome so a batch can keep going.
func (p *Pipeline) ProcessURL(ctx context.Context, projectID, url string, opts Options) model.URLOutcome {
	log := zap.L().With(zap.String("project_id", projectID), zap.String("url", url))

	outcome := p.processURL(ctx, log, projectID, url, opts)
	p.metrics.RecordOutcome(outcome.Status)

	switch outcome.Status {
	case model.OutcomeFailed:
		log.Warn("pipeline: url failed", zap.String("reason", outcome.Reason))
	case model.OutcomeEscalated:
		log.Info("pipeline: url escalated",
			zap.String("verification_id", outcome.VerificationID),
			zap.Float64("score", outcome.Score),
			zap.String("reason", outcome.Reason),
		)
	default:
		log.Info("pipeline: url processed",
			zap.String("status", string(outcome.Status)),
			zap.Float64("score", outcome.Score),
			zap.Int("changes", outcome.Changes),
		)
	}
	return outcome
}

func (p *Pipeline) processURL(ctx context.Context, log *zap.Logger, projectID, url string, opts Options) model.URLOutcome {
	outcome := model.URLOutcome{URL: url}

	capture, err := p.fetcher.Fetch(ctx, url, opts.ForceRefresh)
	if err != nil {
		outcome.Status = model.OutcomeFailed
		outcome.Reason = "fetch: " + err.Error()
		return outcome
	}
	outcome.Tier = capture.Tier

	existing, err := p.store.GetProductByURL(ctx, projectID, url)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		outcome.Status = model.OutcomeFailed
		outcome.Reason = "store: " + err.Error()
		return outcome
	}

	// A known product whose content hash is unchanged skips extraction.
	if existing != nil && !opts.ForceRefresh && !change.ContentChanged(existing.ContentHash, capture.ContentHash) {
		existing.LastCheckedAt = p.nowFunc().UTC()
		if err := p.store.UpdateProduct(ctx, existing); err != nil {
			log.Warn("pipeline: failed to touch unchanged product", zap.Error(err))
		}
		outcome.Status = model.OutcomeUnchanged
		outcome.ProductID = existing.ID
		outcome.Score = existing.Score
		outcome.Confidence = existing.Confidence()
		return outcome
	}

	content := normalize.Capture(*capture)
	if content.Text() == "" {
		outcome.Status = model.OutcomeFailed
		outcome.Reason = "normalize: no text content"
		return outcome
	}

	extraction, err := p.extractor.Extract(ctx, content)
	if err != nil {
		outcome.Status = model.OutcomeFailed
		outcome.Reason = "extract: " + err.Error()
		return outcome
	}
	p.metrics.RecordExtraction(extraction.SchemaValid)
	outcome.ExtractionID = extraction.ID

	if err := p.store.SaveExtraction(ctx, extraction); err != nil {
		outcome.Status = model.OutcomeFailed
		outcome.Reason = "store: " + err.Error()
		return outcome
	}

	score := p.evaluator.Evaluate(extraction)
	if err := p.store.SaveScore(ctx, score); err != nil {
		outcome.Status = model.OutcomeFailed
		outcome.Reason = "store: " + err.Error()
		return outcome
	}
	outcome.Score = score.Aggregate
	outcome.Confidence = model.LevelForScore(score.Aggregate)

	// Diff against the accepted field set; recorded only if accepted.
	var changes []model.Change
	if existing != nil && len(existing.Fields) > 0 {
		changes = change.Detect(existing.ID, existing.Fields, extraction.Fields)
	}

	decision := p.router.Decide(extraction, score, changes)
	if decision.AutoAccept {
		return p.accept(ctx, log, projectID, url, existing, extraction, score, capture, changes, outcome)
	}
	return p.escalate(ctx, projectID, url, existing, extraction, decision, outcome)
}

// accept writes the extraction into the product and records its changes.
func (p *Pipeline) accept(
	ctx context.Context,
	log *zap.Logger,
	projectID, url string,
	existing *model.Product,
	extraction *model.ExtractionResult,
	score model.QualityScore,
	capture *model.RawCapture,
	changes []model.Change,
	outcome model.URLOutcome,
) model.URLOutcome {
	now := p.nowFunc().UTC()

	if existing == nil {
		product := model.NewProduct(projectID, url)
		product.Fields = extraction.Fields.Clone()
		product.ContentHash = capture.ContentHash
		product.Score = score.Aggregate
		product.LastCheckedAt = now
		if err := p.store.CreateProduct(ctx, product); err != nil {
			outcome.Status = model.OutcomeFailed
			outcome.Reason = "store: " + err.Error()
			return outcome
		}
		outcome.Status = model.OutcomeAccepted
		outcome.ProductID = product.ID
		return outcome
	}

	if len(changes) > 0 {
		if err := p.store.RecordChanges(ctx, changes); err != nil {
			outcome.Status = model.OutcomeFailed
			outcome.Reason = "store: " + err.Error()
			return outcome
		}
		// New field values supersede any earlier manual verification.
		existing.Verified = false
	}
	existing.Fields = extraction.Fields.Clone()
	existing.ContentHash = capture.ContentHash
	existing.Score = score.Aggregate
	existing.LastCheckedAt = now
	existing.UpdatedAt = now

	if err := p.store.UpdateProduct(ctx, existing); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			log.Warn("pipeline: concurrent product update", zap.String("product_id", existing.ID))
		}
		outcome.Status = model.OutcomeFailed
		outcome.Reason = "store: " + err.Error()
		return outcome
	}

	outcome.Status = model.OutcomeAccepted
	outcome.ProductID = existing.ID
	outcome.Changes = len(changes)
	return outcome
}

// escalate queues a verification request, creating a product shell first
// when the URL has never been accepted.
func (p *Pipeline) escalate(
	ctx context.Context,
	projectID, url string,
	existing *model.Product,
	extraction *model.ExtractionResult,
	decision review.Decision,
	outcome model.URLOutcome,
) model.URLOutcome {
	product := existing
	if product == nil {
		product = model.NewProduct(projectID, url)
		if err := p.store.CreateProduct(ctx, product); err != nil {
			outcome.Status = model.OutcomeFailed
			outcome.Reason = "store: " + err.Error()
			return outcome
		}
	}

	req := model.NewVerificationRequest(product.ID, extraction.ID, decision.Reason, decision.Priority)
	if err := p.queue.Enqueue(ctx, req); err != nil {
		outcome.Status = model.OutcomeFailed
		outcome.Reason = "review: " + err.Error()
		return outcome
	}

	outcome.Status = model.OutcomeEscalated
	outcome.ProductID = product.ID
	outcome.VerificationID = req.ID
	outcome.Reason = decision.Reason
	return outcome
}

// RunBatch processes URLs concurrently and returns one outcome per input
// URL, in input order. Cancellation stops admission of new URLs; already
// admitted URLs run to completion or fail on their next blocking call.
func (p *Pipeline) RunBatch(ctx context.Context, projectID string, urls []string, opts Options) []model.URLOutcome {
	if deadline := p.cfg.Pipeline.BatchDeadline(); deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	maxConcurrent := p.cfg.Pipeline.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	log := zap.L().With(zap.String("project_id", projectID))
	log.Info("pipeline: batch starting",
		zap.Int("urls", len(urls)),
		zap.Int("max_concurrent", maxConcurrent),
	)

	outcomes := make([]model.URLOutcome, len(urls))

	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, u := range urls {
		if ctx.Err() != nil {
			outcomes[i] = model.URLOutcome{
				URL:    u,
				Status: model.OutcomeFailed,
				Reason: "batch: " + ctx.Err().Error(),
			}
			p.metrics.RecordOutcome(model.OutcomeFailed)
			continue
		}
		g.Go(func() error {
			outcomes[i] = p.ProcessURL(ctx, projectID, u, opts)
			return nil
		})
	}
	_ = g.Wait()

	snap := p.metrics.Snapshot()
	log.Info("pipeline: batch complete",
		zap.Int("accepted", snap.Accepted),
		zap.Int("escalated", snap.Escalated),
		zap.Int("unchanged", snap.Unchanged),
		zap.Int("failed", snap.Failed),
	)
	return outcomes
}
