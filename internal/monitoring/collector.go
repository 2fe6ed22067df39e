// Package monitoring collects in-process pipeline counters and raises
// webhook alerts when failure thresholds are breached.
package monitoring

import (
	"sync"
	"time"

	"github.com/atelierdata/specpipe/internal/model"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Per-URL outcomes since the last reset.
	Accepted  int `json:"accepted"`
	Escalated int `json:"escalated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`

	// Fetch layer.
	TierUsage     map[string]int `json:"tier_usage"`
	CacheHits     int            `json:"cache_hits"`
	FetchFailures int            `json:"fetch_failures"`

	// Extraction layer.
	Extractions   int `json:"extractions"`
	SchemaInvalid int `json:"schema_invalid"`

	// Derived rates.
	AutoAcceptRate float64 `json:"auto_accept_rate"`
	FailRate       float64 `json:"fail_rate"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector accumulates pipeline counters. Safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	accepted  int
	escalated int
	unchanged int
	failed    int

	tierUsage     map[model.FetchTier]int
	cacheHits     int
	fetchFailures int

	extractions   int
	schemaInvalid int
}

// NewCollector creates an empty metrics collector.
func NewCollector() *Collector {
	return &Collector{tierUsage: make(map[model.FetchTier]int)}
}

// RecordOutcome counts one per-URL pipeline outcome.
func (c *Collector) RecordOutcome(status model.OutcomeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch status {
	case model.OutcomeAccepted:
		c.accepted++
	case model.OutcomeEscalated:
		c.escalated++
	case model.OutcomeUnchanged:
		c.unchanged++
	case model.OutcomeFailed:
		c.failed++
	}
}

// RecordTier counts a successful fetch on the given tier.
func (c *Collector) RecordTier(tier model.FetchTier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tierUsage[tier]++
}

// RecordCacheHit counts a capture served from cache.
func (c *Collector) RecordCacheHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits++
}

// RecordFetchFailure counts a URL that exhausted every tier.
func (c *Collector) RecordFetchFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchFailures++
}

// RecordExtraction counts one extraction attempt and whether the model
// output parsed against the target schema.
func (c *Collector) RecordExtraction(schemaValid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extractions++
	if !schemaValid {
		c.schemaInvalid++
	}
}

// Snapshot returns the current counters with derived rates.
func (c *Collector) Snapshot() MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := MetricsSnapshot{
		Accepted:      c.accepted,
		Escalated:     c.escalated,
		Unchanged:     c.unchanged,
		Failed:        c.failed,
		Total:         c.accepted + c.escalated + c.unchanged + c.failed,
		TierUsage:     make(map[string]int, len(c.tierUsage)),
		CacheHits:     c.cacheHits,
		FetchFailures: c.fetchFailures,
		Extractions:   c.extractions,
		SchemaInvalid: c.schemaInvalid,
		CollectedAt:   time.Now().UTC(),
	}
	for tier, n := range c.tierUsage {
		snap.TierUsage[string(tier)] = n
	}

	if snap.Total > 0 {
		snap.FailRate = float64(c.failed) / float64(snap.Total)
	}
	// Unchanged URLs never reach the router, so they don't dilute the rate.
	routed := c.accepted + c.escalated
	if routed > 0 {
		snap.AutoAcceptRate = float64(c.accepted) / float64(routed)
	}
	return snap
}

// Reset zeroes every counter. Called between batches when per-batch
// metrics are wanted.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted, c.escalated, c.unchanged, c.failed = 0, 0, 0, 0
	c.tierUsage = make(map[model.FetchTier]int)
	c.cacheHits = 0
	c.fetchFailures = 0
	c.extractions = 0
	c.schemaInvalid = 0
}
