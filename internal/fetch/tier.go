// Package fetch acquires page content through a three-tier fallback chain:
// a direct HTTP fetch, a headless-browser render, and a managed crawl
// service. Tiers are ordered cheapest first; the chain advances only when
// a tier's attempts are exhausted or its circuit breaker is open.
package fetch

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/atelierdata/specpipe/internal/model"
)

// ErrExhausted is returned when every tier in the chain has failed for a
// URL. The accompanying RawCapture records the failure for persistence.
var ErrExhausted = eris.New("fetch: all tiers exhausted")

// Tier is one acquisition strategy. A Tier returns a successful capture or
// an error; it never returns a failed capture.
type Tier interface {
	Name() model.FetchTier
	Fetch(ctx context.Context, url string) (*model.RawCapture, error)
}
