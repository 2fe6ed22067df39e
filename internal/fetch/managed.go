package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/atelierdata/specpipe/internal/model"
	"github.com/atelierdata/specpipe/internal/resilience"
	"github.com/atelierdata/specpipe/pkg/firecrawl"
)

// ManagedTier fetches pages through the managed crawl service. Last resort
// in the chain: most expensive per page but handles heavily defended sites.
type ManagedTier struct {
	client  firecrawl.Client
	timeout time.Duration
}

// NewManagedTier creates the managed-crawl tier.
func NewManagedTier(client firecrawl.Client, timeout time.Duration) *ManagedTier {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &ManagedTier{client: client, timeout: timeout}
}

func (t *ManagedTier) Name() model.FetchTier { return model.TierManagedCrawl }

func (t *ManagedTier) Fetch(ctx context.Context, url string) (*model.RawCapture, error) {
	resp, err := t.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             url,
		Formats:         []string{"html"},
		OnlyMainContent: false,
		TimeoutMS:       int(t.timeout.Milliseconds()),
	})
	if err != nil {
		var apiErr *firecrawl.APIError
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return nil, resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return nil, eris.Wrap(err, "fetch: managed scrape")
	}

	if !resp.Success || resp.Data.HTML == "" {
		return nil, eris.Errorf("fetch: managed returned no content for %s", url)
	}

	return &model.RawCapture{
		URL:        url,
		Tier:       model.TierManagedCrawl,
		Status:     model.CaptureSuccess,
		StatusCode: resp.Data.StatusCode,
		Body:       resp.Data.HTML,
	}, nil
}
