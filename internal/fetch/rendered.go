package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/atelierdata/specpipe/internal/model"
	"github.com/atelierdata/specpipe/internal/resilience"
	"github.com/atelierdata/specpipe/pkg/browserless"
)

// RenderedTier fetches pages through a headless browser so JS-gated content
// is present in the returned HTML. Second in the chain.
type RenderedTier struct {
	client     browserless.Client
	timeout    time.Duration
	minContent int
}

// NewRenderedTier creates the headless-rendering tier.
func NewRenderedTier(client browserless.Client, timeout time.Duration, minContent int) *RenderedTier {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if minContent <= 0 {
		minContent = 100
	}
	return &RenderedTier{client: client, timeout: timeout, minContent: minContent}
}

func (t *RenderedTier) Name() model.FetchTier { return model.TierRendered }

func (t *RenderedTier) Fetch(ctx context.Context, url string) (*model.RawCapture, error) {
	resp, err := t.client.Render(ctx, browserless.RenderRequest{
		URL:      url,
		GotoOpts: &browserless.GotoOpts{TimeoutMS: int(t.timeout.Milliseconds())},
	})
	if err != nil {
		var apiErr *browserless.APIError
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return nil, resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return nil, eris.Wrap(err, "fetch: rendered")
	}

	if blocked, blockType := DetectBlockHTML(resp.HTML); blocked {
		return nil, &BlockedError{Tier: model.TierRendered, Type: blockType}
	}

	if len(resp.HTML) < t.minContent {
		return nil, eris.Errorf("fetch: rendered body too small (%d bytes)", len(resp.HTML))
	}

	return &model.RawCapture{
		URL:        url,
		Tier:       model.TierRendered,
		Status:     model.CaptureSuccess,
		StatusCode: resp.StatusCode,
		Body:       resp.HTML,
	}, nil
}
