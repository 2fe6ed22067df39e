package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/atelierdata/specpipe/internal/model"
	"github.com/atelierdata/specpipe/internal/resilience"
)

const maxBodyBytes = 4 << 20

// DirectTier fetches HTML via plain net/http. Free, fast, and first in the
// chain; it bails out on block pages so the rendered tier can take over.
type DirectTier struct {
	client     *http.Client
	minContent int
	userAgent  string
}

// DirectOption configures a DirectTier.
type DirectOption func(*DirectTier)

// WithDirectHTTPClient sets a custom *http.Client.
func WithDirectHTTPClient(hc *http.Client) DirectOption {
	return func(t *DirectTier) { t.client = hc }
}

// WithUserAgent overrides the request User-Agent.
func WithUserAgent(ua string) DirectOption {
	return func(t *DirectTier) { t.userAgent = ua }
}

// NewDirectTier creates the direct HTTP tier.
func NewDirectTier(timeout time.Duration, minContent int, opts ...DirectOption) *DirectTier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if minContent <= 0 {
		minContent = 100
	}
	t := &DirectTier{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		minContent: minContent,
		userAgent:  "Mozilla/5.0 (compatible; SpecPipe/1.0)",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *DirectTier) Name() model.FetchTier { return model.TierDirect }

// Fetch retrieves a URL and validates the response body. Blocked pages and
// thin bodies are errors so the chain falls through to the rendered tier.
func (t *DirectTier) Fetch(ctx context.Context, url string) (*model.RawCapture, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: direct create request")
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetch: direct request"), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetch: direct read body"), resp.StatusCode)
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, &BlockedError{Tier: model.TierDirect, Type: blockType}
	}

	if resp.StatusCode >= 400 {
		err := eris.Errorf("fetch: direct status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	if len(body) < t.minContent {
		return nil, eris.Errorf("fetch: direct body too small (%d bytes)", len(body))
	}

	return &model.RawCapture{
		URL:        url,
		Tier:       model.TierDirect,
		Status:     model.CaptureSuccess,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}, nil
}
