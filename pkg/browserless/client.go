// Package browserless provides a client for a headless-rendering service
// that returns fully rendered HTML for JS-gated pages.
package browserless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://chrome.browserless.io"

// Client defines the headless-rendering operations used by the fetch chain.
type Client interface {
	// Render loads a URL in a headless browser and returns the rendered HTML.
	Render(ctx context.Context, req RenderRequest) (*RenderResponse, error)
}

// RenderRequest is the body for POST /content.
type RenderRequest struct {
	URL       string     `json:"url"`
	WaitUntil string     `json:"waitUntil,omitempty"` // e.g. "networkidle2"
	GotoOpts  *GotoOpts  `json:"gotoOptions,omitempty"`
}

// GotoOpts tunes page navigation.
type GotoOpts struct {
	TimeoutMS int `json:"timeout,omitempty"`
}

// RenderResponse holds the rendered page.
type RenderResponse struct {
	HTML       string
	StatusCode int
}

// APIError is returned when the rendering service responds non-2xx.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("browserless: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new rendering client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Render(ctx context.Context, req RenderRequest) (*RenderResponse, error) {
	if req.WaitUntil == "" {
		req.WaitUntil = "networkidle2"
	}

	buf, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "browserless: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/content?token="+c.apiKey, bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "browserless: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "browserless: render")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrap(err, "browserless: read body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	return &RenderResponse{
		HTML:       string(data),
		StatusCode: resp.StatusCode,
	}, nil
}
