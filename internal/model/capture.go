package model

import "time"

// CaptureStatus describes the outcome of a fetch attempt.
type CaptureStatus string

const (
	CaptureSuccess CaptureStatus = "success"
	CapturePartial CaptureStatus = "partial"
	CaptureFailed  CaptureStatus = "failed"
)

// FetchTier identifies one acquisition strategy in the fallback chain.
type FetchTier string

const (
	TierDirect       FetchTier = "direct"
	TierRendered     FetchTier = "rendered"
	TierManagedCrawl FetchTier = "managed_crawl"
)

// RawCapture is the immutable result of one fetch of a URL. A re-fetch
// produces a new RawCapture; nothing mutates an existing one.
type RawCapture struct {
	URL         string        `json:"url"`
	Tier        FetchTier     `json:"tier_used"`
	Status      CaptureStatus `json:"status"`
	StatusCode  int           `json:"status_code,omitempty"`
	Body        string        `json:"body,omitempty"`
	FetchedAt   time.Time     `json:"fetched_at"`
	ContentHash string        `json:"content_hash,omitempty"`
}

// NormalizedContent is the cleaned, deterministic view of a RawCapture.
type NormalizedContent struct {
	SourceURL   string   `json:"source_url"`
	TextBlocks  []string `json:"text_blocks"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	DerivedHash string   `json:"derived_hash"`
}

// Text joins the text blocks into a single prompt-ready document.
func (n NormalizedContent) Text() string {
	switch len(n.TextBlocks) {
	case 0:
		return ""
	case 1:
		return n.TextBlocks[0]
	}
	out := n.TextBlocks[0]
	for _, b := range n.TextBlocks[1:] {
		out += "\n\n" + b
	}
	return out
}
