package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/atelierdata/specpipe/internal/model"
	"github.com/atelierdata/specpipe/internal/resilience"
	"github.com/atelierdata/specpipe/pkg/anthropic"
)

// maxContentChars bounds the page text included in one prompt.
const maxContentChars = 24000

const extractPrompt = `%s

Page URL: %s

Page images:
%s

Page content:
%s`

// Extractor runs structured extraction against normalized page content.
type Extractor struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	templates   *Templates
	category    string
	policy      resilience.Policy
	timeout     time.Duration
}

// Options configures an Extractor.
type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	Templates   *Templates
	Category    string

	// Timeout bounds each model call. Zero means no per-call deadline.
	Timeout time.Duration

	// Policy overrides the transport retry policy.
	Policy *resilience.Policy
}

// New creates an Extractor over the given language-model client.
func New(client anthropic.Client, opts Options) *Extractor {
	if opts.Model == "" {
		opts.Model = "claude-sonnet-4-5-20250929"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	policy := resilience.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	// Only transport failures are retried. A completed call with bad output
	// is data, not an error.
	policy.ShouldRetry = anthropic.IsTransport
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.RetryLogger("anthropic", "extract")
	}

	return &Extractor{
		client:      client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		templates:   opts.Templates,
		category:    opts.Category,
		policy:      policy,
		timeout:     opts.Timeout,
	}
}

// Extract asks the model for structured product fields. A malformed model
// response yields a result with SchemaValid=false and the raw output
// preserved; only transport-level failures return an error.
func (e *Extractor) Extract(ctx context.Context, content model.NormalizedContent) (*model.ExtractionResult, error) {
	text := content.Text()
	if text == "" {
		return nil, eris.Errorf("extract: no content for %s", content.SourceURL)
	}
	text = truncate(text, maxContentChars)

	tpl := e.templates.Get(e.category)
	prompt := fmt.Sprintf(extractPrompt,
		tpl.Instructions,
		content.SourceURL,
		formatImageURLs(content.ImageURLs),
		text,
	)

	temp := e.temperature
	resp, err := resilience.DoVal(ctx, e.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		// The deadline applies per attempt, so a hung call times out without
		// consuming the retry budget of the whole extraction.
		if e.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		return e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       e.model,
			MaxTokens:   e.maxTokens,
			System:      tpl.System,
			Temperature: &temp,
			Messages: []anthropic.Message{
				{Role: "user", Content: prompt},
			},
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extract: %s", content.SourceURL)
	}

	result := model.NewExtractionResult(content.SourceURL)
	result.Model = resp.Model
	result.RawOutput = resp.Text

	fields, ok := parseFields(resp.Text)
	if !ok {
		zap.L().Warn("extract: model returned malformed output",
			zap.String("url", content.SourceURL),
			zap.String("model", resp.Model),
		)
		result.SchemaValid = false
		return result, nil
	}

	result.Fields = fields
	result.SchemaValid = true
	return result, nil
}

// parseFields parses the model output into the target schema. Unknown keys
// are dropped; null and empty values are omitted; numbers are stringified.
func parseFields(text string) (model.Fields, bool) {
	cleaned := cleanJSON(text)

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, false
	}

	fields := model.Fields{}
	for _, name := range model.SchemaFields {
		v, found := raw[name]
		if !found || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				fields[name] = s
			}
		case float64:
			if val == float64(int64(val)) {
				fields[name] = strconv.FormatInt(int64(val), 10)
			} else {
				fields[name] = strconv.FormatFloat(val, 'f', -1, 64)
			}
		case bool:
			fields[name] = strconv.FormatBool(val)
		}
	}
	return fields, true
}

// truncate cuts text to at most limit bytes without splitting a rune.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

// cleanJSON strips markdown fences and any prose around the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func formatImageURLs(urls []string) string {
	if len(urls) == 0 {
		return "(none)"
	}
	// Cap the list so image-heavy pages don't crowd out the text.
	if len(urls) > 10 {
		urls = urls[:10]
	}
	return strings.Join(urls, "\n")
}
