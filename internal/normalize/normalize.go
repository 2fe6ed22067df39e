// Package normalize converts raw captures into a clean, deterministic
// content view: markup stripped, whitespace collapsed, image URLs pulled
// out, and a stable hash over the cleaned text.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/atelierdata/specpipe/internal/model"
)

var (
	blockTagRe = map[string]*regexp.Regexp{}
	tagRe      = regexp.MustCompile(`<[^>]+>`)
	imgRe      = regexp.MustCompile(`(?i)<img[^>]+src\s*=\s*["']([^"']+)["']`)
	spaceRe    = regexp.MustCompile(`[ \t]+`)
	nlRe       = regexp.MustCompile(`\n{3,}`)
)

// strippedTags are removed with their entire contents before tag stripping.
var strippedTags = []string{"script", "style", "noscript", "nav", "header", "footer", "aside", "iframe"}

func init() {
	for _, tag := range strippedTags {
		blockTagRe[tag] = regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
	}
}

// Capture produces the normalized view of a raw capture. Pure and
// deterministic: identical bytes always yield an identical result,
// regardless of environment or call order.
func Capture(capture model.RawCapture) model.NormalizedContent {
	text := Text(capture.Body)
	return model.NormalizedContent{
		SourceURL:   capture.URL,
		TextBlocks:  splitBlocks(text),
		ImageURLs:   ImageURLs(capture.Body, capture.URL),
		DerivedHash: Hash(text),
	}
}

// Text strips markup from HTML and collapses whitespace into plaintext
// paragraphs suitable for LLM extraction.
func Text(html string) string {
	for _, tag := range strippedTags {
		html = blockTagRe[tag].ReplaceAllString(html, "")
	}

	// Block-level closers become paragraph breaks so text blocks survive
	// tag stripping.
	html = regexp.MustCompile(`(?i)</(p|div|li|tr|h[1-6]|section|article)>`).ReplaceAllString(html, "\n\n")
	html = regexp.MustCompile(`(?i)<br\s*/?>`).ReplaceAllString(html, "\n")

	html = tagRe.ReplaceAllString(html, " ")
	html = decodeEntities(html)

	html = spaceRe.ReplaceAllString(html, " ")
	lines := strings.Split(html, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	html = strings.Join(lines, "\n")
	html = nlRe.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}

// ImageURLs extracts candidate product image URLs, resolved to absolute
// form against the page URL. Order is stable; duplicates and data URIs
// are dropped.
func ImageURLs(html, pageURL string) []string {
	base, baseErr := url.Parse(pageURL)

	matches := imgRe.FindAllStringSubmatch(html, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		src := strings.TrimSpace(m[1])
		if src == "" || strings.HasPrefix(src, "data:") {
			continue
		}
		if baseErr == nil {
			if ref, err := url.Parse(src); err == nil {
				src = base.ResolveReference(ref).String()
			}
		}
		u, err := url.Parse(src)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out
}

// Hash computes the stable content fingerprint used by change detection.
func Hash(cleanText string) string {
	sum := sha256.Sum256([]byte(cleanText))
	return hex.EncodeToString(sum[:])
}

// splitBlocks divides cleaned text into paragraph blocks.
func splitBlocks(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.Split(text, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decodeEntities replaces the HTML entities that matter for product text.
var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
	"&reg;", "®",
	"&trade;", "™",
	"&deg;", "°",
	"&frac12;", "½",
	"&frac14;", "¼",
	"&frac34;", "¾",
	"&times;", "×",
	"&mdash;", "—",
	"&ndash;", "–",
)

func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}
