// Package quality scores extraction results field by field and aggregates
// the scores into the accept/escalate signal used by the router.
package quality

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/atelierdata/specpipe/internal/model"
)

// Field weights. Description and model number carry the most weight: they
// are what a human reviewer checks first.
var fieldWeights = map[string]float64{
	model.FieldDescription: 0.25,
	model.FieldModelNo:     0.20,
	model.FieldType:        0.15,
	model.FieldImageURL:    0.15,
	model.FieldProductLink: 0.10,
	model.FieldKey:         0.10,
	model.FieldQty:         0.05,
}

// modelNoRe matches plausible manufacturer model numbers.
var modelNoRe = regexp.MustCompile(`^[A-Za-z0-9\-_\.\s]{2,50}$`)

// Evaluator scores extractions against the target schema.
type Evaluator struct {
	minDescriptionLen int
}

// NewEvaluator creates an Evaluator. minDescriptionLen is the length below
// which a description is considered too thin to trust.
func NewEvaluator(minDescriptionLen int) *Evaluator {
	if minDescriptionLen <= 0 {
		minDescriptionLen = 10
	}
	return &Evaluator{minDescriptionLen: minDescriptionLen}
}

// Evaluate scores one extraction. Deterministic: the same fields always
// produce the same QualityScore.
func (e *Evaluator) Evaluate(result *model.ExtractionResult) model.QualityScore {
	score := model.QualityScore{
		ExtractionID: result.ID,
		PerField:     make(map[string]float64, len(model.SchemaFields)),
	}

	var weighted float64
	for _, field := range model.SchemaFields {
		value := strings.TrimSpace(result.Fields[field])
		fs := e.scoreField(field, value)
		score.PerField[field] = fs
		weighted += fs * fieldWeights[field]
		if value == "" {
			score.MissingFields = append(score.MissingFields, field)
		}
	}

	// Round to avoid float drift across platforms.
	score.Aggregate = math.Round(weighted*10000) / 10000
	return score
}

func (e *Evaluator) scoreField(field, value string) float64 {
	if value == "" {
		return 0
	}

	switch field {
	case model.FieldDescription:
		return e.scoreDescription(value)
	case model.FieldModelNo:
		if modelNoRe.MatchString(value) {
			return 1.0
		}
		return 0.4
	case model.FieldImageURL, model.FieldProductLink:
		return scoreURL(value)
	case model.FieldQty:
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return 1.0
		}
		return 0.2
	default:
		// type and key only need to be present.
		return 1.0
	}
}

func (e *Evaluator) scoreDescription(value string) float64 {
	if len(value) < e.minDescriptionLen {
		return 0.3
	}
	score := 0.8
	if len(strings.Fields(value)) >= 5 {
		score += 0.1
	}
	if len(value) >= 30 {
		score += 0.1
	}
	return score
}

// scoreURL gives full credit only to absolute http(s) URLs. Relative paths
// and other schemes get partial credit: the value is evidence but not
// directly usable.
func scoreURL(value string) float64 {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return 0.3
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return 0.3
	}
	return 1.0
}
