// Package review decides whether an evaluated extraction is accepted
// automatically or escalated to human verification, and manages the
// verification queue lifecycle.
package review

import (
	"fmt"
	"math"
	"strings"

	"github.com/atelierdata/specpipe/internal/change"
	"github.com/atelierdata/specpipe/internal/model"
)

// Decision is the router's verdict on one evaluated extraction.
type Decision struct {
	AutoAccept bool
	Priority   int
	Reason     string
}

// Router applies the accept/escalate policy.
type Router struct {
	autoAcceptThreshold float64
	fieldThreshold      float64
}

// NewRouter creates a Router with the given thresholds.
func NewRouter(autoAcceptThreshold, fieldThreshold float64) *Router {
	if autoAcceptThreshold <= 0 {
		autoAcceptThreshold = 0.8
	}
	if fieldThreshold <= 0 {
		fieldThreshold = 0.6
	}
	return &Router{
		autoAcceptThreshold: autoAcceptThreshold,
		fieldThreshold:      fieldThreshold,
	}
}

// Decide routes an evaluated extraction. Acceptance requires a valid
// schema, an aggregate score at or above the threshold, confidence in
// every field the new extraction changed, and no discontinued marker in
// the description. Anything else escalates with a priority proportional
// to how far the score fell short.
func (r *Router) Decide(result *model.ExtractionResult, score model.QualityScore, changes []model.Change) Decision {
	var reasons []string

	if !result.SchemaValid {
		reasons = append(reasons, "model output failed schema validation")
	}
	if score.Aggregate < r.autoAcceptThreshold {
		reasons = append(reasons, fmt.Sprintf("aggregate score %.2f below %.2f", score.Aggregate, r.autoAcceptThreshold))
	}
	if low := r.lowChangedFields(score, changes); len(low) > 0 {
		reasons = append(reasons, "low confidence in changed fields: "+strings.Join(low, ", "))
	}
	// A discontinued marker is never applied automatically. A human decides
	// whether the product is gone or the page is describing a replacement.
	if change.IsDiscontinued(result.Fields) {
		reasons = append(reasons, "description indicates a discontinued product")
	}

	if len(reasons) == 0 {
		return Decision{AutoAccept: true}
	}

	if len(score.MissingFields) > 0 {
		reasons = append(reasons, "missing: "+strings.Join(score.MissingFields, ", "))
	}

	return Decision{
		AutoAccept: false,
		Priority:   PriorityForScore(score.Aggregate),
		Reason:     strings.Join(reasons, "; "),
	}
}

// lowChangedFields returns changed fields whose new value scored below the
// field threshold. Removals are always suspect: the field scored zero.
func (r *Router) lowChangedFields(score model.QualityScore, changes []model.Change) []string {
	var low []string
	for _, c := range changes {
		if score.FieldScore(c.Field) < r.fieldThreshold {
			low = append(low, c.Field)
		}
	}
	return low
}

// PriorityForScore maps an aggregate score to a 1..10 review priority:
// the worse the extraction, the sooner a human should see it.
func PriorityForScore(aggregate float64) int {
	if aggregate < 0 {
		aggregate = 0
	}
	if aggregate > 1 {
		aggregate = 1
	}
	p := int(math.Round(1 + (1-aggregate)*9))
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}
