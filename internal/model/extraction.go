package model

import (
	"time"

	"github.com/google/uuid"
)

// ExtractionResult is one extraction attempt against a normalized page.
// Results are never mutated; a correction produces a new ExtractionResult.
type ExtractionResult struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	Fields      Fields    `json:"fields"`
	RawOutput   string    `json:"raw_model_output,omitempty"`
	SchemaValid bool      `json:"schema_valid"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewExtractionResult creates an ExtractionResult with a fresh ID.
func NewExtractionResult(sourceURL string) *ExtractionResult {
	return &ExtractionResult{
		ID:        uuid.NewString(),
		SourceURL: sourceURL,
		Fields:    Fields{},
		CreatedAt: time.Now().UTC(),
	}
}

// QualityScore is the evaluator's verdict on one ExtractionResult.
// Computed once, immutable, attached 1:1 to the extraction.
type QualityScore struct {
	ExtractionID  string             `json:"extraction_id"`
	PerField      map[string]float64 `json:"per_field_score"`
	Aggregate     float64            `json:"aggregate_score"`
	MissingFields []string           `json:"missing_fields,omitempty"`
}

// FieldScore returns the score for a field, zero when absent.
func (q QualityScore) FieldScore(field string) float64 {
	return q.PerField[field]
}

// IsMissing reports whether the field scored zero for absence.
func (q QualityScore) IsMissing(field string) bool {
	for _, f := range q.MissingFields {
		if f == field {
			return true
		}
	}
	return false
}
