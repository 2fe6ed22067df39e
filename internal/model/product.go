// Package model defines the data types shared across the acquisition pipeline.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Target schema field names, in canonical order.
const (
	FieldType        = "type"
	FieldDescription = "description"
	FieldModelNo     = "model_no"
	FieldImageURL    = "image_url"
	FieldProductLink = "product_link"
	FieldQty         = "qty"
	FieldKey         = "key"
)

// SchemaFields lists every target field in canonical order.
var SchemaFields = []string{
	FieldType,
	FieldDescription,
	FieldModelNo,
	FieldImageURL,
	FieldProductLink,
	FieldQty,
	FieldKey,
}

// Fields maps target field names to extracted values. A missing key means
// the field was not extracted; an empty string means it was extracted empty.
type Fields map[string]string

// Clone returns a shallow copy safe to mutate.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ConfidenceLevel buckets an aggregate quality score.
type ConfidenceLevel string

const (
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceCritical ConfidenceLevel = "critical"
)

// LevelForScore maps an aggregate score to its confidence band.
func LevelForScore(score float64) ConfidenceLevel {
	switch {
	case score >= 0.8:
		return ConfidenceHigh
	case score >= 0.6:
		return ConfidenceMedium
	case score >= 0.4:
		return ConfidenceLow
	default:
		return ConfidenceCritical
	}
}

// Product is the durable entity for one source URL. Its accepted field set
// is written only by the verification router, either on auto-accept or when
// a manual review completes.
type Product struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	SourceURL     string    `json:"source_url"`
	Fields        Fields    `json:"fields"`
	ContentHash   string    `json:"content_hash,omitempty"`
	Score         float64   `json:"score"`
	Verified      bool      `json:"verified"`
	Version       int64     `json:"version"`
	LastCheckedAt time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Confidence returns the product's confidence band from its last score.
func (p *Product) Confidence() ConfidenceLevel {
	return LevelForScore(p.Score)
}

// NewProduct creates a Product shell for a source URL. Fields stay empty
// until the router accepts an extraction.
func NewProduct(projectID, sourceURL string) *Product {
	now := time.Now().UTC()
	return &Product{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		SourceURL: sourceURL,
		Fields:    Fields{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
