package model

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType classifies a field-level difference between an accepted
// product and a new extraction.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// Change is one append-only audit record for a field that differed.
type Change struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"product_id"`
	Field      string     `json:"field"`
	OldValue   string     `json:"old_value,omitempty"`
	NewValue   string     `json:"new_value,omitempty"`
	Type       ChangeType `json:"change_type"`
	DetectedAt time.Time  `json:"detected_at"`
}

// NewChange creates a Change record stamped now.
func NewChange(productID, field, oldValue, newValue string, typ ChangeType) Change {
	return Change{
		ID:         uuid.NewString(),
		ProductID:  productID,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		Type:       typ,
		DetectedAt: time.Now().UTC(),
	}
}
