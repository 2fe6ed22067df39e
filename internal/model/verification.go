package model

import (
	"time"

	"github.com/google/uuid"
)

// VerificationStatus is the lifecycle state of a review request.
// Completed and cancelled are terminal.
type VerificationStatus string

const (
	VerificationPending    VerificationStatus = "pending"
	VerificationInProgress VerificationStatus = "in_progress"
	VerificationCompleted  VerificationStatus = "completed"
	VerificationCancelled  VerificationStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s VerificationStatus) Terminal() bool {
	return s == VerificationCompleted || s == VerificationCancelled
}

// Priority bands for review requests, highest first.
const (
	PriorityCritical = 10
	PriorityHigh     = 7
	PriorityMedium   = 5
	PriorityLow      = 3
	PriorityDeferred = 1
)

// PriorityName labels a numeric priority for queue consumers.
func PriorityName(p int) string {
	switch {
	case p >= 9:
		return "critical"
	case p >= 7:
		return "high"
	case p >= 4:
		return "medium"
	case p >= 2:
		return "low"
	default:
		return "deferred"
	}
}

// VerificationRequest routes a low-confidence extraction to human review.
// Status transitions are the only mutations allowed after creation.
type VerificationRequest struct {
	ID           string             `json:"id"`
	ProductID    string             `json:"product_id"`
	ExtractionID string             `json:"extraction_id"`
	Reason       string             `json:"reason"`
	Priority     int                `json:"priority"`
	Status       VerificationStatus `json:"status"`
	Corrections  Fields             `json:"corrections,omitempty"`
	Reviewer     string             `json:"reviewer,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	ResolvedAt   time.Time          `json:"resolved_at,omitempty"`
}

// NewVerificationRequest creates a pending request with clamped priority.
func NewVerificationRequest(productID, extractionID, reason string, priority int) *VerificationRequest {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	return &VerificationRequest{
		ID:           uuid.NewString(),
		ProductID:    productID,
		ExtractionID: extractionID,
		Reason:       reason,
		Priority:     priority,
		Status:       VerificationPending,
		CreatedAt:    time.Now().UTC(),
	}
}
