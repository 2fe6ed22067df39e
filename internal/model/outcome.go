package model

// OutcomeStatus summarizes one URL's trip through the pipeline.
type OutcomeStatus string

const (
	OutcomeAccepted  OutcomeStatus = "accepted"
	OutcomeEscalated OutcomeStatus = "escalated"
	OutcomeUnchanged OutcomeStatus = "unchanged"
	OutcomeFailed    OutcomeStatus = "failed"
)

// URLOutcome is the per-URL result of a batch run. Batches always return
// one outcome per input URL; a failure never aborts the batch.
type URLOutcome struct {
	URL            string          `json:"url"`
	Status         OutcomeStatus   `json:"status"`
	ProductID      string          `json:"product_id,omitempty"`
	ExtractionID   string          `json:"extraction_id,omitempty"`
	VerificationID string          `json:"verification_id,omitempty"`
	Score          float64         `json:"score,omitempty"`
	Confidence     ConfidenceLevel `json:"confidence,omitempty"`
	Tier           FetchTier       `json:"tier,omitempty"`
	Changes        int             `json:"changes,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}
