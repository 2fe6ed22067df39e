package review

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/atelierdata/specpipe/internal/change"
	"github.com/atelierdata/specpipe/internal/model"
)

// ErrTerminalState is returned when a transition is attempted on a
// completed or cancelled verification request.
var ErrTerminalState = eris.New("review: request is in a terminal state")

// Store is the persistence surface the queue needs.
type Store interface {
	CreateVerification(ctx context.Context, req *model.VerificationRequest) error
	GetVerification(ctx context.Context, id string) (*model.VerificationRequest, error)
	UpdateVerification(ctx context.Context, req *model.VerificationRequest) error
	ListPendingVerifications(ctx context.Context, limit int) ([]model.VerificationRequest, error)

	GetProduct(ctx context.Context, id string) (*model.Product, error)
	UpdateProduct(ctx context.Context, product *model.Product) error

	RecordChanges(ctx context.Context, changes []model.Change) error
}

// Queue manages verification request lifecycle over a Store. Requests move
// pending → in_progress → completed, or to cancelled from any non-terminal
// state. Terminal requests never change again.
type Queue struct {
	store   Store
	nowFunc func() time.Time
}

// NewQueue creates a Queue over the given store.
func NewQueue(store Store) *Queue {
	return &Queue{store: store, nowFunc: time.Now}
}

// Enqueue persists a new pending request.
func (q *Queue) Enqueue(ctx context.Context, req *model.VerificationRequest) error {
	if err := q.store.CreateVerification(ctx, req); err != nil {
		return eris.Wrapf(err, "review: enqueue %s", req.ID)
	}
	zap.L().Info("review: request enqueued",
		zap.String("request_id", req.ID),
		zap.String("product_id", req.ProductID),
		zap.Int("priority", req.Priority),
		zap.String("band", model.PriorityName(req.Priority)),
	)
	return nil
}

// Pending lists open requests, highest priority first, oldest first within
// a priority.
func (q *Queue) Pending(ctx context.Context, limit int) ([]model.VerificationRequest, error) {
	return q.store.ListPendingVerifications(ctx, limit)
}

// Claim moves a pending request to in_progress for a reviewer.
func (q *Queue) Claim(ctx context.Context, id, reviewer string) (*model.VerificationRequest, error) {
	req, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != model.VerificationPending {
		return nil, eris.Errorf("review: cannot claim request %s in status %s", id, req.Status)
	}

	req.Status = model.VerificationInProgress
	req.Reviewer = reviewer
	if err := q.store.UpdateVerification(ctx, req); err != nil {
		return nil, eris.Wrapf(err, "review: claim %s", id)
	}
	return req, nil
}

// Resolve completes a request with the reviewer's corrected fields.
// Corrections are a partial update: only the supplied fields are written
// over the product's accepted data, and an empty correction set leaves the
// product untouched. Field differences are recorded as changes at this
// moment, not before.
func (q *Queue) Resolve(ctx context.Context, id string, corrections model.Fields, reviewer string) (*model.VerificationRequest, error) {
	req, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != model.VerificationPending && req.Status != model.VerificationInProgress {
		return nil, eris.Errorf("review: cannot resolve request %s in status %s", id, req.Status)
	}

	now := q.nowFunc().UTC()
	var changes []model.Change
	if len(corrections) > 0 {
		product, err := q.store.GetProduct(ctx, req.ProductID)
		if err != nil {
			return nil, eris.Wrapf(err, "review: load product %s", req.ProductID)
		}

		merged := product.Fields.Clone()
		for field, value := range corrections {
			merged[field] = value
		}

		changes = change.Detect(product.ID, product.Fields, merged)
		if len(changes) > 0 {
			if err := q.store.RecordChanges(ctx, changes); err != nil {
				return nil, eris.Wrapf(err, "review: record changes for %s", product.ID)
			}
		}

		product.Fields = merged
		product.Verified = true
		product.LastCheckedAt = now
		product.UpdatedAt = now
		if err := q.store.UpdateProduct(ctx, product); err != nil {
			return nil, eris.Wrapf(err, "review: update product %s", product.ID)
		}
	}

	req.Status = model.VerificationCompleted
	req.Corrections = corrections.Clone()
	req.Reviewer = reviewer
	req.ResolvedAt = now
	if err := q.store.UpdateVerification(ctx, req); err != nil {
		return nil, eris.Wrapf(err, "review: complete %s", id)
	}

	zap.L().Info("review: request resolved",
		zap.String("request_id", req.ID),
		zap.String("product_id", req.ProductID),
		zap.Int("changes", len(changes)),
	)
	return req, nil
}

// Cancel moves a non-terminal request to cancelled. The product keeps its
// previously accepted data.
func (q *Queue) Cancel(ctx context.Context, id string) (*model.VerificationRequest, error) {
	req, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}

	req.Status = model.VerificationCancelled
	req.ResolvedAt = q.nowFunc().UTC()
	if err := q.store.UpdateVerification(ctx, req); err != nil {
		return nil, eris.Wrapf(err, "review: cancel %s", id)
	}
	return req, nil
}

func (q *Queue) load(ctx context.Context, id string) (*model.VerificationRequest, error) {
	req, err := q.store.GetVerification(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "review: load request %s", id)
	}
	if req.Status.Terminal() {
		return nil, eris.Wrapf(ErrTerminalState, "request %s is %s", id, req.Status)
	}
	return req, nil
}
