package review

import (
	"context"
	"sort"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierdata/specpipe/internal/model"
)

// memStore is an in-memory Store for queue tests.
type memStore struct {
	verifications map[string]*model.VerificationRequest
	products      map[string]*model.Product
	changes       []model.Change
}

func newMemStore() *memStore {
	return &memStore{
		verifications: map[string]*model.VerificationRequest{},
		products:      map[string]*model.Product{},
	}
}

func (s *memStore) CreateVerification(_ context.Context, req *model.VerificationRequest) error {
	clone := *req
	s.verifications[req.ID] = &clone
	return nil
}

func (s *memStore) GetVerification(_ context.Context, id string) (*model.VerificationRequest, error) {
	req, ok := s.verifications[id]
	if !ok {
		return nil, eris.Errorf("not found: %s", id)
	}
	clone := *req
	return &clone, nil
}

func (s *memStore) UpdateVerification(_ context.Context, req *model.VerificationRequest) error {
	clone := *req
	s.verifications[req.ID] = &clone
	return nil
}

func (s *memStore) ListPendingVerifications(_ context.Context, limit int) ([]model.VerificationRequest, error) {
	var out []model.VerificationRequest
	for _, req := range s.verifications {
		if req.Status == model.VerificationPending {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, eris.Errorf("not found: %s", id)
	}
	clone := *p
	clone.Fields = p.Fields.Clone()
	return &clone, nil
}

func (s *memStore) UpdateProduct(_ context.Context, product *model.Product) error {
	clone := *product
	clone.Fields = product.Fields.Clone()
	s.products[product.ID] = &clone
	return nil
}

func (s *memStore) RecordChanges(_ context.Context, changes []model.Change) error {
	s.changes = append(s.changes, changes...)
	return nil
}

func setup(t *testing.T) (*Queue, *memStore, *model.Product, *model.VerificationRequest) {
	t.Helper()
	store := newMemStore()
	q := NewQueue(store)

	product := model.NewProduct("proj-1", "https://acme.com/p/k500")
	product.Fields = model.Fields{
		model.FieldDescription: "Pull-down kitchen faucet",
		model.FieldModelNo:     "K-500",
	}
	require.NoError(t, store.UpdateProduct(context.Background(), product))

	req := model.NewVerificationRequest(product.ID, "ext-1", "aggregate score 0.55 below 0.80", 6)
	require.NoError(t, q.Enqueue(context.Background(), req))
	return q, store, product, req
}

func TestQueue_ClaimTransition(t *testing.T) {
	q, _, _, req := setup(t)

	claimed, err := q.Claim(context.Background(), req.ID, "reviewer@acme.com")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationInProgress, claimed.Status)
	assert.Equal(t, "reviewer@acme.com", claimed.Reviewer)

	// A second claim on a non-pending request fails.
	_, err = q.Claim(context.Background(), req.ID, "other@acme.com")
	require.Error(t, err)
}

func TestQueue_ResolveAppliesCorrections(t *testing.T) {
	q, store, product, req := setup(t)

	corrections := model.Fields{
		model.FieldDescription: "Pull-down kitchen faucet",
		model.FieldModelNo:     "K-500-BN",
		model.FieldImageURL:    "https://acme.com/k500.jpg",
	}

	resolved, err := q.Resolve(context.Background(), req.ID, corrections, "reviewer@acme.com")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationCompleted, resolved.Status)
	assert.Equal(t, corrections, resolved.Corrections)
	assert.False(t, resolved.ResolvedAt.IsZero())

	updated, err := store.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, corrections, updated.Fields)
	assert.True(t, updated.Verified)

	// Changes were recorded at resolution time: modified model_no, added image_url.
	require.Len(t, store.changes, 2)
	types := map[string]model.ChangeType{}
	for _, c := range store.changes {
		types[c.Field] = c.Type
	}
	assert.Equal(t, model.ChangeModified, types[model.FieldModelNo])
	assert.Equal(t, model.ChangeAdded, types[model.FieldImageURL])
}

func TestQueue_ResolvePartialCorrectionKeepsOtherFields(t *testing.T) {
	q, store, product, req := setup(t)

	resolved, err := q.Resolve(context.Background(), req.ID,
		model.Fields{model.FieldModelNo: "K-500-BN"}, "reviewer@acme.com")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationCompleted, resolved.Status)

	updated, err := store.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, "K-500-BN", updated.Fields[model.FieldModelNo])
	assert.Equal(t, "Pull-down kitchen faucet", updated.Fields[model.FieldDescription])
	assert.True(t, updated.Verified)

	// Only the corrected field shows up as a change.
	require.Len(t, store.changes, 1)
	assert.Equal(t, model.FieldModelNo, store.changes[0].Field)
	assert.Equal(t, model.ChangeModified, store.changes[0].Type)
}

func TestQueue_ResolveWithoutCorrectionsLeavesProduct(t *testing.T) {
	q, store, product, req := setup(t)

	resolved, err := q.Resolve(context.Background(), req.ID, model.Fields{}, "reviewer@acme.com")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationCompleted, resolved.Status)
	assert.False(t, resolved.ResolvedAt.IsZero())

	kept, err := store.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, "K-500", kept.Fields[model.FieldModelNo])
	assert.Equal(t, "Pull-down kitchen faucet", kept.Fields[model.FieldDescription])
	assert.False(t, kept.Verified)
	assert.Empty(t, store.changes)
}

func TestQueue_CancelKeepsProduct(t *testing.T) {
	q, store, product, req := setup(t)

	cancelled, err := q.Cancel(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationCancelled, cancelled.Status)

	kept, err := store.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, "K-500", kept.Fields[model.FieldModelNo])
	assert.False(t, kept.Verified)
	assert.Empty(t, store.changes)
}

func TestQueue_TerminalStatesImmutable(t *testing.T) {
	q, _, _, req := setup(t)

	_, err := q.Cancel(context.Background(), req.ID)
	require.NoError(t, err)

	_, err = q.Resolve(context.Background(), req.ID, model.Fields{}, "reviewer")
	assert.ErrorIs(t, err, ErrTerminalState)

	_, err = q.Cancel(context.Background(), req.ID)
	assert.ErrorIs(t, err, ErrTerminalState)

	_, err = q.Claim(context.Background(), req.ID, "reviewer")
	assert.ErrorIs(t, err, ErrTerminalState)
}

func TestQueue_PendingOrder(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store)

	low := model.NewVerificationRequest("p1", "e1", "low", 3)
	high := model.NewVerificationRequest("p2", "e2", "high", 9)
	mid := model.NewVerificationRequest("p3", "e3", "mid", 6)
	for _, req := range []*model.VerificationRequest{low, high, mid} {
		require.NoError(t, q.Enqueue(context.Background(), req))
	}

	pending, err := q.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, high.ID, pending[0].ID)
	assert.Equal(t, mid.ID, pending[1].ID)
	assert.Equal(t, low.ID, pending[2].ID)
}
