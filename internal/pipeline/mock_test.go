package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/atelierdata/specpipe/internal/model"
	"github.com/atelierdata/specpipe/internal/store"
)

// fakeStore is an in-memory store.Store recording pipeline writes.
type fakeStore struct {
	mu            sync.Mutex
	products      map[string]*model.Product
	extractions   map[string]*model.ExtractionResult
	scores        map[string]model.QualityScore
	changes       []model.Change
	verifications map[string]*model.VerificationRequest

	createProductErr error
	updateProductErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:      make(map[string]*model.Product),
		extractions:   make(map[string]*model.ExtractionResult),
		scores:        make(map[string]model.QualityScore),
		verifications: make(map[string]*model.VerificationRequest),
	}
}

func (f *fakeStore) CreateProduct(_ context.Context, p *model.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createProductErr != nil {
		return f.createProductErr
	}
	clone := *p
	clone.Fields = p.Fields.Clone()
	f.products[p.ID] = &clone
	return nil
}

func (f *fakeStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *p
	clone.Fields = p.Fields.Clone()
	return &clone, nil
}

func (f *fakeStore) GetProductByURL(_ context.Context, projectID, sourceURL string) (*model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.ProjectID == projectID && p.SourceURL == sourceURL {
			clone := *p
			clone.Fields = p.Fields.Clone()
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpdateProduct(_ context.Context, p *model.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateProductErr != nil {
		return f.updateProductErr
	}
	stored, ok := f.products[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Version != p.Version {
		return store.ErrStaleWrite
	}
	clone := *p
	clone.Fields = p.Fields.Clone()
	clone.Version++
	f.products[p.ID] = &clone
	p.Version++
	return nil
}

func (f *fakeStore) SaveExtraction(_ context.Context, r *model.ExtractionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractions[r.ID] = r
	return nil
}

func (f *fakeStore) SaveScore(_ context.Context, s model.QualityScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[s.ExtractionID] = s
	return nil
}

func (f *fakeStore) RecordChanges(_ context.Context, changes []model.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, changes...)
	return nil
}

func (f *fakeStore) ListChanges(_ context.Context, productID string, _ int) ([]model.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Change
	for _, c := range f.changes {
		if c.ProductID == productID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateVerification(_ context.Context, req *model.VerificationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *req
	f.verifications[req.ID] = &clone
	return nil
}

func (f *fakeStore) GetVerification(_ context.Context, id string) (*model.VerificationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.verifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *req
	return &clone, nil
}

func (f *fakeStore) UpdateVerification(_ context.Context, req *model.VerificationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.verifications[req.ID]; !ok {
		return store.ErrNotFound
	}
	clone := *req
	f.verifications[req.ID] = &clone
	return nil
}

func (f *fakeStore) ListPendingVerifications(_ context.Context, _ int) ([]model.VerificationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.VerificationRequest
	for _, req := range f.verifications {
		if req.Status == model.VerificationPending {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCachedCapture(context.Context, string) (*model.RawCapture, error) {
	return nil, nil
}

func (f *fakeStore) SetCachedCapture(context.Context, string, model.RawCapture, time.Duration) error {
	return nil
}

func (f *fakeStore) DeleteExpiredCaptures(context.Context) (int, error) { return 0, nil }
func (f *fakeStore) Migrate(context.Context) error                     { return nil }
func (f *fakeStore) Close() error                                      { return nil }

// fakeFetcher returns canned captures keyed by URL.
type fakeFetcher struct {
	mu       sync.Mutex
	captures map[string]*model.RawCapture
	err      error
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ bool) (*model.RawCapture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return &model.RawCapture{URL: url, Status: model.CaptureFailed}, f.err
	}
	if c, ok := f.captures[url]; ok {
		clone := *c
		return &clone, nil
	}
	return &model.RawCapture{
		URL:         url,
		Tier:        model.TierDirect,
		Status:      model.CaptureSuccess,
		Body:        "<html><body>product page</body></html>",
		ContentHash: "default-hash",
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// fakeExtractor returns a canned field set for every URL.
type fakeExtractor struct {
	mu     sync.Mutex
	fields model.Fields
	valid  bool
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, content model.NormalizedContent) (*model.ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := model.NewExtractionResult(content.SourceURL)
	r.Fields = f.fields.Clone()
	r.SchemaValid = f.valid
	r.Model = "claude-sonnet-4-5-20250929"
	return r, nil
}
