package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierdata/specpipe/internal/config"
	"github.com/atelierdata/specpipe/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Quality: config.QualityConfig{
			AutoAcceptThreshold: 0.8,
			FieldThreshold:      0.6,
			MinDescriptionLen:   10,
		},
		Pipeline: config.PipelineConfig{MaxConcurrent: 2},
	}
}

func fullFields() model.Fields {
	return model.Fields{
		model.FieldType:        "kitchen faucet",
		model.FieldDescription: "Single handle pull-down kitchen faucet with magnetic spray head",
		model.FieldModelNo:     "K-500",
		model.FieldImageURL:    "https://acme.com/img/k500.jpg",
		model.FieldProductLink: "https://acme.com/p/k500",
		model.FieldQty:         "1",
		model.FieldKey:         "FAUCET-K500",
	}
}

func newTestPipeline(st *fakeStore, fetcher *fakeFetcher, extractor *fakeExtractor) *Pipeline {
	return New(testConfig(), st, fetcher, extractor, nil)
}

func TestPipeline_AutoAcceptsCleanPage(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{}
	extractor := &fakeExtractor{fields: fullFields(), valid: true}
	p := newTestPipeline(st, fetcher, extractor)

	out := p.ProcessURL(context.Background(), "proj-1", "https://acme.com/p/k500", Options{})

	assert.Equal(t, model.OutcomeAccepted, out.Status)
	assert.GreaterOrEqual(t, out.Score, 0.8)
	assert.Equal(t, model.ConfidenceHigh, out.Confidence)
	assert.Equal(t, model.TierDirect, out.Tier)
	require.NotEmpty(t, out.ProductID)

	product, err := st.GetProduct(context.Background(), out.ProductID)
	require.NoError(t, err)
	assert.Len(t, product.Fields, 7)
	assert.Equal(t, "K-500", product.Fields[model.FieldModelNo])
	assert.Equal(t, "default-hash", product.ContentHash)

	assert.Len(t, st.extractions, 1)
	assert.Len(t, st.scores, 1)
	assert.Empty(t, st.changes, "first acceptance records no changes")
	assert.Empty(t, st.verifications)

	snap := p.Metrics().Snapshot()
	assert.Equal(t, 1, snap.Accepted)
	assert.Equal(t, 1, snap.Extractions)
}

func TestPipeline_ManagedCrawlCapture(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{captures: map[string]*model.RawCapture{
		"https://blocked.com/p/1": {
			URL:         "https://blocked.com/p/1",
			Tier:        model.TierManagedCrawl,
			Status:      model.CaptureSuccess,
			Body:        "<html><body>faucet specs</body></html>",
			ContentHash: "mc-hash",
		},
	}}
	extractor := &fakeExtractor{fields: fullFields(), valid: true}
	p := newTestPipeline(st, fetcher, extractor)

	out := p.ProcessURL(context.Background(), "proj-1", "https://blocked.com/p/1", Options{})

	assert.Equal(t, model.OutcomeAccepted, out.Status)
	assert.Equal(t, model.TierManagedCrawl, out.Tier, "capture carries the winning tier")
}

func TestPipeline_MissingFieldsEscalate(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{}
	fields := fullFields()
	delete(fields, model.FieldModelNo)
	delete(fields, model.FieldQty)
	extractor := &fakeExtractor{fields: fields, valid: true}
	p := newTestPipeline(st, fetcher, extractor)

	out := p.ProcessURL(context.Background(), "proj-1", "https://acme.com/p/thin", Options{})

	assert.Equal(t, model.OutcomeEscalated, out.Status)
	assert.Less(t, out.Score, 0.8)
	assert.Equal(t, model.ConfidenceMedium, out.Confidence)
	assert.Contains(t, out.Reason, model.FieldModelNo)
	assert.Contains(t, out.Reason, model.FieldQty)
	require.NotEmpty(t, out.VerificationID)

	req, err := st.GetVerification(context.Background(), out.VerificationID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationPending, req.Status)
	assert.Equal(t, 3, req.Priority, "score 0.75 maps to priority 3")
	assert.Equal(t, out.ProductID, req.ProductID)

	// A shell product exists but carries no accepted fields yet.
	product, err := st.GetProduct(context.Background(), out.ProductID)
	require.NoError(t, err)
	assert.Empty(t, product.Fields)
	assert.Empty(t, st.changes, "escalation records no changes")
}

func TestPipeline_DescriptionChangeRecorded(t *testing.T) {
	st := newFakeStore()

	seeded := model.NewProduct("proj-1", "https://acme.com/p/k500")
	seeded.Fields = fullFields()
	seeded.ContentHash = "old-hash"
	seeded.Score = 1.0
	require.NoError(t, st.CreateProduct(context.Background(), seeded))

	fetcher := &fakeFetcher{captures: map[string]*model.RawCapture{
		"https://acme.com/p/k500": {
			URL:         "https://acme.com/p/k500",
			Tier:        model.TierDirect,
			Status:      model.CaptureSuccess,
			Body:        "<html><body>updated product page</body></html>",
			ContentHash: "new-hash",
		},
	}}
	updated := fullFields()
	updated[model.FieldDescription] = "Single handle pull-down kitchen faucet, brushed nickel finish"
	extractor := &fakeExtractor{fields: updated, valid: true}
	p := newTestPipeline(st, fetcher, extractor)

	out := p.ProcessURL(context.Background(), "proj-1", "https://acme.com/p/k500", Options{})

	assert.Equal(t, model.OutcomeAccepted, out.Status)
	assert.Equal(t, seeded.ID, out.ProductID)
	assert.Equal(t, 1, out.Changes)

	require.Len(t, st.changes, 1)
	assert.Equal(t, model.FieldDescription, st.changes[0].Field)
	assert.Equal(t, model.ChangeModified, st.changes[0].Type)
	assert.Equal(t, seeded.ID, st.changes[0].ProductID)

	product, err := st.GetProduct(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, updated[model.FieldDescription], product.Fields[model.FieldDescription])
	assert.Equal(t, "new-hash", product.ContentHash)
	assert.Equal(t, int64(2), product.Version)
}

func TestPipeline_UnchangedContentSkipsExtraction(t *testing.T) {
	st := newFakeStore()

	seeded := model.NewProduct("proj-1", "https://acme.com/p/k500")
	seeded.Fields = fullFields()
	seeded.ContentHash = "default-hash"
	seeded.Score = 0.95
	require.NoError(t, st.CreateProduct(context.Background(), seeded))

	fetcher := &fakeFetcher{}
	extractor := &fakeExtractor{fields: fullFields(), valid: true}
	p := newTestPipeline(st, fetcher, extractor)

	out := p.ProcessURL(context.Background(), "proj-1", "https://acme.com/p/k500", Options{})

	assert.Equal(t, model.OutcomeUnchanged, out.Status)
	assert.Equal(t, seeded.ID, out.ProductID)
	assert.Equal(t, 0.95, out.Score)
	assert.Equal(t, model.ConfidenceHigh, out.Confidence)
	assert.Zero(t, extractor.calls, "unchanged content never reaches the extractor")

	product, err := st.GetProduct(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.False(t, product.LastCheckedAt.IsZero())
}

func TestPipeline_ForceRefreshBypassesShortCircuit(t *testing.T) {
	st := newFakeStore()

	seeded := model.NewProduct("proj-1", "https://acme.com/p/k500")
	seeded.Fields = fullFields()
	seeded.ContentHash = "default-hash"
	require.NoError(t, st.CreateProduct(context.Background(), seeded))

	fetcher := &fakeFetcher{}
	extractor := &fakeExtractor{fields: fullFields(), valid: true}
	p := newTestPipeline(st, fetcher, extractor)

	out := p.ProcessURL(context.Background(), "proj-1", "https://acme.com/p/k500", Options{ForceRefresh: true})

	assert.Equal(t, model.OutcomeAccepted, out.Status)
	assert.Equal(t, 1, extractor.calls)
}

func TestPipeline_FetchFailure(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{err: eris.New("fetch: all tiers exhausted")}
	extractor := &fakeExtractor{fields: fullFields(), valid: true}
	p := newTestPipeline(st, fetcher, extractor)

	out := p.ProcessURL(context.Background(), "proj-1", "https://down.com/p/1", Options{})

	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Contains(t, out.Reason, "fetch:")
	assert.Zero(t, extractor.calls)
}

func TestPipeline_InvalidSchemaEscalates(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{}
	extractor := &fakeExtractor{fields: fullFields(), valid: false}
	p := newTestPipeline(st, fetcher, extractor)

	out := p.ProcessURL(context.Background(), "proj-1", "https://acme.com/p/odd", Options{})

	assert.Equal(t, model.OutcomeEscalated, out.Status)
	assert.Contains(t, out.Reason, "schema")
}

func TestPipeline_RunBatchOutcomePerURL(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{}
	extractor := &fakeExtractor{fields: fullFields(), valid: true}
	p := newTestPipeline(st, fetcher, extractor)

	urls := []string{
		"https://acme.com/p/1",
		"https://acme.com/p/2",
		"https://acme.com/p/3",
	}
	outcomes := p.RunBatch(context.Background(), "proj-1", urls, Options{})

	require.Len(t, outcomes, 3)
	for i, out := range outcomes {
		assert.Equal(t, urls[i], out.URL, "outcomes keep input order")
		assert.Equal(t, model.OutcomeAccepted, out.Status)
	}
	assert.Equal(t, 3, fetcher.calls)
	assert.Len(t, st.products, 3)
}

func TestPipeline_RunBatchCancelledContext(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{}
	extractor := &fakeExtractor{fields: fullFields(), valid: true}
	p := newTestPipeline(st, fetcher, extractor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := p.RunBatch(ctx, "proj-1", []string{"https://a.com/1", "https://a.com/2"}, Options{})

	require.Len(t, outcomes, 2)
	for _, out := range outcomes {
		assert.Equal(t, model.OutcomeFailed, out.Status)
		assert.Contains(t, out.Reason, "batch:")
	}
	assert.Zero(t, fetcher.calls, "cancellation stops admission")
}

func TestPipeline_RunBatchDeadline(t *testing.T) {
	st := newFakeStore()
	fetcher := &fakeFetcher{}
	extractor := &fakeExtractor{fields: fullFields(), valid: true}

	cfg := testConfig()
	cfg.Pipeline.BatchDeadlineSecs = 60
	p := New(cfg, st, fetcher, extractor, nil)

	start := time.Now()
	outcomes := p.RunBatch(context.Background(), "proj-1", []string{"https://acme.com/p/1"}, Options{})
	require.Len(t, outcomes, 1)
	assert.Equal(t, model.OutcomeAccepted, outcomes[0].Status)
	assert.Less(t, time.Since(start), time.Minute)
}
