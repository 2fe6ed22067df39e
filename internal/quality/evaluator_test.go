package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierdata/specpipe/internal/model"
)

func fullExtraction() *model.ExtractionResult {
	r := model.NewExtractionResult("https://acme.com/p/k500")
	r.SchemaValid = true
	r.Fields = model.Fields{
		model.FieldType:        "kitchen faucet",
		model.FieldDescription: "Single-handle pull-down kitchen faucet with magnetic docking",
		model.FieldModelNo:     "K-500",
		model.FieldImageURL:    "https://acme.com/images/k500.jpg",
		model.FieldProductLink: "https://acme.com/p/k500",
		model.FieldQty:         "1",
		model.FieldKey:         "ACME-K500",
	}
	return r
}

func TestEvaluate_CompleteExtraction(t *testing.T) {
	e := NewEvaluator(10)
	score := e.Evaluate(fullExtraction())

	assert.InDelta(t, 1.0, score.Aggregate, 0.001)
	assert.Empty(t, score.MissingFields)
	for _, f := range model.SchemaFields {
		assert.Equal(t, 1.0, score.FieldScore(f), f)
	}
}

func TestEvaluate_EmptyExtraction(t *testing.T) {
	e := NewEvaluator(10)
	r := model.NewExtractionResult("https://acme.com/p/1")

	score := e.Evaluate(r)
	assert.Zero(t, score.Aggregate)
	assert.Len(t, score.MissingFields, len(model.SchemaFields))
}

func TestEvaluate_ThinDescription(t *testing.T) {
	e := NewEvaluator(10)
	r := fullExtraction()
	r.Fields[model.FieldDescription] = "faucet"

	score := e.Evaluate(r)
	assert.Equal(t, 0.3, score.FieldScore(model.FieldDescription))
	assert.Less(t, score.Aggregate, 1.0)
	assert.False(t, score.IsMissing(model.FieldDescription), "thin is not missing")
}

func TestEvaluate_BadModelNo(t *testing.T) {
	e := NewEvaluator(10)
	r := fullExtraction()
	r.Fields[model.FieldModelNo] = "call us for details about this model!!!"

	score := e.Evaluate(r)
	assert.Equal(t, 0.4, score.FieldScore(model.FieldModelNo))
}

func TestEvaluate_RelativeImageURL(t *testing.T) {
	e := NewEvaluator(10)
	r := fullExtraction()
	r.Fields[model.FieldImageURL] = "/images/k500.jpg"

	score := e.Evaluate(r)
	assert.Equal(t, 0.3, score.FieldScore(model.FieldImageURL))
}

func TestEvaluate_NonNumericQty(t *testing.T) {
	e := NewEvaluator(10)
	r := fullExtraction()
	r.Fields[model.FieldQty] = "a dozen"

	score := e.Evaluate(r)
	assert.Equal(t, 0.2, score.FieldScore(model.FieldQty))
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEvaluator(10)
	r := fullExtraction()
	first := e.Evaluate(r)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.Evaluate(r))
	}
}

// Adding a field never lowers the aggregate score.
func TestEvaluate_Monotonic(t *testing.T) {
	e := NewEvaluator(10)

	r := model.NewExtractionResult("https://acme.com/p/1")
	prev := e.Evaluate(r).Aggregate

	full := fullExtraction()
	for _, field := range model.SchemaFields {
		r.Fields[field] = full.Fields[field]
		current := e.Evaluate(r).Aggregate
		require.GreaterOrEqual(t, current, prev, "adding %s lowered the score", field)
		prev = current
	}
}

func TestEvaluate_MissingHighWeightFieldsEscalate(t *testing.T) {
	e := NewEvaluator(10)
	r := fullExtraction()
	delete(r.Fields, model.FieldDescription)
	delete(r.Fields, model.FieldModelNo)

	score := e.Evaluate(r)
	assert.Less(t, score.Aggregate, 0.8, "losing description and model_no must drop below auto-accept")
	assert.True(t, score.IsMissing(model.FieldDescription))
	assert.True(t, score.IsMissing(model.FieldModelNo))
}
