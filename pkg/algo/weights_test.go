package algo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orneryd/graphos/pkg/storage"
)

func TestEdgeWeight_ResolutionOrder(t *testing.T) {
	opts := DefaultOptions()

	// Explicit weight field wins.
	e := storage.NewEdge("a", "b", map[string]any{"weight": 9.0}, storage.WithWeight(2))
	assert.Equal(t, 2.0, EdgeWeight(e, opts))

	// Unset field falls through to the data property.
	e = storage.NewEdge("a", "b", map[string]any{"weight": 9.0})
	assert.Equal(t, 9.0, EdgeWeight(e, opts))

	// Integer property values coerce.
	e = storage.NewEdge("a", "b", map[string]any{"weight": 4})
	assert.Equal(t, 4.0, EdgeWeight(e, opts))

	// Non-numeric property falls through to the default.
	e = storage.NewEdge("a", "b", map[string]any{"weight": "heavy"})
	assert.Equal(t, 1.0, EdgeWeight(e, opts))

	// Alternate property name.
	opts.WeightProperty = "cost"
	e = storage.NewEdge("a", "b", map[string]any{"cost": 3.5})
	assert.Equal(t, 3.5, EdgeWeight(e, opts))

	// Nothing set at all: default.
	e = storage.NewEdge("a", "b", nil)
	opts.DefaultWeight = 7
	assert.Equal(t, 7.0, EdgeWeight(e, opts))
}

func TestNormalizeWeights(t *testing.T) {
	assert.Nil(t, NormalizeWeights(nil))

	got := NormalizeWeights([]float64{2, 4, 6})
	assert.Equal(t, []float64{0, 0.5, 1}, got)

	// Degenerate all-equal set maps to all zeros.
	got = NormalizeWeights([]float64{5, 5, 5})
	assert.Equal(t, []float64{0, 0, 0}, got)

	got = NormalizeWeights([]float64{-1, 1})
	assert.Equal(t, []float64{0, 1}, got)
}

func TestInvertWeights_Reciprocal(t *testing.T) {
	got := InvertWeights([]float64{1, 2, 4}, InvertReciprocal)
	assert.Equal(t, []float64{1, 0.5, 0.25}, got)

	// Non-positive weights map to the maximum inverted value.
	got = InvertWeights([]float64{0, 2, 4}, InvertReciprocal)
	assert.Equal(t, []float64{0.5, 0.5, 0.25}, got)
}

func TestInvertWeights_Subtract(t *testing.T) {
	got := InvertWeights([]float64{1, 3, 5}, InvertSubtract)
	assert.Equal(t, []float64{4, 2, 0}, got)
}
