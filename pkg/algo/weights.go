package algo

import (
	"math"

	"github.com/orneryd/graphos/pkg/storage"
)

// EdgeWeight resolves an edge's numeric weight.
//
// Resolution order:
//  1. the explicit weight field, if set (non-zero)
//  2. data[weight_property], if numeric
//  3. the default weight
func EdgeWeight(e *storage.Edge, opts Options) float64 {
	opts = opts.normalize()
	if e.Weight != 0 {
		return e.Weight
	}
	if v, ok := e.Data[opts.WeightProperty]; ok {
		if f, numeric := storage.ToFloat(v); numeric {
			return f
		}
	}
	return opts.DefaultWeight
}

// NormalizeWeights maps values into [0,1] by min-max scaling.
// A degenerate all-equal set maps to all zeros.
func NormalizeWeights(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(values))
	if max == min {
		return out
	}
	span := max - min
	for i, v := range values {
		out[i] = (v - min) / span
	}
	return out
}

// InversionMode selects how InvertWeights turns costs into scores.
type InversionMode string

const (
	// InvertReciprocal maps w to 1/w; non-positive weights map to the
	// maximum inverted value of the set.
	InvertReciprocal InversionMode = "reciprocal"
	// InvertSubtract maps w to max-w.
	InvertSubtract InversionMode = "subtract"
)

// InvertWeights flips the ordering of a weight set so that small costs
// become large scores.
func InvertWeights(values []float64, mode InversionMode) []float64 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float64, len(values))
	switch mode {
	case InvertSubtract:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		for i, v := range values {
			out[i] = max - v
		}
	default: // reciprocal
		maxInv := 0.0
		for _, v := range values {
			if v > 0 {
				if inv := 1 / v; inv > maxInv {
					maxInv = inv
				}
			}
		}
		if maxInv == 0 {
			maxInv = math.Inf(1)
		}
		for i, v := range values {
			if v > 0 {
				out[i] = 1 / v
			} else {
				out[i] = maxInv
			}
		}
	}
	return out
}
