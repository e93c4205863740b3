package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}

	assert.InDelta(t, 0.9746318461970762, CosineSimilarity(a, b), 1e-9)
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-12)
	assert.Equal(t, 0.0, CosineSimilarity(a, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestCosineSimilarityAgreesWithSIMD(t *testing.T) {
	a := []float32{0.5, -0.25, 0.125, 0.75, -0.5, 0.3, 0.9, -0.1}
	b := []float32{-0.2, 0.4, 0.6, -0.8, 0.15, 0.35, -0.55, 0.7}

	precise := CosineSimilarity(a, b)
	fast := float64(CosineSimilaritySIMD(a, b))
	assert.InDelta(t, precise, fast, 1e-5)
}

func TestDotProduct(t *testing.T) {
	assert.InDelta(t, 32.0, DotProduct([]float32{1, 2, 3}, []float32{4, 5, 6}), 1e-6)
}

func TestEuclideanSimilarity(t *testing.T) {
	same := EuclideanSimilarity([]float32{1, 2}, []float32{1, 2})
	assert.InDelta(t, 1.0, same, 1e-6)

	far := EuclideanSimilarity([]float32{0, 0}, []float32{3, 4})
	assert.InDelta(t, 1.0/6.0, far, 1e-6)

	assert.Equal(t, 0.0, EuclideanSimilarity([]float32{1}, []float32{1, 2}))
}

func TestNormalize(t *testing.T) {
	original := []float32{3, 4}
	unit := Normalize(original)

	assert.Equal(t, []float32{3, 4}, original, "input must not be mutated")
	assert.InDelta(t, 0.6, float64(unit[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(unit[1]), 1e-6)

	var n float64
	for _, x := range unit {
		n += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(n), 1e-6)
}
