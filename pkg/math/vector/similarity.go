// Package vector provides vector math operations for Bifrost.
//
// This package consolidates the similarity and distance calculations used
// by the spatial index, the suggestion pipeline, and the reasoner. Use
// these functions instead of implementing your own to ensure consistency.
//
// Main Functions:
//   - CosineSimilarity: standard similarity for float32 vectors (most common)
//   - CosineSimilaritySIMD: SIMD-accelerated similarity for high-throughput scans
//   - DotProduct: dot product for float32 vectors
//   - EuclideanSimilarity: distance-based similarity in [0, 1]
//   - Normalize: returns a normalized copy of a vector
//   - NormalizeInPlace: normalizes a vector in place
package vector

import (
	"math"

	"github.com/orneryd/bifrost/pkg/simd"
)

// CosineSimilarity calculates cosine similarity between two float32 vectors.
// Returns a value in [-1, 1] where 1 = identical direction, 0 = orthogonal.
//
// This is the STANDARD implementation for scoring code. It accumulates in
// float64 for precision even with float32 inputs; similarity scores feed
// the float64 confidence domain downstream.
//
// Example:
//
//	a := []float32{1.0, 2.0, 3.0}
//	b := []float32{4.0, 5.0, 6.0}
//	sim := vector.CosineSimilarity(a, b) // 0.9746318461970762
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProd, normA, normB float64
	for i := range a {
		dotProd += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProd / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineSimilaritySIMD calculates cosine similarity using SIMD acceleration.
// Returns float32; slightly less accurate than CosineSimilarity due to
// float32 accumulation. Use in tight candidate-scan loops.
func CosineSimilaritySIMD(a, b []float32) float32 {
	return simd.CosineSimilarity(a, b)
}

// DotProduct calculates the dot product of two float32 vectors, returned
// as float64 for the scoring domain. For normalized vectors the dot
// product equals cosine similarity.
func DotProduct(a, b []float32) float64 {
	return float64(simd.DotProduct(a, b))
}

// EuclideanSimilarity calculates similarity from Euclidean distance as
// 1 / (1 + distance), in (0, 1] where 1 = identical.
func EuclideanSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	dist := simd.EuclideanDistance(a, b)
	return 1.0 / (1.0 + float64(dist))
}

// Normalize returns a unit-length copy of vec. The input is not modified.
// A zero vector is returned as a zero copy.
func Normalize(vec []float32) []float32 {
	return simd.Normalize(vec)
}

// NormalizeInPlace normalizes vec to unit length, modifying it.
func NormalizeInPlace(vec []float32) {
	simd.NormalizeInPlace(vec)
}
