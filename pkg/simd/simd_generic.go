//go:build (!amd64 && !arm64) || nosimd

package simd

import "math"

// Portable fallback implementations. Float64 accumulation keeps precision
// acceptable for long vectors even without SIMD.

func dotProduct(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func euclideanDistance(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

func norm(v []float32) float32 {
	var sum float64
	for i := range v {
		sum += float64(v[i]) * float64(v[i])
	}
	return float32(math.Sqrt(sum))
}

func normalizeInPlace(v []float32) {
	n := norm(v)
	if n == 0 {
		return
	}
	inv := 1.0 / n
	for i := range v {
		v[i] *= inv
	}
}

func runtimeInfo() RuntimeInfo {
	return RuntimeInfo{
		Implementation: ImplGeneric,
		Features:       []string{"scalar"},
		Accelerated:    false,
	}
}
