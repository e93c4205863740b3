//go:build (amd64 || arm64) && !nosimd

package simd

import (
	"math"
	"runtime"

	"github.com/viterin/vek/vek32"
)

// Accelerated implementations backed by viterin/vek, which ships AVX2
// assembly on amd64 and NEON assembly on arm64 for float32 vectors.

func dotProduct(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Dot(a, b)
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	// vek32.CosineSimilarity returns NaN for zero vectors, we want 0
	result := vek32.CosineSimilarity(a, b)
	if math.IsNaN(float64(result)) {
		return 0
	}
	return result
}

func euclideanDistance(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Distance(a, b)
}

func norm(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return vek32.Norm(v)
}

func normalizeInPlace(v []float32) {
	if len(v) == 0 {
		return
	}
	n := vek32.Norm(v)
	if n == 0 {
		return
	}
	vek32.DivNumber_Inplace(v, n)
}

func runtimeInfo() RuntimeInfo {
	info := vek32.Info()
	impl := ImplGeneric
	if info.Acceleration {
		switch runtime.GOARCH {
		case "amd64":
			impl = ImplAVX2
		case "arm64":
			impl = ImplNEON
		}
	}
	return RuntimeInfo{
		Implementation: impl,
		Features:       info.CPUFeatures,
		Accelerated:    info.Acceleration,
	}
}
