// Package simd provides SIMD-accelerated vector operations for Bifrost.
//
// This package implements the similarity kernels used by the spatial
// embedding index and the suggestion pipeline:
//
//   - amd64: AVX2 assembly via viterin/vek (Intel Haswell+, AMD Zen+)
//   - arm64: NEON assembly via viterin/vek (Apple Silicon, ARM servers)
//   - fallback: pure Go with float64 accumulation for all other platforms
//
// The implementation is selected at build time; no configuration is
// required. Build with -tags nosimd to force the portable fallback.
//
// # Supported Operations
//
//   - DotProduct: dot product of two vectors
//   - CosineSimilarity: cosine similarity between two vectors
//   - EuclideanDistance: Euclidean distance between two vectors
//   - Norm: Euclidean norm (L2 norm / magnitude) of a vector
//   - Normalize / NormalizeInPlace: scale a vector to unit length
//   - BatchCosineSimilarity: score one query against many candidates
//
// # Usage
//
//	import "github.com/orneryd/bifrost/pkg/simd"
//
//	a := []float32{1.0, 2.0, 3.0, 4.0}
//	b := []float32{5.0, 6.0, 7.0, 8.0}
//
//	sim := simd.CosineSimilarity(a, b)
//
//	info := simd.Info()
//	fmt.Printf("SIMD: %s (%v)\n", info.Implementation, info.Features)
//
// # Thread Safety
//
// All functions are safe for concurrent use; none mutate global state.
package simd
