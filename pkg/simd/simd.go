package simd

// Implementation identifies the active SIMD backend.
type Implementation string

const (
	// ImplGeneric indicates the pure Go fallback (no SIMD).
	ImplGeneric Implementation = "generic"
	// ImplAVX2 indicates x86 AVX2 SIMD.
	ImplAVX2 Implementation = "avx2"
	// ImplNEON indicates ARM NEON SIMD.
	ImplNEON Implementation = "neon"
)

// RuntimeInfo describes the active SIMD implementation.
type RuntimeInfo struct {
	// Implementation is the active backend.
	Implementation Implementation
	// Features lists CPU features in use.
	Features []string
	// Accelerated reports whether SIMD acceleration is active.
	Accelerated bool
}

// DotProduct computes the dot product of two float32 vectors.
//
// Returns 0 if the vectors are empty or differ in length.
//
// Example:
//
//	a := []float32{1, 2, 3}
//	b := []float32{4, 5, 6}
//	result := simd.DotProduct(a, b) // 1*4 + 2*5 + 3*6 = 32
func DotProduct(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return dotProduct(a, b)
}

// CosineSimilarity computes the cosine similarity between two float32
// vectors, in [-1, 1] where 1 means same direction and 0 orthogonal.
//
// Returns 0 if the vectors are empty, differ in length, or either has
// zero magnitude.
//
// Example:
//
//	a := []float32{1, 0, 0}
//	b := []float32{0, 1, 0}
//	result := simd.CosineSimilarity(a, b) // 0 (perpendicular)
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return cosineSimilarity(a, b)
}

// EuclideanDistance computes the straight-line distance between two
// float32 vectors: sqrt(sum((a[i] - b[i])^2)).
//
// Returns 0 if the vectors are empty or differ in length.
func EuclideanDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return euclideanDistance(a, b)
}

// Norm computes the Euclidean norm (L2 norm) of a float32 vector.
//
// Example:
//
//	v := []float32{3, 4}
//	result := simd.Norm(v) // 5.0
func Norm(v []float32) float32 {
	return norm(v)
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged (as a copy).
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	normalizeInPlace(out)
	return out
}

// NormalizeInPlace scales v to unit length, modifying it in place.
// A zero vector is left unchanged.
func NormalizeInPlace(v []float32) {
	normalizeInPlace(v)
}

// Info reports which SIMD backend is active.
func Info() RuntimeInfo {
	return runtimeInfo()
}

// BatchCosineSimilarity scores one query vector against a contiguous batch
// of candidate vectors. This is the hot path of the spatial prefilter's
// exact-scoring step.
//
// Parameters:
//   - embeddings: contiguous [numVectors × dimensions] float32
//   - query: single query vector of [dimensions] float32
//   - scores: output array of at least numVectors float32
func BatchCosineSimilarity(embeddings []float32, query []float32, scores []float32) {
	dimensions := len(query)
	if dimensions == 0 {
		return
	}
	numVectors := len(embeddings) / dimensions
	if numVectors == 0 || len(scores) < numVectors {
		return
	}
	for i := 0; i < numVectors; i++ {
		start := i * dimensions
		scores[i] = CosineSimilarity(embeddings[start:start+dimensions], query)
	}
}
