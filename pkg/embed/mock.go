package embed

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/bifrost/pkg/simd"
)

// DefaultMockDimensions is the vector length MockEmbedder produces unless
// configured otherwise.
const DefaultMockDimensions = 512

// featuresPerShingle is how many vector positions each 3-character shingle
// contributes to. More features smooth the vector; 8 keeps Embed cheap.
const featuresPerShingle = 8

// MockEmbedder produces deterministic pseudo-embeddings from text using
// feature hashing over 3-character shingles: each shingle is hashed with
// BLAKE2b and scattered into a handful of vector positions, then the
// accumulated vector is normalized to unit length.
//
// The same text always yields the same vector, and texts sharing many
// shingles yield nearby vectors, so locality-key and similarity plumbing
// can be exercised without a model. The vectors carry no real semantics.
type MockEmbedder struct {
	dims int
}

// NewMockEmbedder returns a MockEmbedder producing vectors of the given
// dimensionality. Non-positive dims falls back to DefaultMockDimensions.
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = DefaultMockDimensions
	}
	return &MockEmbedder{dims: dims}
}

// Embed returns the deterministic pseudo-embedding for text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, m.dims)
	for _, shingle := range shingles(strings.ToLower(trimmed)) {
		sum := blake2b.Sum256([]byte(shingle))
		for k := 0; k < featuresPerShingle; k++ {
			word := binary.LittleEndian.Uint32(sum[k*4 : k*4+4])
			idx := int(word>>1) % m.dims
			if word&1 == 0 {
				vec[idx] += 1
			} else {
				vec[idx] -= 1
			}
		}
	}

	simd.NormalizeInPlace(vec)
	return vec, nil
}

// EmbedBatch embeds each text in order, failing on the first error.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

// Dimensions reports the configured vector length.
func (m *MockEmbedder) Dimensions() int {
	return m.dims
}

// Model identifies this embedder in logs and stats.
func (m *MockEmbedder) Model() string {
	return fmt.Sprintf("mock-trigram-%d", m.dims)
}

// shingles splits text into overlapping 3-character chunks. Texts shorter
// than 3 characters produce a single shingle of the whole text.
func shingles(text string) []string {
	runes := []rune(text)
	if len(runes) < 3 {
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}
