package spatial

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/bifrost/pkg/simd"
	"github.com/orneryd/bifrost/pkg/storage"
)

const (
	// localityAxes is the number of projection axes. Each axis
	// contributes bitsPerAxis bits to the interleaved key.
	localityAxes = 4

	// bitsPerAxis is the quantization resolution per axis.
	bitsPerAxis = 8

	// keyBits is the total key width. 4 axes x 8 bits = 32 bits,
	// rendered as 8 hex characters.
	keyBits = localityAxes * bitsPerAxis

	// KeyWidth is the fixed hex-character width of every locality key.
	// Fixed width keeps lexicographic and numeric ordering identical,
	// which the storage range scans rely on.
	KeyWidth = keyBits / 4

	// DefaultRangeRadius is the numeric half-width of the key range
	// scanned around a query key. Power of two so the scan frees whole
	// low-order bit groups of the Z-order curve.
	DefaultRangeRadius uint64 = 1 << 16
)

// maxKey is the largest encodable key value.
const maxKey = uint64(1)<<keyBits - 1

// axisSeedLabel versions the projection so persisted keys stay valid
// across releases. Changing the projection invalidates stored keys.
const axisSeedLabel = "bifrost/locality/v1"

// KeyMaker derives locality keys from embeddings of a fixed dimension.
//
// The derivation is deterministic: axes are pseudo-random unit vectors
// expanded from BLAKE2b digests of a versioned label, so the same
// embedding always yields the same key, across processes and restarts.
//
// Construction: the embedding is projected onto each axis (cosine, so
// un-normalized inputs behave), each coordinate is quantized to
// 2^bitsPerAxis buckets, and the bucket bits are interleaved
// most-significant-first into a Z-order value rendered as fixed-width
// hex.
type KeyMaker struct {
	dims int
	axes [][]float32
}

// NewKeyMaker builds a key maker for embeddings of the given dimension.
func NewKeyMaker(dims int) (*KeyMaker, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("locality: dimensions must be positive, got %d", dims)
	}
	return &KeyMaker{dims: dims, axes: buildAxes(dims)}, nil
}

func buildAxes(dims int) [][]float32 {
	axes := make([][]float32, localityAxes)
	for a := range axes {
		axes[a] = axisVector(dims, a)
	}
	return axes
}

// axisVector expands BLAKE2b digests into a deterministic unit vector.
// Each 32-byte block covers 8 coordinates; blocks are labeled by axis,
// dimension count, and block index so no two axes correlate.
func axisVector(dims, axis int) []float32 {
	out := make([]float32, dims)
	for i, block := 0, 0; i < dims; block++ {
		label := fmt.Sprintf("%s:axis=%d:dims=%d:block=%d", axisSeedLabel, axis, dims, block)
		sum := blake2b.Sum256([]byte(label))
		for k := 0; k+4 <= len(sum) && i < dims; k += 4 {
			u := binary.LittleEndian.Uint32(sum[k : k+4])
			out[i] = float32(u)/float32(math.MaxUint32)*2 - 1
			i++
		}
	}
	simd.NormalizeInPlace(out)
	return out
}

// Dimensions returns the embedding dimension this key maker expects.
func (k *KeyMaker) Dimensions() int {
	return k.dims
}

// Key derives the locality key for an embedding.
func (k *KeyMaker) Key(embedding []float32) (string, error) {
	if len(embedding) != k.dims {
		return "", fmt.Errorf("locality key: embedding has %d dimensions, want %d: %w",
			len(embedding), k.dims, storage.ErrDimensionMismatch)
	}

	const buckets = 1 << bitsPerAxis
	coords := make([]uint64, localityAxes)
	for a, axis := range k.axes {
		// Cosine keeps the coordinate in [-1, 1] for any input norm.
		c := simd.CosineSimilarity(embedding, axis)
		q := int(((c + 1) / 2) * buckets)
		if q < 0 {
			q = 0
		}
		if q >= buckets {
			q = buckets - 1
		}
		coords[a] = uint64(q)
	}

	// Z-order interleave, most significant bits first, so close
	// positions on every axis produce numerically close keys.
	var z uint64
	for b := bitsPerAxis - 1; b >= 0; b-- {
		for a := 0; a < localityAxes; a++ {
			z = z<<1 | (coords[a]>>uint(b))&1
		}
	}
	return formatKey(z), nil
}

// RangeAround returns the inclusive [lo, hi] key range covering
// key +/- radius, saturating at the key space bounds.
func RangeAround(key string, radius uint64) (lo, hi string, err error) {
	v, err := strconv.ParseUint(key, 16, 64)
	if err != nil || v > maxKey {
		return "", "", fmt.Errorf("locality key %q is not a valid key: %w", key, storage.ErrInvalidData)
	}
	if radius > maxKey {
		radius = maxKey
	}

	loV := uint64(0)
	if v > radius {
		loV = v - radius
	}
	hiV := maxKey
	if v <= maxKey-radius {
		hiV = v + radius
	}
	return formatKey(loV), formatKey(hiV), nil
}

func formatKey(v uint64) string {
	return fmt.Sprintf("%0*x", KeyWidth, v)
}
