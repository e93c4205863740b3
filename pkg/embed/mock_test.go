package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bifrost/pkg/math/vector"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	m := NewMockEmbedder(128)
	ctx := context.Background()

	a1, err := m.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	a2, err := m.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)

	assert.Equal(t, a1, a2, "same text must produce the identical vector")
	assert.Len(t, a1, 128)
}

func TestMockEmbedderUnitLength(t *testing.T) {
	m := NewMockEmbedder(0)
	assert.Equal(t, DefaultMockDimensions, m.Dimensions())

	vec, err := m.Embed(context.Background(), "normalization check")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vector.CosineSimilarity(vec, vec), 1e-6)
}

func TestMockEmbedderSimilarTextsAreCloser(t *testing.T) {
	m := NewMockEmbedder(256)
	ctx := context.Background()

	base, err := m.Embed(ctx, "graph databases store relationships")
	require.NoError(t, err)
	near, err := m.Embed(ctx, "graph databases store relations")
	require.NoError(t, err)
	far, err := m.Embed(ctx, "zebra xylophone quantum")
	require.NoError(t, err)

	simNear := vector.CosineSimilarity(base, near)
	simFar := vector.CosineSimilarity(base, far)
	assert.Greater(t, simNear, simFar,
		"overlapping shingles should score higher than disjoint text")
}

func TestMockEmbedderEmptyText(t *testing.T) {
	m := NewMockEmbedder(64)
	_, err := m.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestMockEmbedderShortText(t *testing.T) {
	m := NewMockEmbedder(64)
	vec, err := m.Embed(context.Background(), "ab")
	require.NoError(t, err)
	assert.Len(t, vec, 64)
}

func TestMockEmbedderBatch(t *testing.T) {
	m := NewMockEmbedder(64)
	ctx := context.Background()

	vecs, err := m.EmbedBatch(ctx, []string{"first", "second", "third"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := m.Embed(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1], "batch order must match input order")

	_, err = m.EmbedBatch(ctx, []string{"ok", ""})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestMockEmbedderCancelledContext(t *testing.T) {
	m := NewMockEmbedder(64)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Embed(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}
