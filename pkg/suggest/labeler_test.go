package suggest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bifrost/pkg/linker"
	"github.com/orneryd/bifrost/pkg/storage"
)

func labelNode(id storage.NodeID) *storage.Node {
	return &storage.Node{ID: id, ProjectID: "proj-a"}
}

func TestMockLabelerDeterministic(t *testing.T) {
	m := NewMockLabeler()
	ctx := context.Background()

	a, b := labelNode("node-a"), labelNode("node-b")
	first, err := m.Label(ctx, a, b)
	require.NoError(t, err)
	second, err := m.Label(ctx, a, b)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, linker.ValidRelationType(first.Type))
	assert.NotEmpty(t, first.Rationale)
	assert.Zero(t, first.Confidence, "mock reports no model confidence")
}

func TestMockLabelerSpreadsOverTaxonomy(t *testing.T) {
	m := NewMockLabeler()
	ctx := context.Background()

	seen := map[storage.RelationType]bool{}
	for i := 0; i < 50; i++ {
		source := labelNode(storage.NodeID(fmt.Sprintf("s-%d", i)))
		target := labelNode(storage.NodeID(fmt.Sprintf("t-%d", i)))
		label, err := m.Label(ctx, source, target)
		require.NoError(t, err)
		require.True(t, linker.ValidRelationType(label.Type))
		seen[label.Type] = true
	}
	assert.GreaterOrEqual(t, len(seen), 3, "hash should spread pairs across the taxonomy")
}

func TestCapabilityLabelerCoercesUnknownType(t *testing.T) {
	c := NewCapabilityLabeler(func(ctx context.Context, source, target *storage.Node) (Label, error) {
		return Label{Type: "frenemies", Rationale: "model improvised", Confidence: 0.4}, nil
	})

	label, err := c.Label(context.Background(), labelNode("a"), labelNode("b"))
	require.NoError(t, err)
	assert.Equal(t, linker.RelationRelated, label.Type, "off-taxonomy labels coerce to related")
	assert.Equal(t, "model improvised", label.Rationale)
	assert.Equal(t, 0.4, label.Confidence)
}

func TestCapabilityLabelerPropagatesError(t *testing.T) {
	wantErr := errors.New("model offline")
	c := NewCapabilityLabeler(func(ctx context.Context, source, target *storage.Node) (Label, error) {
		return Label{}, wantErr
	})

	_, err := c.Label(context.Background(), labelNode("a"), labelNode("b"))
	assert.ErrorIs(t, err, wantErr)
}
