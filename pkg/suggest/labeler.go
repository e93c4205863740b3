package suggest

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/bifrost/pkg/linker"
	"github.com/orneryd/bifrost/pkg/storage"
)

// Label is a relation assignment for one candidate pair.
type Label struct {
	Type      storage.RelationType
	Rationale string

	// Confidence is an optional model-reported score in [0, 1]. It
	// feeds the ai signal of the confidence blend. The mock labeler
	// reports none.
	Confidence float64
}

// Labeler assigns a relation type to an ordered node pair. The pipeline
// selects one implementation per call: deterministic mock or the
// external model capability.
type Labeler interface {
	Label(ctx context.Context, source, target *storage.Node) (Label, error)
}

// Mode selects the labeling strategy for one suggestion call.
type Mode string

const (
	// ModeMock labels deterministically from the node id pair. Same
	// pair, same label, every run.
	ModeMock Mode = "mock"

	// ModeModel delegates to the configured labeling capability.
	ModeModel Mode = "model"
)

// MockLabeler derives a relation type from a hash of the ordered id
// pair, so runs are reproducible without a model behind them.
type MockLabeler struct {
	types []storage.RelationType
}

// NewMockLabeler returns a labeler over the full relation taxonomy.
func NewMockLabeler() *MockLabeler {
	return &MockLabeler{types: linker.RelationTypes()}
}

// Label hashes source.ID and target.ID into a taxonomy entry.
func (m *MockLabeler) Label(_ context.Context, source, target *storage.Node) (Label, error) {
	sum := blake2b.Sum256([]byte(string(source.ID) + "\x00" + string(target.ID)))
	idx := binary.BigEndian.Uint64(sum[:8]) % uint64(len(m.types))
	t := m.types[idx]
	return Label{
		Type:      t,
		Rationale: fmt.Sprintf("mock label %q for pair %s -> %s", t, source.ID, target.ID),
	}, nil
}

// LabelFunc is the external labeling capability: given two nodes,
// return a relation type and a rationale. May be slow or fail; the
// pipeline treats per-candidate failures as skips, not call failures.
type LabelFunc func(ctx context.Context, source, target *storage.Node) (Label, error)

// CapabilityLabeler adapts a LabelFunc into a Labeler and keeps its
// output inside the relation taxonomy.
type CapabilityLabeler struct {
	fn LabelFunc
}

// NewCapabilityLabeler wraps an external labeling function.
func NewCapabilityLabeler(fn LabelFunc) *CapabilityLabeler {
	return &CapabilityLabeler{fn: fn}
}

// Label invokes the capability. An off-taxonomy relation type is
// coerced to "related" rather than rejected, so a drifting model cannot
// produce links the graph store would refuse.
func (c *CapabilityLabeler) Label(ctx context.Context, source, target *storage.Node) (Label, error) {
	label, err := c.fn(ctx, source, target)
	if err != nil {
		return Label{}, fmt.Errorf("labeling capability: %w", err)
	}
	if !linker.ValidRelationType(label.Type) {
		label.Type = linker.RelationRelated
	}
	return label, nil
}
