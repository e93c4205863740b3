// Package reason adds multi-hop inference and two-endpoint chain
// discovery on top of the suggestion pipeline and the relation graph
// store.
//
// InferRelations widens a suggestion search hop by hop: candidates
// confident enough to trust become the next hop's sources, results
// carry their hop depth and via-chain, and a per-call visited set
// keeps the exploration from circling. FindChains answers the other
// question, "how do these two nodes connect through links that already
// exist", with a breadth-first search over persisted active links.
//
// Both traversals carry their own termination budgets (visited sets,
// depth bounds, chain counts, per-node link budgets) as explicit state.
// Nothing here relies on an external timer to stop a runaway search.
package reason

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/orneryd/bifrost/pkg/linker"
	"github.com/orneryd/bifrost/pkg/storage"
	"github.com/orneryd/bifrost/pkg/suggest"
)

const (
	// DefaultHopConfidence is the minimum blended confidence a
	// candidate needs before the next hop explores from it.
	DefaultHopConfidence = 0.5

	// maxInferDepth caps multi-hop widening regardless of what the
	// caller asks for.
	maxInferDepth = 5
)

// Config tunes a reasoning Engine. Zero values mean defaults.
type Config struct {
	// HopConfidence gates hop expansion during InferRelations.
	HopConfidence float64

	Logger storage.Logger
}

// Engine performs cross-project reasoning over a suggestion pipeline
// and a relation graph store.
type Engine struct {
	suggester     *suggest.Engine
	links         *linker.Store
	hopConfidence float64
	logger        storage.Logger
}

// New builds a reasoning Engine.
func New(suggester *suggest.Engine, links *linker.Store, cfg Config) *Engine {
	hop := cfg.HopConfidence
	if hop <= 0 {
		hop = DefaultHopConfidence
	}
	logger := cfg.Logger
	if logger == nil {
		logger = storage.NopLogger{}
	}
	return &Engine{
		suggester:     suggester,
		links:         links,
		hopConfidence: hop,
		logger:        logger,
	}
}

// InferOptions scope one InferRelations call.
type InferOptions struct {
	StartNodeID storage.NodeID

	// Projects scopes every hop's candidate retrieval. Empty means each
	// hop source's own project.
	Projects []storage.ProjectID

	// Depth is the hop bound. Zero or negative means one hop; values
	// above the internal cap are clamped.
	Depth int

	// TopK bounds both the per-hop retrieval and the merged result.
	// Zero or negative returns an empty result without searching.
	TopK int

	// Mode selects the labeling strategy for every hop.
	Mode suggest.Mode

	// Threshold overrides the similarity threshold for every hop.
	Threshold float64
}

// InferenceResult is the merged outcome of one InferRelations call.
type InferenceResult struct {
	// Relations across all hop depths, sorted by confidence descending
	// and truncated to TopK.
	Relations []suggest.Suggestion `json:"relations"`

	// SkippedSources counts deeper-hop sources dropped because their
	// stored node no longer carries an embedding. Hop-1 failures are
	// errors, not skips.
	SkippedSources int `json:"skipped_sources"`
}

// InferRelations runs the suggestion pipeline at hop 1 and, for deeper
// depths, re-runs it from each candidate whose confidence clears the
// hop gate. Results are tagged with their hop depth and via-chain,
// merged across depths, and truncated to TopK.
//
// A node visited once in this call is never revisited or re-expanded.
func (e *Engine) InferRelations(ctx context.Context, opts InferOptions) (*InferenceResult, error) {
	result := &InferenceResult{}
	if opts.TopK <= 0 {
		return result, nil
	}

	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}
	if depth > maxInferDepth {
		depth = maxInferDepth
	}

	type hopSource struct {
		nodeID storage.NodeID
		via    []storage.NodeID
	}

	visited := map[storage.NodeID]struct{}{opts.StartNodeID: {}}
	frontier := []hopSource{{nodeID: opts.StartNodeID}}

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []hopSource
		for _, src := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			suggestions, err := e.suggester.SuggestLinks(ctx, src.nodeID, suggest.Options{
				TopK:      opts.TopK,
				Mode:      opts.Mode,
				Projects:  opts.Projects,
				Threshold: opts.Threshold,
			})
			if err != nil {
				// Deeper hops tolerate sources whose embedding has gone
				// missing since retrieval; the first hop does not.
				if hop > 1 && errors.Is(err, suggest.ErrMissingEmbedding) {
					result.SkippedSources++
					e.logger.Log("debug", "hop source missing embedding, skipped", map[string]any{
						"node_id": string(src.nodeID),
						"hop":     hop,
					})
					continue
				}
				return nil, fmt.Errorf("hop %d from %s: %w", hop, src.nodeID, err)
			}

			for _, s := range suggestions {
				if _, seen := visited[s.NodeID]; seen {
					continue
				}
				visited[s.NodeID] = struct{}{}

				s.Depth = hop
				s.Via = append([]storage.NodeID(nil), src.via...)
				result.Relations = append(result.Relations, s)

				if hop < depth && s.Confidence >= e.hopConfidence {
					via := make([]storage.NodeID, 0, len(src.via)+1)
					via = append(via, src.via...)
					via = append(via, s.NodeID)
					next = append(next, hopSource{nodeID: s.NodeID, via: via})
				}
			}
		}
		frontier = next
	}

	sort.Slice(result.Relations, func(i, j int) bool {
		a, b := result.Relations[i], result.Relations[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.NodeID < b.NodeID
	})
	if len(result.Relations) > opts.TopK {
		result.Relations = result.Relations[:opts.TopK]
	}
	return result, nil
}
