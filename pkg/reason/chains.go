package reason

import (
	"context"
	"fmt"
	"sort"

	"github.com/orneryd/bifrost/pkg/linker"
	"github.com/orneryd/bifrost/pkg/storage"
)

const (
	// DefaultChainDepth bounds chain length in hops when the caller
	// leaves MaxDepth unset.
	DefaultChainDepth = 4

	// DefaultMaxChains bounds how many completed chains one call
	// collects when MaxChains is unset.
	DefaultMaxChains = 5

	// chainDepthCap is the hard ceiling on MaxDepth.
	chainDepthCap = 8
)

// ChainOptions scope one FindChains call.
type ChainOptions struct {
	SourceID storage.NodeID
	TargetID storage.NodeID

	// MaxDepth bounds chain length in hops. Zero or negative means
	// DefaultChainDepth; values above the cap are clamped.
	MaxDepth int

	// MaxChains bounds how many chains to collect. Zero or negative
	// means DefaultMaxChains.
	MaxChains int

	// Projects restricts which links may be traversed. Empty means all.
	Projects []storage.ProjectID
}

// Chain is one path from source to target through persisted active
// links. Nodes and Links are parallel: Links[i] connects Nodes[i] to
// Nodes[i+1].
type Chain struct {
	Nodes []storage.NodeID `json:"nodes"`
	Links []*storage.Link  `json:"links"`

	// CombinedConfidence is the product of the hop confidences.
	// Multiplicative composition means every weak hop weakens the whole
	// chain, matching how transitive confidence degrades.
	CombinedConfidence float64 `json:"combined_confidence"`
}

// FindChains searches the persisted link graph for paths from source to
// target, breadth first. The frontier holds partial paths; a path that
// would revisit one of its own nodes is pruned, so cycles in the
// backing graph cannot trap the search. Collection stops at MaxChains,
// frontier exhaustion, or MaxDepth hops.
//
// No connecting path within the depth bound yields an empty slice, not
// an error.
func (e *Engine) FindChains(ctx context.Context, opts ChainOptions) ([]Chain, error) {
	if opts.SourceID == "" {
		return nil, &linker.ValidationError{Field: "source_id", Reason: "required"}
	}
	if opts.TargetID == "" {
		return nil, &linker.ValidationError{Field: "target_id", Reason: "required"}
	}

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultChainDepth
	}
	if maxDepth > chainDepthCap {
		maxDepth = chainDepthCap
	}
	maxChains := opts.MaxChains
	if maxChains <= 0 {
		maxChains = DefaultMaxChains
	}

	projectSet := make(map[storage.ProjectID]struct{}, len(opts.Projects))
	for _, p := range opts.Projects {
		projectSet[p] = struct{}{}
	}

	type partial struct {
		nodes []storage.NodeID
		links []*storage.Link
		conf  float64
	}

	active := true
	frontier := []partial{{nodes: []storage.NodeID{opts.SourceID}, conf: 1}}
	var chains []Chain

	for len(frontier) > 0 && len(chains) < maxChains {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := frontier[0]
		frontier = frontier[1:]
		if len(path.links) >= maxDepth {
			continue
		}
		tail := path.nodes[len(path.nodes)-1]

		outgoing, err := e.links.QueryLinks(ctx, linker.LinkFilter{SourceID: tail, Active: &active})
		if err != nil {
			return nil, fmt.Errorf("chain expansion at %s: %w", tail, err)
		}
		// Expansion order by link id keeps runs reproducible; QueryLinks
		// orders by creation time.
		sort.Slice(outgoing, func(i, j int) bool { return outgoing[i].ID < outgoing[j].ID })

		for _, l := range outgoing {
			if len(projectSet) > 0 {
				if _, ok := projectSet[l.ProjectID]; !ok {
					continue
				}
			}
			next := l.TargetID
			if containsNode(path.nodes, next) {
				continue
			}

			nodes := make([]storage.NodeID, 0, len(path.nodes)+1)
			nodes = append(nodes, path.nodes...)
			nodes = append(nodes, next)
			links := make([]*storage.Link, 0, len(path.links)+1)
			links = append(links, path.links...)
			links = append(links, l)
			conf := path.conf * l.Confidence

			if next == opts.TargetID {
				chains = append(chains, Chain{
					Nodes:              nodes,
					Links:              links,
					CombinedConfidence: conf,
				})
				if len(chains) >= maxChains {
					break
				}
				continue
			}
			frontier = append(frontier, partial{nodes: nodes, links: links, conf: conf})
		}
	}

	sort.Slice(chains, func(i, j int) bool { return chainLess(chains[i], chains[j]) })
	return chains, nil
}

// chainLess orders by combined confidence descending, then fewer hops,
// then node sequence.
func chainLess(a, b Chain) bool {
	if a.CombinedConfidence != b.CombinedConfidence {
		return a.CombinedConfidence > b.CombinedConfidence
	}
	if len(a.Nodes) != len(b.Nodes) {
		return len(a.Nodes) < len(b.Nodes)
	}
	for i := range a.Nodes {
		if a.Nodes[i] != b.Nodes[i] {
			return a.Nodes[i] < b.Nodes[i]
		}
	}
	return false
}

func containsNode(nodes []storage.NodeID, id storage.NodeID) bool {
	for _, n := range nodes {
		if n == id {
			return true
		}
	}
	return false
}
