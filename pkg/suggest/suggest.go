// Package suggest turns one source node into a ranked, explainable list
// of candidate relations.
//
// The pipeline runs in a fixed order: load the source node, prefilter
// candidates through the spatial index (which already scores the
// survivors with exact cosine similarity), drop candidates below the
// similarity threshold, assign a relation label, blend the confidence
// signals, and rank by a combined similarity and confidence score.
//
// Relation labeling is a strategy: ModeMock hashes the node id pair
// into the taxonomy for reproducible runs, ModeModel delegates to an
// external capability. A source node without an embedding fails with
// ErrMissingEmbedding rather than returning an empty list; the
// multi-hop reasoner is the one caller that downgrades that error, and
// it does so explicitly.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/orneryd/bifrost/pkg/linker"
	"github.com/orneryd/bifrost/pkg/spatial"
	"github.com/orneryd/bifrost/pkg/storage"
)

// ErrMissingEmbedding is returned when the source node exists but has
// no vector. Alias of the storage sentinel so callers can branch on
// either package's name.
var ErrMissingEmbedding = storage.ErrMissingEmbedding

const (
	// DefaultThreshold is the minimum exact similarity a candidate
	// must reach to survive filtering.
	DefaultThreshold = 0.78

	// DefaultPrefilterMultiple scales TopK for spatial retrieval, so
	// threshold filtering has slack to discard weak candidates without
	// starving the final ranking.
	DefaultPrefilterMultiple = 4

	// DefaultHalfLife controls the contextual-recency decay.
	DefaultHalfLife = 72 * time.Hour

	// DefaultTopK is the suggestion count callers get when they have no
	// opinion of their own.
	DefaultTopK = 10

	// snippetMaxChars bounds the text excerpt attached to each
	// suggestion.
	snippetMaxChars = 200
)

// Config tunes a suggestion Engine. Zero values mean defaults.
type Config struct {
	Threshold         float64
	PrefilterMultiple int
	HalfLife          time.Duration

	// Weights for the confidence blend. Zero value means the linker
	// defaults.
	Weights linker.Weights

	// Capability is the optional model-backed labeling function.
	// Without it, ModeModel calls fail.
	Capability LabelFunc

	Logger storage.Logger
}

// Engine is the suggestion pipeline over a spatial index and a backing
// engine. Safe for concurrent use: all state is set at construction.
type Engine struct {
	engine    storage.Engine
	index     *spatial.Index
	weights   linker.Weights
	mock      Labeler
	model     Labeler
	threshold float64
	prefilter int
	halfLife  time.Duration
	logger    storage.Logger
}

// New builds a suggestion Engine.
func New(engine storage.Engine, index *spatial.Index, cfg Config) *Engine {
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	prefilter := cfg.PrefilterMultiple
	if prefilter <= 0 {
		prefilter = DefaultPrefilterMultiple
	}
	halfLife := cfg.HalfLife
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	weights := cfg.Weights
	if weights.IsZero() {
		weights = linker.DefaultWeights()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = storage.NopLogger{}
	}

	e := &Engine{
		engine:    engine,
		index:     index,
		weights:   weights,
		mock:      NewMockLabeler(),
		threshold: threshold,
		prefilter: prefilter,
		halfLife:  halfLife,
		logger:    logger,
	}
	if cfg.Capability != nil {
		e.model = NewCapabilityLabeler(cfg.Capability)
	}
	return e
}

// Interaction is one entry of a caller's recent-interaction history,
// feeding the contextual-recency signal.
type Interaction struct {
	NodeID    storage.NodeID
	Timestamp time.Time
}

// Options scope one suggestion call.
type Options struct {
	// TopK bounds the result count. Zero or negative returns an empty
	// list without doing retrieval work.
	TopK int

	// Mode selects the labeling strategy. Empty means ModeMock.
	Mode Mode

	// Projects scopes candidate retrieval. Empty means the source
	// node's own project.
	Projects []storage.ProjectID

	// IncludeContextBias enables the contextual-recency signal from
	// ContextHistory.
	IncludeContextBias bool

	// ContextHistory is the caller's recent-interaction log. Order does
	// not matter; the most recent entry per node wins.
	ContextHistory []Interaction

	// Threshold overrides the engine similarity threshold. Zero keeps
	// the engine default; negative disables filtering.
	Threshold float64
}

// Suggestion is one ranked candidate relation. Produced fresh per call,
// never persisted or cached.
type Suggestion struct {
	NodeID    storage.NodeID       `json:"node_id"`
	ProjectID storage.ProjectID    `json:"project_id"`
	Type      storage.RelationType `json:"type"`
	Rationale string               `json:"rationale"`

	// Confidence is the blended multi-signal score.
	Confidence float64 `json:"confidence"`

	// Similarity is the raw exact cosine similarity.
	Similarity float64 `json:"similarity"`

	// Score is what the ranking sorts by: the mean of Similarity and
	// Confidence.
	Score float64 `json:"score"`

	// Signals is the per-signal breakdown behind Confidence.
	Signals linker.Signals `json:"signals"`

	// Snippet is the candidate's text, truncated for display.
	Snippet string `json:"snippet,omitempty"`

	// Depth is the hop count from the query origin. Direct suggestions
	// are depth 1; deeper values are set by the multi-hop reasoner.
	Depth int `json:"depth"`

	// Via lists intermediate hops for Depth > 1 results.
	Via []storage.NodeID `json:"via,omitempty"`
}

// SuggestLinks runs the pipeline for one source node and returns up to
// TopK candidates sorted by non-increasing score.
//
// The source node must exist and carry an embedding; an emptied
// candidate set after threshold filtering is an empty result, not an
// error.
func (e *Engine) SuggestLinks(ctx context.Context, sourceID storage.NodeID, opts Options) ([]Suggestion, error) {
	if opts.TopK <= 0 {
		return nil, nil
	}

	source, err := e.engine.GetNode(sourceID)
	if err != nil {
		return nil, fmt.Errorf("source node %s: %w", sourceID, err)
	}
	if len(source.Embedding) == 0 {
		return nil, fmt.Errorf("source node %s: %w", sourceID, ErrMissingEmbedding)
	}

	labeler, err := e.labelerFor(opts.Mode)
	if err != nil {
		return nil, err
	}

	projects := opts.Projects
	if len(projects) == 0 {
		projects = []storage.ProjectID{source.ProjectID}
	}
	threshold := e.threshold
	if opts.Threshold > 0 {
		threshold = opts.Threshold
	} else if opts.Threshold < 0 {
		threshold = math.Inf(-1)
	}

	candidates, err := e.index.SearchAcrossProjects(source.Embedding, spatial.SearchOptions{
		Projects:    projects,
		TopK:        e.prefilter * opts.TopK,
		LocalityKey: source.LocalityKey,
		Exclude:     sourceID,
	})
	if err != nil {
		return nil, fmt.Errorf("candidate retrieval for %s: %w", sourceID, err)
	}

	now := time.Now()
	suggestions := make([]Suggestion, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.Similarity < threshold {
			continue
		}

		target, err := e.engine.GetNode(c.NodeID)
		if err != nil {
			// Cache and store disagree; the store wins.
			e.logger.Log("warn", "candidate node not loadable, skipping", map[string]any{
				"node_id": string(c.NodeID),
				"error":   err.Error(),
			})
			continue
		}

		label, err := labeler.Label(ctx, source, target)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			e.logger.Log("warn", "labeling failed, skipping candidate", map[string]any{
				"source_id": string(sourceID),
				"target_id": string(c.NodeID),
				"error":     err.Error(),
			})
			continue
		}

		signals := linker.Signals{
			Semantic: c.Similarity,
			AI:       label.Confidence,
			Lexical:  linker.LexicalSimilarity(source.Text, target.Text),
		}
		if opts.IncludeContextBias {
			signals.Contextual = recencyBias(opts.ContextHistory, c.NodeID, now, e.halfLife)
		}
		confidence := linker.ComputeConfidence(signals, e.weights)

		rationale := label.Rationale
		if rationale == "" {
			rationale = fmt.Sprintf("embedding similarity %.2f", c.Similarity)
		}

		suggestions = append(suggestions, Suggestion{
			NodeID:     c.NodeID,
			ProjectID:  c.ProjectID,
			Type:       label.Type,
			Rationale:  rationale,
			Confidence: confidence,
			Similarity: c.Similarity,
			Score:      (c.Similarity + confidence) / 2,
			Signals:    signals,
			Snippet:    snippet(target.Text, snippetMaxChars),
			Depth:      1,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return suggestions[i].NodeID < suggestions[j].NodeID
	})
	if len(suggestions) > opts.TopK {
		suggestions = suggestions[:opts.TopK]
	}

	e.logger.Log("debug", "suggestion pipeline complete", map[string]any{
		"source_id":  string(sourceID),
		"candidates": len(candidates),
		"kept":       len(suggestions),
	})
	return suggestions, nil
}

func (e *Engine) labelerFor(mode Mode) (Labeler, error) {
	switch mode {
	case "", ModeMock:
		return e.mock, nil
	case ModeModel:
		if e.model == nil {
			return nil, errors.New("model labeling mode requires a configured capability")
		}
		return e.model, nil
	default:
		return nil, fmt.Errorf("unknown labeling mode %q", mode)
	}
}

// recencyBias maps the age of the most recent interaction with nodeID
// to exp(-age/halfLife). No interaction means zero, a signal the blend
// treats as absent.
func recencyBias(history []Interaction, nodeID storage.NodeID, now time.Time, halfLife time.Duration) float64 {
	var latest time.Time
	for _, h := range history {
		if h.NodeID == nodeID && h.Timestamp.After(latest) {
			latest = h.Timestamp
		}
	}
	if latest.IsZero() {
		return 0
	}
	age := now.Sub(latest)
	if age < 0 {
		age = 0
	}
	return math.Exp(-float64(age) / float64(halfLife))
}

// snippet truncates text to max runes.
func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
