package linker

import "strings"

// Signals carries the independent relevance signals that blend into a
// link confidence. Each signal is optional; an absent signal is simply
// zero and contributes nothing.
type Signals struct {
	// Semantic is the exact cosine similarity of the two embeddings.
	Semantic float64

	// AI is the external labeler's own confidence, when present.
	AI float64

	// Lexical is the tri-gram Jaccard similarity of the two texts.
	Lexical float64

	// Contextual is the recency bias from recent interaction history.
	Contextual float64
}

// Weights are the blend coefficients for each signal.
type Weights struct {
	Semantic   float64 `yaml:"semantic" json:"semantic"`
	AI         float64 `yaml:"ai" json:"ai"`
	Lexical    float64 `yaml:"lexical" json:"lexical"`
	Contextual float64 `yaml:"contextual" json:"contextual"`
}

// DefaultWeights returns the standard blend: semantic similarity
// dominates, the labeler's judgment refines, lexical overlap and
// recency nudge.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.5, AI: 0.3, Lexical: 0.1, Contextual: 0.1}
}

// IsZero reports whether no weight is set, which callers treat as
// "use defaults".
func (w Weights) IsZero() bool {
	return w.Semantic == 0 && w.AI == 0 && w.Lexical == 0 && w.Contextual == 0
}

// ComputeConfidence blends the signals into a confidence in [0, 1].
//
// Each signal is clamped to [0, 1] before weighting, and the blended
// result is clamped again, so out-of-range inputs can never push the
// confidence outside its domain. Holding three signals fixed, the
// result is monotonic non-decreasing in the fourth.
func ComputeConfidence(s Signals, w Weights) float64 {
	v := w.Semantic*clamp01(s.Semantic) +
		w.AI*clamp01(s.AI) +
		w.Lexical*clamp01(s.Lexical) +
		w.Contextual*clamp01(s.Contextual)
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// LexicalSimilarity is the tri-gram Jaccard similarity of two texts:
// the overlap of their 3-character shingle sets over the union,
// computed on lower-cased runes.
//
// Identical non-empty texts score 1 even when they are too short to
// shingle; an empty text on either side scores 0.
func LexicalSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	la := strings.ToLower(a)
	lb := strings.ToLower(b)
	if la == lb {
		return 1
	}

	sa := shingles(la)
	sb := shingles(lb)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}

	intersection := 0
	for sh := range sa {
		if _, ok := sb[sh]; ok {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// shingles returns the set of 3-rune windows of s.
func shingles(s string) map[string]struct{} {
	runes := []rune(s)
	if len(runes) < 3 {
		return nil
	}
	out := make(map[string]struct{}, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = struct{}{}
	}
	return out
}
