package linker

import (
	"math"
	"testing"
)

func TestComputeConfidenceBlend(t *testing.T) {
	got := ComputeConfidence(Signals{
		Semantic:   0.9,
		AI:         0.8,
		Lexical:    0.6,
		Contextual: 0.5,
	}, DefaultWeights())

	if math.Abs(got-0.8) > 0.001 {
		t.Errorf("blend = %v, want 0.8 +/- 0.001", got)
	}
}

func TestComputeConfidenceAbsentSignals(t *testing.T) {
	// Absent signals contribute zero rather than failing.
	got := ComputeConfidence(Signals{Semantic: 0.9}, DefaultWeights())
	if math.Abs(got-0.45) > 1e-9 {
		t.Errorf("semantic-only blend = %v, want 0.45", got)
	}

	if got := ComputeConfidence(Signals{}, DefaultWeights()); got != 0 {
		t.Errorf("empty signals = %v, want 0", got)
	}
}

func TestComputeConfidenceClamps(t *testing.T) {
	tests := []struct {
		name string
		s    Signals
		want float64
	}{
		{"negative signals floor at zero", Signals{Semantic: -5, AI: -1}, 0},
		{"oversized signals cap at one", Signals{Semantic: 10, AI: 10, Lexical: 10, Contextual: 10}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeConfidence(tt.s, DefaultWeights())
			if got != tt.want {
				t.Errorf("ComputeConfidence = %v, want %v", got, tt.want)
			}
		})
	}

	// Heavy custom weights still cannot escape [0, 1].
	got := ComputeConfidence(Signals{Semantic: 1, AI: 1}, Weights{Semantic: 5, AI: 5})
	if got != 1 {
		t.Errorf("over-weighted blend = %v, want 1", got)
	}
}

func TestComputeConfidenceMonotonic(t *testing.T) {
	base := Signals{Semantic: 0.3, AI: 0.3, Lexical: 0.3, Contextual: 0.3}
	bump := func(s Signals, which int, v float64) Signals {
		switch which {
		case 0:
			s.Semantic = v
		case 1:
			s.AI = v
		case 2:
			s.Lexical = v
		default:
			s.Contextual = v
		}
		return s
	}

	for which := 0; which < 4; which++ {
		prev := ComputeConfidence(bump(base, which, 0), DefaultWeights())
		for v := 0.1; v <= 1.0; v += 0.1 {
			cur := ComputeConfidence(bump(base, which, v), DefaultWeights())
			if cur < prev {
				t.Errorf("signal %d: confidence decreased from %v to %v at input %v", which, prev, cur, v)
			}
			prev = cur
		}
	}
}

func TestLexicalSimilarityIdentity(t *testing.T) {
	for _, text := range []string{"graph databases", "ab", "x", "日本語テスト"} {
		if got := LexicalSimilarity(text, text); got != 1 {
			t.Errorf("LexicalSimilarity(%q, same) = %v, want 1", text, got)
		}
	}
}

func TestLexicalSimilarityEmpty(t *testing.T) {
	if got := LexicalSimilarity("", "anything"); got != 0 {
		t.Errorf("empty left = %v, want 0", got)
	}
	if got := LexicalSimilarity("anything", ""); got != 0 {
		t.Errorf("empty right = %v, want 0", got)
	}
	if got := LexicalSimilarity("", ""); got != 0 {
		t.Errorf("both empty = %v, want 0", got)
	}
}

func TestLexicalSimilarityCaseInsensitive(t *testing.T) {
	if got := LexicalSimilarity("Graph Databases", "graph databases"); got != 1 {
		t.Errorf("case variants = %v, want 1", got)
	}
}

func TestLexicalSimilaritySymmetric(t *testing.T) {
	a := "semantic reasoning over embeddings"
	b := "reasoning about semantic embeddings"
	if LexicalSimilarity(a, b) != LexicalSimilarity(b, a) {
		t.Error("similarity is not symmetric")
	}
}

func TestLexicalSimilarityOverlap(t *testing.T) {
	got := LexicalSimilarity("abcdef", "uvwxyz")
	if got != 0 {
		t.Errorf("disjoint texts = %v, want 0", got)
	}

	partial := LexicalSimilarity("graph store", "graph index")
	if partial <= 0 || partial >= 1 {
		t.Errorf("partial overlap = %v, want within (0, 1)", partial)
	}
}
