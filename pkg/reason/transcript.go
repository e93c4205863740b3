package reason

import (
	"strings"
	"time"

	"github.com/orneryd/bifrost/pkg/storage"
	"github.com/orneryd/bifrost/pkg/suggest"
)

// Transcript summarizes one inference outcome for audit or display.
type Transcript struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Total       int              `json:"total"`
	ByDepth     map[int]int      `json:"by_depth"`
	Items       []TranscriptItem `json:"items"`
}

// TranscriptItem is one inferred relation, flattened for display.
type TranscriptItem struct {
	NodeID     storage.NodeID       `json:"node_id"`
	Type       storage.RelationType `json:"type"`
	Confidence float64              `json:"confidence"`
	Depth      int                  `json:"depth"`
	Via        []storage.NodeID     `json:"via,omitempty"`
	Rationale  string               `json:"rationale"`
}

// ReasoningTranscript summarizes inferred relations. Pure: no I/O, no
// mutation of the input.
func ReasoningTranscript(relations []suggest.Suggestion) Transcript {
	t := Transcript{
		GeneratedAt: time.Now(),
		Total:       len(relations),
		ByDepth:     make(map[int]int, 4),
		Items:       make([]TranscriptItem, 0, len(relations)),
	}
	for _, r := range relations {
		t.ByDepth[r.Depth]++
		t.Items = append(t.Items, TranscriptItem{
			NodeID:     r.NodeID,
			Type:       r.Type,
			Confidence: r.Confidence,
			Depth:      r.Depth,
			Via:        r.Via,
			Rationale:  r.Rationale,
		})
	}
	return t
}

// ChainReport summarizes discovered chains.
type ChainReport struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Total       int               `json:"total"`
	Strongest   float64           `json:"strongest"`
	Items       []ChainReportItem `json:"items"`
}

// ChainReportItem is one chain, flattened for display.
type ChainReportItem struct {
	Route              string                 `json:"route"`
	Hops               int                    `json:"hops"`
	CombinedConfidence float64                `json:"combined_confidence"`
	Relations          []storage.RelationType `json:"relations"`
}

// ChainTranscript summarizes chains. Pure: no I/O, no mutation of the
// input.
func ChainTranscript(chains []Chain) ChainReport {
	report := ChainReport{
		GeneratedAt: time.Now(),
		Total:       len(chains),
		Items:       make([]ChainReportItem, 0, len(chains)),
	}
	for _, c := range chains {
		if c.CombinedConfidence > report.Strongest {
			report.Strongest = c.CombinedConfidence
		}
		report.Items = append(report.Items, ChainReportItem{
			Route:              routeString(c.Nodes),
			Hops:               len(c.Links),
			CombinedConfidence: c.CombinedConfidence,
			Relations:          chainRelations(c.Links),
		})
	}
	return report
}

func routeString(nodes []storage.NodeID) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = string(n)
	}
	return strings.Join(parts, " -> ")
}

func chainRelations(links []*storage.Link) []storage.RelationType {
	out := make([]storage.RelationType, len(links))
	for i, l := range links {
		out[i] = l.Type
	}
	return out
}
