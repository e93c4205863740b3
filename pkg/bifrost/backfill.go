package bifrost

import (
	"context"
	"errors"
	"fmt"

	"github.com/orneryd/bifrost/pkg/linker"
	"github.com/orneryd/bifrost/pkg/storage"
	"github.com/orneryd/bifrost/pkg/suggest"
)

// BackfillOptions tunes a bulk linking pass.
type BackfillOptions struct {
	// TopK bounds suggestions per node. Zero or negative uses the
	// configured default.
	TopK int

	// Mode selects the labeling strategy. Empty means suggest.ModeMock.
	Mode suggest.Mode

	// Threshold overrides the similarity filter. Zero keeps the
	// configured default; negative disables it.
	Threshold float64

	// MinConfidence drops suggestions below this blended confidence
	// before any link is written.
	MinConfidence float64

	// AllowCycles skips the cycle guard when linking. Chain traversal
	// stays safe on cyclic graphs; the guard exists for callers that
	// want their relation graph acyclic.
	AllowCycles bool

	// DryRun counts what would be linked without writing anything.
	DryRun bool
}

// BackfillReport summarizes a backfill run. Per-item failures are
// counted and logged, never fatal.
type BackfillReport struct {
	// NodesProcessed is how many nodes produced a suggestion list.
	NodesProcessed int `json:"nodes_processed"`

	// NodesSkipped counts nodes without embeddings.
	NodesSkipped int `json:"nodes_skipped"`

	// LinksApplied counts upserted (or, in a dry run, would-be) links.
	LinksApplied int `json:"links_applied"`

	// LinksSkipped counts suggestions dropped for low confidence or a
	// rejected cycle.
	LinksSkipped int `json:"links_skipped"`

	// Failures counts per-item errors that were logged and skipped.
	Failures int `json:"failures"`
}

// BackfillLinks walks every node of a project, runs the suggestion
// pipeline, and upserts the surviving suggestions with auto-backfill
// provenance. Existing active links for a suggested tuple are updated
// in place, so repeating a backfill is idempotent.
//
// This is a batch path: individual node and link failures are counted
// in the report and logged, and the walk continues. Only storage-level
// failures and context cancellation abort the run.
func (db *DB) BackfillLinks(ctx context.Context, projectID storage.ProjectID, opts BackfillOptions) (*BackfillReport, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	if projectID == "" {
		return nil, fmt.Errorf("project id: %w", ErrInvalidInput)
	}

	nodes, err := db.engine.NodesByProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("loading project %s: %w", projectID, err)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = db.config.Suggest.TopK
	}

	report := &BackfillReport{}
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		suggestions, err := db.suggester.SuggestLinks(ctx, node.ID, suggest.Options{
			TopK:      topK,
			Mode:      opts.Mode,
			Threshold: opts.Threshold,
			Projects:  []storage.ProjectID{projectID},
		})
		if err != nil {
			if errors.Is(err, suggest.ErrMissingEmbedding) {
				report.NodesSkipped++
				continue
			}
			report.Failures++
			db.logger.Log("warn", "backfill suggestion failed", map[string]any{
				"node":  string(node.ID),
				"error": err.Error(),
			})
			continue
		}
		report.NodesProcessed++

		for _, s := range suggestions {
			if s.Confidence < opts.MinConfidence {
				report.LinksSkipped++
				continue
			}
			if opts.DryRun {
				report.LinksApplied++
				continue
			}

			confidence := s.Confidence
			rationale := s.Rationale
			_, err := db.links.UpsertLink(ctx, linker.LinkMatcher{
				ProjectID: projectID,
				SourceID:  node.ID,
				TargetID:  s.NodeID,
				Type:      s.Type,
			}, linker.LinkUpdates{
				Confidence: &confidence,
				Rationale:  &rationale,
				Method:     storage.ProvenanceAutoBackfill,
				AllowCycle: opts.AllowCycles,
			})
			if err != nil {
				if errors.Is(err, linker.ErrCycle) {
					report.LinksSkipped++
					continue
				}
				report.Failures++
				db.logger.Log("warn", "backfill upsert failed", map[string]any{
					"source": string(node.ID),
					"target": string(s.NodeID),
					"type":   string(s.Type),
					"error":  err.Error(),
				})
				continue
			}
			report.LinksApplied++
		}
	}

	db.logger.Log("info", "backfill complete", map[string]any{
		"project":   string(projectID),
		"processed": report.NodesProcessed,
		"skipped":   report.NodesSkipped,
		"applied":   report.LinksApplied,
		"failures":  report.Failures,
		"dry_run":   opts.DryRun,
	})
	return report, nil
}
