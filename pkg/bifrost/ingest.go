package bifrost

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/bifrost/pkg/storage"
)

// NodeDraft is the ingest input: text plus whatever the caller already
// has. Missing ids are minted, missing embeddings are computed by the
// configured embedder.
type NodeDraft struct {
	ID        storage.NodeID
	Title     string
	Text      string
	Embedding []float32
}

// IngestNodes embeds, keys, persists, and indexes a batch of drafts
// into one project. Re-ingesting an existing id replaces the node,
// giving it a fresh embedding and locality key.
//
// The batch is all-or-nothing up to the failing draft: an embedding or
// storage error aborts the call, and the project index is only
// refreshed after every draft persisted. Returns the stored nodes in
// input order.
func (db *DB) IngestNodes(ctx context.Context, projectID storage.ProjectID, drafts []*NodeDraft) ([]*storage.Node, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if projectID == "" {
		return nil, fmt.Errorf("project id: %w", ErrInvalidInput)
	}
	if len(drafts) == 0 {
		return nil, nil
	}

	keys := db.index.KeyMaker()
	stored := make([]*storage.Node, 0, len(drafts))
	for i, draft := range drafts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if draft == nil {
			return nil, fmt.Errorf("draft %d: %w", i, ErrInvalidInput)
		}
		if draft.Text == "" && len(draft.Embedding) == 0 {
			return nil, fmt.Errorf("draft %d has neither text nor embedding: %w", i, ErrInvalidInput)
		}

		embedding := draft.Embedding
		if len(embedding) == 0 {
			vec, err := db.embedder.Embed(ctx, draft.Text)
			if err != nil {
				return nil, fmt.Errorf("embedding draft %d: %w", i, err)
			}
			embedding = vec
		}
		key, err := keys.Key(embedding)
		if err != nil {
			return nil, fmt.Errorf("locality key for draft %d: %w", i, err)
		}

		id := draft.ID
		if id == "" {
			id = storage.NodeID(uuid.New().String())
		}
		nowTS := time.Now()
		node := &storage.Node{
			ID:          id,
			ProjectID:   projectID,
			Title:       draft.Title,
			Text:        draft.Text,
			Embedding:   embedding,
			LocalityKey: key,
			CreatedAt:   nowTS,
			UpdatedAt:   nowTS,
		}
		if prior, err := db.engine.GetNode(id); err == nil {
			node.CreatedAt = prior.CreatedAt
		}
		if err := db.engine.PutNode(node); err != nil {
			return nil, fmt.Errorf("storing node %s: %w", id, err)
		}
		stored = append(stored, node)
	}

	// Full refresh keeps the index coherent across repeated batches,
	// since AddProject replaces a project's entries wholesale.
	indexed, err := db.index.WarmupCache(ctx, []storage.ProjectID{projectID})
	if err != nil {
		return nil, fmt.Errorf("indexing project %s: %w", projectID, err)
	}

	db.logger.Log("info", "nodes ingested", map[string]any{
		"project": string(projectID),
		"count":   len(stored),
		"indexed": indexed,
		"model":   db.embedder.Model(),
	})
	return stored, nil
}
