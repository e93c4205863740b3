package bifrost

import (
	"context"

	"github.com/orneryd/bifrost/pkg/linker"
	"github.com/orneryd/bifrost/pkg/storage"
)

// Link management passes through to the relation store with the DB
// closed-check applied. See pkg/linker for validation, cycle-guard, and
// history semantics.

// CreateLink validates and persists one relation.
func (db *DB) CreateLink(ctx context.Context, in linker.CreateLinkInput) (*storage.Link, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	return db.links.CreateLink(ctx, in)
}

// UpsertLink updates the active link matching matcher or creates it.
func (db *DB) UpsertLink(ctx context.Context, matcher linker.LinkMatcher, updates linker.LinkUpdates) (*storage.Link, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	return db.links.UpsertLink(ctx, matcher, updates)
}

// GetLink loads one link by id.
func (db *DB) GetLink(ctx context.Context, id storage.LinkID) (*storage.Link, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	return db.links.GetLink(ctx, id)
}

// QueryLinks returns links matching the AND-combined filter.
func (db *DB) QueryLinks(ctx context.Context, filter linker.LinkFilter) ([]*storage.Link, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	return db.links.QueryLinks(ctx, filter)
}

// RemoveLink physically deletes a link. Prefer DeactivateLink when the
// audit trail should survive.
func (db *DB) RemoveLink(ctx context.Context, id storage.LinkID) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrClosed
	}
	return db.links.RemoveLink(ctx, id)
}

// DeactivateLink soft-deletes a link, keeping its history.
func (db *DB) DeactivateLink(ctx context.Context, id storage.LinkID, note string) (*storage.Link, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	return db.links.DeactivateLink(ctx, id, note)
}

// NodeLinks returns a node's outgoing and incoming links within one
// project.
func (db *DB) NodeLinks(ctx context.Context, nodeID storage.NodeID, projectID storage.ProjectID) (*linker.NodeLinkSet, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	return db.links.NodeLinks(ctx, nodeID, projectID)
}

// WouldCreateCycle reports whether adding source->target would close a
// directed cycle through active links.
func (db *DB) WouldCreateCycle(ctx context.Context, source, target storage.NodeID, projectID storage.ProjectID) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return false, ErrClosed
	}
	return db.links.WouldCreateCycle(ctx, source, target, projectID)
}

// BatchUpdateConfidences applies confidence updates with per-item
// isolation and returns the applied count.
func (db *DB) BatchUpdateConfidences(ctx context.Context, updates []linker.ConfidenceUpdate) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return 0, ErrClosed
	}
	return db.links.BatchUpdateConfidences(ctx, updates)
}

// LinkStatistics reports one project's link counts by type, the
// active/inactive split, and mean confidence.
func (db *DB) LinkStatistics(ctx context.Context, projectID storage.ProjectID) (*linker.LinkStatistics, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	return db.links.Statistics(ctx, projectID)
}
