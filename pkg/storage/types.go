// Package storage defines Bifrost's persistence contract and the records
// it stores: content nodes with embeddings and the directed relation
// links between them.
//
// Two engines implement the contract: MemoryEngine (maps, for tests and
// ephemeral use) and BadgerEngine (embedded persistent KV store). Both
// are safe for concurrent use and both deep-copy records at the API
// boundary so callers can never mutate stored state through a returned
// pointer.
package storage

import (
	"errors"
	"time"
)

// Common storage errors.
var (
	// ErrNotFound is returned when a node or link doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a record that already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidID is returned for empty or malformed IDs.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidData is returned for nil or malformed records.
	ErrInvalidData = errors.New("invalid data")

	// ErrStorageClosed is returned when operating on a closed engine.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrDimensionMismatch is returned when an embedding's length does not
	// match the configured dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrMissingEmbedding is returned when a node exists but carries no
	// embedding vector required by the requested operation.
	ErrMissingEmbedding = errors.New("node has no embedding")
)

// NodeID uniquely identifies a content node.
type NodeID string

// LinkID uniquely identifies a relation link.
type LinkID string

// ProjectID identifies one independent content graph.
type ProjectID string

// RelationType names the relation a link carries. The closed taxonomy of
// valid values is owned by pkg/linker.
type RelationType string

// Node is a content node consumed by the reasoning engine. Nodes are
// produced elsewhere (editor, importer); Bifrost stores them for the
// spatial index and the relation graph.
//
// Embedding is immutable once computed: a node whose text changes is
// re-ingested with a fresh embedding and locality key.
type Node struct {
	ID        NodeID    `json:"id"`
	ProjectID ProjectID `json:"project_id"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text,omitempty"`

	// Embedding is the fixed-length vector for semantic similarity.
	// May be empty for nodes not yet embedded.
	Embedding []float32 `json:"embedding,omitempty"`

	// LocalityKey is a fixed-width hex string derived from the embedding
	// via a space-filling-curve projection. Lexicographic key order
	// correlates with embedding proximity, which is what makes the
	// spatial prefilter's range scans work.
	LocalityKey string `json:"locality_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProvenanceMethod records how a link came to exist.
type ProvenanceMethod string

const (
	// ProvenanceManual marks links created directly by a user.
	ProvenanceManual ProvenanceMethod = "manual"
	// ProvenanceAutoSuggestion marks links accepted from the suggestion
	// pipeline.
	ProvenanceAutoSuggestion ProvenanceMethod = "auto-suggestion"
	// ProvenanceAutoBackfill marks links created by bulk backfill runs.
	ProvenanceAutoBackfill ProvenanceMethod = "auto-backfill"
)

// Provenance describes the origin of a link.
type Provenance struct {
	Method    ProvenanceMethod `json:"method"`
	Note      string           `json:"note,omitempty"`
	Rationale string           `json:"rationale,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// History entry actions.
const (
	HistoryCreated     = "created"
	HistoryUpdated     = "updated"
	HistoryDeactivated = "deactivated"
	HistoryReactivated = "reactivated"
)

// HistoryEntry is one past state change of a link, kept for audit.
type HistoryEntry struct {
	Action    string    `json:"action"`
	Fields    []string  `json:"fields,omitempty"` // changed field names for updates
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxHistoryEntries bounds Link.History. When exceeded, the oldest
// entries are dropped.
const MaxHistoryEntries = 20

// Link is a directed relation between two nodes, owned by the relation
// graph store.
//
// Invariants (enforced by pkg/linker, relied on by readers):
//   - SourceID != TargetID
//   - at most one active link exists per (ProjectID, SourceID, TargetID, Type)
//   - Confidence is within [0, 1]
type Link struct {
	ID        LinkID       `json:"id"`
	ProjectID ProjectID    `json:"project_id"`
	SourceID  NodeID       `json:"source_id"`
	TargetID  NodeID       `json:"target_id"`
	Type      RelationType `json:"type"`

	// Confidence is the blended multi-signal score in [0, 1].
	Confidence float64 `json:"confidence"`

	// Weight biases ranking; defaults to 1.0.
	Weight float64 `json:"weight"`

	// Active is false for soft-deleted links, which are preserved for
	// audit and excluded from traversals.
	Active bool `json:"active"`

	Provenance Provenance     `json:"provenance"`
	History    []HistoryEntry `json:"history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppendHistory adds an entry to the link's history, dropping the oldest
// entries beyond MaxHistoryEntries.
func (l *Link) AppendHistory(entry HistoryEntry) {
	l.History = append(l.History, entry)
	if overflow := len(l.History) - MaxHistoryEntries; overflow > 0 {
		l.History = append([]HistoryEntry(nil), l.History[overflow:]...)
	}
}

// Engine is the backing-store contract: upsert-by-key, get-by-key,
// delete-by-key, and range/indexed lookups over secondary keys (locality
// key for nodes; source, target, and project for links).
//
// Each individual operation completes atomically. No cross-operation
// transaction or isolation level is assumed; the layers above serialize
// their own read-then-write sequences.
type Engine interface {
	// Node operations.
	PutNode(node *Node) error
	GetNode(id NodeID) (*Node, error)
	DeleteNode(id NodeID) error
	NodesByProject(project ProjectID) ([]*Node, error)

	// NodesByLocalityRange returns a project's nodes whose locality key
	// falls within [lo, hi], ordered by key ascending, at most limit
	// (limit <= 0 means no bound).
	NodesByLocalityRange(project ProjectID, lo, hi string, limit int) ([]*Node, error)

	// Link operations.
	PutLink(link *Link) error
	GetLink(id LinkID) (*Link, error)
	DeleteLink(id LinkID) error
	LinksBySource(source NodeID) ([]*Link, error)
	LinksByTarget(target NodeID) ([]*Link, error)
	LinksByProject(project ProjectID) ([]*Link, error)

	// Counts for stats surfaces; O(1) on both engines.
	CountNodes() (int64, error)
	CountLinks() (int64, error)

	// Close releases resources. Operations after Close return
	// ErrStorageClosed.
	Close() error
}

// copyNode returns a deep copy so cached/stored nodes can't be mutated
// through returned pointers.
func copyNode(n *Node) *Node {
	c := *n
	if n.Embedding != nil {
		c.Embedding = append([]float32(nil), n.Embedding...)
	}
	return &c
}

// copyLink returns a deep copy including history entries.
func copyLink(l *Link) *Link {
	c := *l
	if l.History != nil {
		c.History = append([]HistoryEntry(nil), l.History...)
		for i := range c.History {
			if c.History[i].Fields != nil {
				c.History[i].Fields = append([]string(nil), l.History[i].Fields...)
			}
		}
	}
	return &c
}
