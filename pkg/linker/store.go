// Package linker owns the relation graph: directed, labeled, confidence
// scored links between nodes, with cycle safety, soft deletion, and an
// audit history per link.
//
// The store is the sole writer of link records and their history. All
// validation failures surface as *ValidationError naming the offending
// field; referential failures wrap the storage sentinels.
package linker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/bifrost/pkg/storage"
)

// ErrCycle is returned when a new link would close a directed cycle
// through active links and the caller did not override.
var ErrCycle = errors.New("link would create a cycle")

// ValidationError reports malformed caller input. Field uses the
// record's serialized field names (source_id, confidence, ...).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// DefaultCycleBudget bounds how many outgoing links the cycle check
// expands per node. Dense graphs stay cheap at the cost of missing
// cycles that only close through a node's 51st+ link.
const DefaultCycleBudget = 50

// linkNamespace scopes deterministic link ids.
var linkNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("bifrost.link.v1"))

// DeterministicLinkID derives the id a link for this tuple will always
// get. Upserts and replays converge on the same record.
func DeterministicLinkID(project storage.ProjectID, source, target storage.NodeID, rel storage.RelationType) storage.LinkID {
	name := strings.Join([]string{string(project), string(source), string(target), string(rel)}, "\x00")
	return storage.LinkID(uuid.NewSHA1(linkNamespace, []byte(name)).String())
}

// Config tunes a Store. Zero values select documented defaults.
type Config struct {
	// Weights for the confidence blend. Zero value means defaults.
	Weights Weights

	// CycleBudget caps per-node expansion during cycle detection.
	CycleBudget int

	Logger storage.Logger
}

// Store is the relation graph store over a backing engine.
//
// The write mutex serializes every read-then-write sequence (create,
// upsert, deactivate, batch updates), so concurrent upserts for the
// same tuple cannot both pass the find step and double-write.
type Store struct {
	mu          sync.Mutex
	engine      storage.Engine
	weights     Weights
	cycleBudget int
	logger      storage.Logger
}

// NewStore builds a Store over engine.
func NewStore(engine storage.Engine, cfg Config) *Store {
	weights := cfg.Weights
	if weights.IsZero() {
		weights = DefaultWeights()
	}
	budget := cfg.CycleBudget
	if budget <= 0 {
		budget = DefaultCycleBudget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = storage.NopLogger{}
	}
	return &Store{
		engine:      engine,
		weights:     weights,
		cycleBudget: budget,
		logger:      logger,
	}
}

// Weights returns the store's blend weights.
func (s *Store) Weights() Weights {
	return s.weights
}

// CreateLinkInput is the caller-supplied data for a new link.
type CreateLinkInput struct {
	ProjectID  storage.ProjectID
	SourceID   storage.NodeID
	TargetID   storage.NodeID
	Type       storage.RelationType
	Confidence float64

	// Weight biases ranking. Zero means the 1.0 default.
	Weight float64

	// Method defaults to manual provenance.
	Method    storage.ProvenanceMethod
	Note      string
	Rationale string

	// AllowCycle skips the cycle guard. The caller takes responsibility
	// for traversal safety on the resulting graph.
	AllowCycle bool
}

// CreateLink validates and persists a new link.
//
// The link id is deterministic for the (project, source, target, type)
// tuple. If an active link for the tuple already exists the call fails
// with storage.ErrAlreadyExists; if a soft-deleted one exists it is
// reactivated in place, preserving its audit history.
func (s *Store) CreateLink(ctx context.Context, in CreateLinkInput) (*storage.Link, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx, in)
}

func validateCreate(in CreateLinkInput) error {
	switch {
	case in.ProjectID == "":
		return &ValidationError{Field: "project_id", Reason: "required"}
	case in.SourceID == "":
		return &ValidationError{Field: "source_id", Reason: "required"}
	case in.TargetID == "":
		return &ValidationError{Field: "target_id", Reason: "required"}
	case in.SourceID == in.TargetID:
		return &ValidationError{Field: "target_id", Reason: "must differ from source_id (self-links are not allowed)"}
	case !ValidRelationType(in.Type):
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not in the relation taxonomy", in.Type)}
	case in.Confidence < 0 || in.Confidence > 1:
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v is outside [0, 1]", in.Confidence)}
	case in.Weight < 0:
		return &ValidationError{Field: "weight", Reason: "must not be negative"}
	}
	return nil
}

// createLocked does the persistence half of CreateLink. Caller holds mu
// and has validated the input.
func (s *Store) createLocked(ctx context.Context, in CreateLinkInput) (*storage.Link, error) {
	if _, err := s.engine.GetNode(in.SourceID); err != nil {
		return nil, fmt.Errorf("source node %s: %w", in.SourceID, err)
	}
	if _, err := s.engine.GetNode(in.TargetID); err != nil {
		return nil, fmt.Errorf("target node %s: %w", in.TargetID, err)
	}

	if !in.AllowCycle {
		cyclic, err := s.wouldCreateCycle(ctx, in.SourceID, in.TargetID, in.ProjectID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, fmt.Errorf("%s -> %s: %w", in.SourceID, in.TargetID, ErrCycle)
		}
	}

	id := DeterministicLinkID(in.ProjectID, in.SourceID, in.TargetID, in.Type)
	now := time.Now()

	existing, err := s.engine.GetLink(id)
	switch {
	case err == nil && existing.Active:
		return nil, fmt.Errorf("active link %s: %w", id, storage.ErrAlreadyExists)
	case err == nil:
		// Soft-deleted record for the same tuple: reactivate in place so
		// the audit trail stays on one record.
		existing.Active = true
		existing.Confidence = in.Confidence
		existing.Weight = weightOrDefault(in.Weight)
		existing.Provenance = buildProvenance(in, now)
		existing.UpdatedAt = now
		existing.AppendHistory(storage.HistoryEntry{
			Action:    storage.HistoryReactivated,
			Note:      in.Note,
			Timestamp: now,
		})
		if err := s.engine.PutLink(existing); err != nil {
			return nil, fmt.Errorf("reactivating link %s: %w", id, err)
		}
		return existing, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("looking up link %s: %w", id, err)
	}

	link := &storage.Link{
		ID:         id,
		ProjectID:  in.ProjectID,
		SourceID:   in.SourceID,
		TargetID:   in.TargetID,
		Type:       in.Type,
		Confidence: in.Confidence,
		Weight:     weightOrDefault(in.Weight),
		Active:     true,
		Provenance: buildProvenance(in, now),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	link.AppendHistory(storage.HistoryEntry{
		Action:    storage.HistoryCreated,
		Note:      in.Note,
		Timestamp: now,
	})

	if err := s.engine.PutLink(link); err != nil {
		return nil, fmt.Errorf("creating link %s: %w", id, err)
	}
	return link, nil
}

func weightOrDefault(w float64) float64 {
	if w == 0 {
		return 1.0
	}
	return w
}

func buildProvenance(in CreateLinkInput, now time.Time) storage.Provenance {
	method := in.Method
	if method == "" {
		method = storage.ProvenanceManual
	}
	return storage.Provenance{
		Method:    method,
		Note:      in.Note,
		Rationale: in.Rationale,
		Timestamp: now,
	}
}

// LinkMatcher identifies the unique active link of a tuple.
type LinkMatcher struct {
	ProjectID storage.ProjectID
	SourceID  storage.NodeID
	TargetID  storage.NodeID
	Type      storage.RelationType
}

// LinkUpdates are the fields an upsert may change. Nil pointers leave
// the current value in place.
type LinkUpdates struct {
	Confidence *float64
	Weight     *float64
	Note       *string
	Rationale  *string

	// Method applies only when the upsert falls through to creation.
	Method storage.ProvenanceMethod

	// AllowCycle applies only when the upsert falls through to creation.
	AllowCycle bool
}

// UpsertLink updates the active link matching the tuple, appending a
// history entry naming each changed field, or creates the link when no
// active match exists. Applying the same matcher and updates twice is
// idempotent: same id, same confidence, no second history entry.
func (s *Store) UpsertLink(ctx context.Context, matcher LinkMatcher, updates LinkUpdates) (*storage.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := DeterministicLinkID(matcher.ProjectID, matcher.SourceID, matcher.TargetID, matcher.Type)
	existing, err := s.engine.GetLink(id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("looking up link %s: %w", id, err)
	}

	if err == nil && existing.Active {
		return s.applyUpdatesLocked(existing, updates)
	}

	// No active match (absent or soft-deleted): create with the merged
	// data. createLocked reactivates a soft-deleted record itself.
	in := CreateLinkInput{
		ProjectID:  matcher.ProjectID,
		SourceID:   matcher.SourceID,
		TargetID:   matcher.TargetID,
		Type:       matcher.Type,
		Method:     updates.Method,
		AllowCycle: updates.AllowCycle,
	}
	if updates.Confidence != nil {
		in.Confidence = *updates.Confidence
	}
	if updates.Weight != nil {
		in.Weight = *updates.Weight
	}
	if updates.Note != nil {
		in.Note = *updates.Note
	}
	if updates.Rationale != nil {
		in.Rationale = *updates.Rationale
	}
	if verr := validateCreate(in); verr != nil {
		return nil, verr
	}
	return s.createLocked(ctx, in)
}

// applyUpdatesLocked mutates an active link in place. Only fields whose
// value actually changes are written and recorded in history; a no-op
// update persists nothing. Caller holds mu.
func (s *Store) applyUpdatesLocked(link *storage.Link, updates LinkUpdates) (*storage.Link, error) {
	var changed []string

	if updates.Confidence != nil && *updates.Confidence != link.Confidence {
		if *updates.Confidence < 0 || *updates.Confidence > 1 {
			return nil, &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v is outside [0, 1]", *updates.Confidence)}
		}
		link.Confidence = *updates.Confidence
		changed = append(changed, "confidence")
	}
	if updates.Weight != nil && *updates.Weight != link.Weight {
		if *updates.Weight < 0 {
			return nil, &ValidationError{Field: "weight", Reason: "must not be negative"}
		}
		link.Weight = *updates.Weight
		changed = append(changed, "weight")
	}
	if updates.Note != nil && *updates.Note != link.Provenance.Note {
		link.Provenance.Note = *updates.Note
		changed = append(changed, "note")
	}
	if updates.Rationale != nil && *updates.Rationale != link.Provenance.Rationale {
		link.Provenance.Rationale = *updates.Rationale
		changed = append(changed, "rationale")
	}

	if len(changed) == 0 {
		return link, nil
	}

	now := time.Now()
	link.UpdatedAt = now
	link.AppendHistory(storage.HistoryEntry{
		Action:    storage.HistoryUpdated,
		Fields:    changed,
		Timestamp: now,
	})
	if err := s.engine.PutLink(link); err != nil {
		return nil, fmt.Errorf("updating link %s: %w", link.ID, err)
	}
	return link, nil
}

// LinkFilter selects links. Set fields combine with logical AND. At
// least one of ProjectID, SourceID, or TargetID must be set to scope
// the query to an indexed lookup.
type LinkFilter struct {
	ProjectID storage.ProjectID
	SourceID  storage.NodeID
	TargetID  storage.NodeID
	Type      storage.RelationType
	Active    *bool
	Limit     int
}

// QueryLinks returns links matching the filter, newest first.
func (s *Store) QueryLinks(ctx context.Context, filter LinkFilter) ([]*storage.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Narrowest index first.
	var (
		links []*storage.Link
		err   error
	)
	switch {
	case filter.SourceID != "":
		links, err = s.engine.LinksBySource(filter.SourceID)
	case filter.TargetID != "":
		links, err = s.engine.LinksByTarget(filter.TargetID)
	case filter.ProjectID != "":
		links, err = s.engine.LinksByProject(filter.ProjectID)
	default:
		return nil, &ValidationError{Field: "filter", Reason: "requires project_id, source_id, or target_id"}
	}
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}

	out := links[:0]
	for _, l := range links {
		if filter.ProjectID != "" && l.ProjectID != filter.ProjectID {
			continue
		}
		if filter.SourceID != "" && l.SourceID != filter.SourceID {
			continue
		}
		if filter.TargetID != "" && l.TargetID != filter.TargetID {
			continue
		}
		if filter.Type != "" && l.Type != filter.Type {
			continue
		}
		if filter.Active != nil && l.Active != *filter.Active {
			continue
		}
		out = append(out, l)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// RemoveLink physically deletes a link. For the auditable soft delete,
// use DeactivateLink.
func (s *Store) RemoveLink(ctx context.Context, id storage.LinkID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.engine.DeleteLink(id); err != nil {
		return fmt.Errorf("removing link %s: %w", id, err)
	}
	return nil
}

// DeactivateLink soft-deletes a link, keeping the record and history
// for audit. Deactivating an inactive link is a no-op.
func (s *Store) DeactivateLink(ctx context.Context, id storage.LinkID, note string) (*storage.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, err := s.engine.GetLink(id)
	if err != nil {
		return nil, fmt.Errorf("deactivating link %s: %w", id, err)
	}
	if !link.Active {
		return link, nil
	}

	now := time.Now()
	link.Active = false
	link.UpdatedAt = now
	link.AppendHistory(storage.HistoryEntry{
		Action:    storage.HistoryDeactivated,
		Note:      note,
		Timestamp: now,
	})
	if err := s.engine.PutLink(link); err != nil {
		return nil, fmt.Errorf("deactivating link %s: %w", id, err)
	}
	return link, nil
}

// GetLink returns one link by id.
func (s *Store) GetLink(ctx context.Context, id storage.LinkID) (*storage.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	link, err := s.engine.GetLink(id)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", id, err)
	}
	return link, nil
}

// NodeLinkSet partitions a node's links by direction.
type NodeLinkSet struct {
	Outgoing []*storage.Link
	Incoming []*storage.Link
}

// NodeLinks returns a node's links partitioned into outgoing and
// incoming, optionally scoped to one project.
func (s *Store) NodeLinks(ctx context.Context, nodeID storage.NodeID, projectID storage.ProjectID) (*NodeLinkSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outgoing, err := s.engine.LinksBySource(nodeID)
	if err != nil {
		return nil, fmt.Errorf("outgoing links of %s: %w", nodeID, err)
	}
	incoming, err := s.engine.LinksByTarget(nodeID)
	if err != nil {
		return nil, fmt.Errorf("incoming links of %s: %w", nodeID, err)
	}

	set := &NodeLinkSet{}
	for _, l := range outgoing {
		if projectID == "" || l.ProjectID == projectID {
			set.Outgoing = append(set.Outgoing, l)
		}
	}
	for _, l := range incoming {
		if projectID == "" || l.ProjectID == projectID {
			set.Incoming = append(set.Incoming, l)
		}
	}
	sortLinks(set.Outgoing)
	sortLinks(set.Incoming)
	return set, nil
}

func sortLinks(links []*storage.Link) {
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
}

// WouldCreateCycle reports whether adding source -> target would close
// a directed cycle, i.e. whether target already reaches source through
// active links of the project.
//
// Breadth-first with a visited set; expansion per node is capped by the
// store's cycle budget so dense graphs cannot stall the caller. The
// budget makes the check best-effort on nodes with more outgoing links
// than the budget.
func (s *Store) WouldCreateCycle(ctx context.Context, source, target storage.NodeID, projectID storage.ProjectID) (bool, error) {
	return s.wouldCreateCycle(ctx, source, target, projectID)
}

func (s *Store) wouldCreateCycle(ctx context.Context, source, target storage.NodeID, projectID storage.ProjectID) (bool, error) {
	if source == target {
		return true, nil
	}

	visited := map[storage.NodeID]struct{}{target: {}}
	frontier := []storage.NodeID{target}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		current := frontier[0]
		frontier = frontier[1:]

		links, err := s.engine.LinksBySource(current)
		if err != nil {
			return false, fmt.Errorf("cycle check at %s: %w", current, err)
		}
		sortLinks(links)

		expanded := 0
		for _, l := range links {
			if !l.Active {
				continue
			}
			if projectID != "" && l.ProjectID != projectID {
				continue
			}
			if expanded >= s.cycleBudget {
				break
			}
			expanded++

			if l.TargetID == source {
				return true, nil
			}
			if _, seen := visited[l.TargetID]; seen {
				continue
			}
			visited[l.TargetID] = struct{}{}
			frontier = append(frontier, l.TargetID)
		}
	}
	return false, nil
}

// ConfidenceUpdate is one item of a batch confidence change.
type ConfidenceUpdate struct {
	LinkID     storage.LinkID
	Confidence float64
}

// BatchUpdateConfidences applies many confidence changes with per-item
// isolation: a failing item is logged and counted, and the rest of the
// batch proceeds. Returns the number of links actually updated.
func (s *Store) BatchUpdateConfidences(ctx context.Context, updates []ConfidenceUpdate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, u := range updates {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if err := s.updateConfidenceLocked(u); err != nil {
			s.logger.Log("warn", "confidence update failed", map[string]any{
				"link_id": string(u.LinkID),
				"error":   err.Error(),
			})
			continue
		}
		applied++
	}
	return applied, nil
}

func (s *Store) updateConfidenceLocked(u ConfidenceUpdate) error {
	if u.Confidence < 0 || u.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v is outside [0, 1]", u.Confidence)}
	}
	link, err := s.engine.GetLink(u.LinkID)
	if err != nil {
		return err
	}
	if link.Confidence == u.Confidence {
		return nil
	}

	now := time.Now()
	link.Confidence = u.Confidence
	link.UpdatedAt = now
	link.AppendHistory(storage.HistoryEntry{
		Action:    storage.HistoryUpdated,
		Fields:    []string{"confidence"},
		Timestamp: now,
	})
	return s.engine.PutLink(link)
}

// LinkStatistics aggregates one project's link population.
type LinkStatistics struct {
	Total          int
	Active         int
	Inactive       int
	ByType         map[storage.RelationType]int
	MeanConfidence float64
}

// Statistics aggregates link counts by relation type and the mean
// confidence across a project's active links.
func (s *Store) Statistics(ctx context.Context, projectID storage.ProjectID) (*LinkStatistics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	links, err := s.engine.LinksByProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("statistics for %s: %w", projectID, err)
	}

	stats := &LinkStatistics{ByType: make(map[storage.RelationType]int)}
	sum := 0.0
	for _, l := range links {
		stats.Total++
		if !l.Active {
			stats.Inactive++
			continue
		}
		stats.Active++
		stats.ByType[l.Type]++
		sum += l.Confidence
	}
	if stats.Active > 0 {
		stats.MeanConfidence = sum / float64(stats.Active)
	}
	return stats, nil
}
