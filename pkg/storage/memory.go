package storage

import (
	"sort"
	"sync"
)

// MemoryEngine is a thread-safe in-memory implementation of Engine.
// It's useful for:
// - Unit testing (no disk I/O)
// - Ephemeral reasoning sessions that never touch disk
// - Small datasets that fit in RAM
type MemoryEngine struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	links map[LinkID]*Link

	// Indexes for efficient lookups
	nodesByProject map[ProjectID]map[NodeID]struct{}
	locality       map[ProjectID]*localityIndex
	linksBySource  map[NodeID]map[LinkID]struct{}
	linksByTarget  map[NodeID]map[LinkID]struct{}
	linksByProject map[ProjectID]map[LinkID]struct{}

	closed bool
}

// localityIndex keeps one project's (localityKey, nodeID) pairs ordered by
// key so range queries are O(log n + k). Entries with equal keys are
// ordered by node id for determinism.
type localityIndex struct {
	entries []localityEntry
}

type localityEntry struct {
	key string
	id  NodeID
}

func (idx *localityIndex) search(key string, id NodeID) int {
	return sort.Search(len(idx.entries), func(i int) bool {
		e := idx.entries[i]
		if e.key != key {
			return e.key >= key
		}
		return e.id >= id
	})
}

func (idx *localityIndex) insert(key string, id NodeID) {
	pos := idx.search(key, id)
	if pos < len(idx.entries) && idx.entries[pos].key == key && idx.entries[pos].id == id {
		return
	}
	idx.entries = append(idx.entries, localityEntry{})
	copy(idx.entries[pos+1:], idx.entries[pos:])
	idx.entries[pos] = localityEntry{key: key, id: id}
}

func (idx *localityIndex) remove(key string, id NodeID) {
	pos := idx.search(key, id)
	if pos >= len(idx.entries) || idx.entries[pos].key != key || idx.entries[pos].id != id {
		return
	}
	idx.entries = append(idx.entries[:pos], idx.entries[pos+1:]...)
}

// rangeIDs returns node ids with lo <= key <= hi, ordered, at most limit
// (limit <= 0 means no bound).
func (idx *localityIndex) rangeIDs(lo, hi string, limit int) []NodeID {
	start := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].key >= lo
	})
	var out []NodeID
	for i := start; i < len(idx.entries); i++ {
		if idx.entries[i].key > hi {
			break
		}
		out = append(out, idx.entries[i].id)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// NewMemoryEngine creates a new in-memory storage engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:          make(map[NodeID]*Node),
		links:          make(map[LinkID]*Link),
		nodesByProject: make(map[ProjectID]map[NodeID]struct{}),
		locality:       make(map[ProjectID]*localityIndex),
		linksBySource:  make(map[NodeID]map[LinkID]struct{}),
		linksByTarget:  make(map[NodeID]map[LinkID]struct{}),
		linksByProject: make(map[ProjectID]map[LinkID]struct{}),
	}
}

// PutNode stores or replaces a node (upsert).
func (m *MemoryEngine) PutNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	if existing, ok := m.nodes[node.ID]; ok {
		m.removeNodeIndexes(existing)
	}

	stored := copyNode(node)
	m.nodes[node.ID] = stored
	m.addNodeIndexes(stored)
	return nil
}

func (m *MemoryEngine) addNodeIndexes(node *Node) {
	if m.nodesByProject[node.ProjectID] == nil {
		m.nodesByProject[node.ProjectID] = make(map[NodeID]struct{})
	}
	m.nodesByProject[node.ProjectID][node.ID] = struct{}{}

	if node.LocalityKey != "" {
		idx := m.locality[node.ProjectID]
		if idx == nil {
			idx = &localityIndex{}
			m.locality[node.ProjectID] = idx
		}
		idx.insert(node.LocalityKey, node.ID)
	}
}

func (m *MemoryEngine) removeNodeIndexes(node *Node) {
	if ids := m.nodesByProject[node.ProjectID]; ids != nil {
		delete(ids, node.ID)
	}
	if node.LocalityKey != "" {
		if idx := m.locality[node.ProjectID]; idx != nil {
			idx.remove(node.LocalityKey, node.ID)
		}
	}
}

// GetNode retrieves a node by ID.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	node, exists := m.nodes[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyNode(node), nil
}

// DeleteNode removes a node and all links touching it.
func (m *MemoryEngine) DeleteNode(id NodeID) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	node, exists := m.nodes[id]
	if !exists {
		return ErrNotFound
	}

	m.removeNodeIndexes(node)

	// Cascade: links where this node is an endpoint.
	for linkID := range m.linksBySource[id] {
		m.removeLinkLocked(linkID)
	}
	for linkID := range m.linksByTarget[id] {
		m.removeLinkLocked(linkID)
	}
	delete(m.linksBySource, id)
	delete(m.linksByTarget, id)

	delete(m.nodes, id)
	return nil
}

// NodesByProject returns all nodes of a project.
func (m *MemoryEngine) NodesByProject(project ProjectID) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	ids := m.nodesByProject[project]
	out := make([]*Node, 0, len(ids))
	for id := range ids {
		if node := m.nodes[id]; node != nil {
			out = append(out, copyNode(node))
		}
	}
	// Id order, so batch walks behave the same on every engine.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// NodesByLocalityRange returns a project's nodes with locality key in
// [lo, hi], ordered by key ascending.
func (m *MemoryEngine) NodesByLocalityRange(project ProjectID, lo, hi string, limit int) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	idx := m.locality[project]
	if idx == nil {
		return nil, nil
	}

	ids := idx.rangeIDs(lo, hi, limit)
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if node := m.nodes[id]; node != nil {
			out = append(out, copyNode(node))
		}
	}
	return out, nil
}

// PutLink stores or replaces a link (upsert).
func (m *MemoryEngine) PutLink(link *Link) error {
	if link == nil {
		return ErrInvalidData
	}
	if link.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	if existing, ok := m.links[link.ID]; ok {
		m.removeLinkIndexes(existing)
	}

	stored := copyLink(link)
	m.links[link.ID] = stored
	m.addLinkIndexes(stored)
	return nil
}

func (m *MemoryEngine) addLinkIndexes(link *Link) {
	if m.linksBySource[link.SourceID] == nil {
		m.linksBySource[link.SourceID] = make(map[LinkID]struct{})
	}
	m.linksBySource[link.SourceID][link.ID] = struct{}{}

	if m.linksByTarget[link.TargetID] == nil {
		m.linksByTarget[link.TargetID] = make(map[LinkID]struct{})
	}
	m.linksByTarget[link.TargetID][link.ID] = struct{}{}

	if m.linksByProject[link.ProjectID] == nil {
		m.linksByProject[link.ProjectID] = make(map[LinkID]struct{})
	}
	m.linksByProject[link.ProjectID][link.ID] = struct{}{}
}

func (m *MemoryEngine) removeLinkIndexes(link *Link) {
	if ids := m.linksBySource[link.SourceID]; ids != nil {
		delete(ids, link.ID)
	}
	if ids := m.linksByTarget[link.TargetID]; ids != nil {
		delete(ids, link.ID)
	}
	if ids := m.linksByProject[link.ProjectID]; ids != nil {
		delete(ids, link.ID)
	}
}

// removeLinkLocked deletes a link and its index entries. Caller holds mu.
func (m *MemoryEngine) removeLinkLocked(id LinkID) {
	link, exists := m.links[id]
	if !exists {
		return
	}
	m.removeLinkIndexes(link)
	delete(m.links, id)
}

// GetLink retrieves a link by ID.
func (m *MemoryEngine) GetLink(id LinkID) (*Link, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	link, exists := m.links[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyLink(link), nil
}

// DeleteLink removes a link.
func (m *MemoryEngine) DeleteLink(id LinkID) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	if _, exists := m.links[id]; !exists {
		return ErrNotFound
	}
	m.removeLinkLocked(id)
	return nil
}

// LinksBySource returns all links whose source is the given node.
func (m *MemoryEngine) LinksBySource(source NodeID) ([]*Link, error) {
	return m.linksFromIndex(func() map[LinkID]struct{} { return m.linksBySource[source] })
}

// LinksByTarget returns all links whose target is the given node.
func (m *MemoryEngine) LinksByTarget(target NodeID) ([]*Link, error) {
	return m.linksFromIndex(func() map[LinkID]struct{} { return m.linksByTarget[target] })
}

// LinksByProject returns all links in a project.
func (m *MemoryEngine) LinksByProject(project ProjectID) ([]*Link, error) {
	return m.linksFromIndex(func() map[LinkID]struct{} { return m.linksByProject[project] })
}

func (m *MemoryEngine) linksFromIndex(pick func() map[LinkID]struct{}) ([]*Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	ids := pick()
	out := make([]*Link, 0, len(ids))
	for id := range ids {
		if link := m.links[id]; link != nil {
			out = append(out, copyLink(link))
		}
	}
	// Id order, matching the badger engine's index iteration.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountNodes returns the number of stored nodes.
func (m *MemoryEngine) CountNodes() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.nodes)), nil
}

// CountLinks returns the number of stored links.
func (m *MemoryEngine) CountLinks() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.links)), nil
}

// Close marks the engine closed. Further operations return
// ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
