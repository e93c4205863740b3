package spatial

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/orneryd/bifrost/pkg/math/vector"
	"github.com/orneryd/bifrost/pkg/storage"
)

// DefaultDimensions is the embedding dimensionality assumed when a
// Config leaves it unset.
const DefaultDimensions = 512

// widenFactor multiplies the range radius when the first scan yields
// fewer than TopK candidates. The scan widens exactly once.
const widenFactor = 16

// Config tunes an Index. Zero values select documented defaults.
type Config struct {
	// Dimensions is the embedding length this index accepts.
	Dimensions int

	// Capacity bounds cached entries across all projects.
	Capacity int

	// RangeRadius is the numeric half-width of the locality-key range
	// scanned around a query key.
	RangeRadius uint64

	Logger storage.Logger
}

// Index is the federated spatial embedding index.
//
// It holds one bounded LRU cache of embeddings shared by all projects
// and, per project, an ordering of cached entries by locality key. A
// search scans a narrow key range per project, exact-scores only those
// candidates, and ranks by cosine similarity. Entries evicted by the
// LRU disappear from the per-project orderings in the same step, so the
// two structures never disagree.
//
// All methods are safe for concurrent use. Search results are copies;
// they never alias cache memory, so eviction cannot invalidate a result
// a caller is still reading.
type Index struct {
	mu        sync.Mutex
	keys      *KeyMaker
	engine    storage.Engine
	cache     *lruStore
	byProject map[storage.ProjectID]*projectOrder
	radius    uint64
	logger    storage.Logger

	// Cache-aside counters for GetEmbedding, plus evictions. Atomic so
	// Stats snapshots don't contend with searches.
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// SearchOptions scopes a federated similarity search.
type SearchOptions struct {
	// Projects to draw candidates from. Unknown projects contribute
	// nothing; they are not an error.
	Projects []storage.ProjectID

	// TopK bounds the result count. Zero or negative returns nothing.
	TopK int

	// LocalityKey optionally reuses a precomputed key for the query
	// embedding, skipping derivation.
	LocalityKey string

	// Exclude drops one node id from the candidate set, typically the
	// query's own source node.
	Exclude storage.NodeID
}

// Candidate is one search result, ranked by exact cosine similarity.
type Candidate struct {
	NodeID      storage.NodeID
	ProjectID   storage.ProjectID
	LocalityKey string
	Similarity  float64
}

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Size       int
	Capacity   int
	Hits       int64
	Misses     int64
	Evictions  int64
	PerProject map[storage.ProjectID]int
}

// New builds an Index over a backing engine. The engine is only
// consulted on GetEmbedding misses and WarmupCache; searches run
// entirely against cached entries.
func New(engine storage.Engine, cfg Config) *Index {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	radius := cfg.RangeRadius
	if radius == 0 {
		radius = DefaultRangeRadius
	}
	if radius > maxKey {
		radius = maxKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = storage.NopLogger{}
	}
	return &Index{
		keys:      &KeyMaker{dims: dims, axes: buildAxes(dims)},
		engine:    engine,
		cache:     newLRUStore(cfg.Capacity),
		byProject: make(map[storage.ProjectID]*projectOrder),
		radius:    radius,
		logger:    logger,
	}
}

// KeyMaker exposes the index's locality key derivation so ingest paths
// can stamp nodes with keys consistent with this index.
func (x *Index) KeyMaker() *KeyMaker {
	return x.keys
}

// AddProject ingests or refreshes a project's nodes, replacing all
// prior entries for that project id. Nodes without embeddings are
// skipped. Returns the number of entries indexed.
func (x *Index) AddProject(projectID storage.ProjectID, nodes []*storage.Node) (int, error) {
	if projectID == "" {
		return 0, storage.ErrInvalidID
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.dropProjectLocked(projectID)

	added := 0
	for _, node := range nodes {
		if node == nil || node.ID == "" || len(node.Embedding) == 0 {
			continue
		}
		if len(node.Embedding) != x.keys.dims {
			return added, fmt.Errorf("node %s: embedding has %d dimensions, want %d: %w",
				node.ID, len(node.Embedding), x.keys.dims, storage.ErrDimensionMismatch)
		}
		key := node.LocalityKey
		if key == "" {
			k, err := x.keys.Key(node.Embedding)
			if err != nil {
				return added, err
			}
			key = k
		}
		x.insertLocked(&cacheEntry{
			nodeID:      node.ID,
			projectID:   projectID,
			embedding:   cloneVec(node.Embedding),
			localityKey: key,
		})
		added++
	}
	return added, nil
}

// SearchAcrossProjects returns up to TopK candidates from the given
// projects, ranked by exact cosine similarity against query.
//
// The candidate pool is assembled by scanning each project's locality
// ordering within [key-radius, key+radius]. If that yields fewer than
// TopK candidates the scan is retried once with the radius widened, a
// graceful degradation rather than an error. Only the pooled candidates
// are exact-scored, so cost follows candidate count, not corpus size.
func (x *Index) SearchAcrossProjects(query []float32, opts SearchOptions) ([]Candidate, error) {
	if opts.TopK <= 0 {
		return nil, nil
	}
	if len(query) != x.keys.dims {
		return nil, fmt.Errorf("query embedding has %d dimensions, want %d: %w",
			len(query), x.keys.dims, storage.ErrDimensionMismatch)
	}

	key := opts.LocalityKey
	if key == "" {
		k, err := x.keys.Key(query)
		if err != nil {
			return nil, err
		}
		key = k
	}

	lo, hi, err := RangeAround(key, x.radius)
	if err != nil {
		return nil, err
	}
	wideLo, wideHi, err := RangeAround(key, x.radius*widenFactor)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	entries := x.collectLocked(lo, hi, opts)
	if len(entries) < opts.TopK {
		entries = x.collectLocked(wideLo, wideHi, opts)
	}
	x.mu.Unlock()

	// Exact scoring happens outside the lock. Entries hold immutable
	// embeddings, and eviction only drops references, so this is safe.
	results := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		results = append(results, Candidate{
			NodeID:      e.nodeID,
			ProjectID:   e.projectID,
			LocalityKey: e.localityKey,
			Similarity:  float64(vector.CosineSimilaritySIMD(query, e.embedding)),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].NodeID < results[j].NodeID
	})
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// collectLocked gathers candidate entries for [lo, hi] across the
// requested projects, refreshing recency for each touched entry.
// Caller holds mu.
func (x *Index) collectLocked(lo, hi string, opts SearchOptions) []*cacheEntry {
	limit := opts.TopK
	if opts.Exclude != "" {
		limit++
	}

	var out []*cacheEntry
	for _, p := range opts.Projects {
		ord := x.byProject[p]
		if ord == nil {
			continue
		}
		for _, ref := range ord.inRange(lo, hi, limit) {
			if ref.id == opts.Exclude {
				continue
			}
			if elem, ok := x.cache.items[ref.id]; ok {
				x.cache.touch(elem)
				out = append(out, elem.Value.(*cacheEntry))
			}
		}
	}
	return out
}

// GetEmbedding returns a node's embedding, cache first with a backing
// store fallback (cache-aside). The returned slice is always a copy.
func (x *Index) GetEmbedding(ctx context.Context, nodeID storage.NodeID, projectID storage.ProjectID) ([]float32, error) {
	if nodeID == "" {
		return nil, storage.ErrInvalidID
	}

	x.mu.Lock()
	if entry, ok := x.cache.get(nodeID); ok {
		out := cloneVec(entry.embedding)
		x.mu.Unlock()
		x.hits.Add(1)
		return out, nil
	}
	x.mu.Unlock()
	x.misses.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	node, err := x.engine.GetNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("loading node %s: %w", nodeID, err)
	}
	if len(node.Embedding) == 0 {
		return nil, fmt.Errorf("node %s: %w", nodeID, storage.ErrMissingEmbedding)
	}

	// Only cache entries the index can score and order.
	if len(node.Embedding) == x.keys.dims {
		key := node.LocalityKey
		if key == "" {
			if k, kerr := x.keys.Key(node.Embedding); kerr == nil {
				key = k
			}
		}
		proj := node.ProjectID
		if proj == "" {
			proj = projectID
		}
		if key != "" && proj != "" {
			x.mu.Lock()
			x.insertLocked(&cacheEntry{
				nodeID:      node.ID,
				projectID:   proj,
				embedding:   node.Embedding,
				localityKey: key,
			})
			x.mu.Unlock()
		}
	}
	return cloneVec(node.Embedding), nil
}

// WarmupCache proactively loads every node of the named projects from
// the backing store. Returns the number of entries indexed.
func (x *Index) WarmupCache(ctx context.Context, projects []storage.ProjectID) (int, error) {
	total := 0
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		nodes, err := x.engine.NodesByProject(p)
		if err != nil {
			return total, fmt.Errorf("warming up project %s: %w", p, err)
		}
		n, err := x.AddProject(p, nodes)
		total += n
		if err != nil {
			return total, err
		}
		x.logger.Log("debug", "warmed up project", map[string]any{
			"project": string(p),
			"entries": n,
		})
	}
	return total, nil
}

// Remove drops one node's cache entry, if present. Canonical storage is
// untouched.
func (x *Index) Remove(nodeID storage.NodeID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if entry, ok := x.cache.remove(nodeID); ok {
		x.orderRemove(entry)
	}
}

// RemoveProject drops every cache entry of a project.
func (x *Index) RemoveProject(projectID storage.ProjectID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.dropProjectLocked(projectID)
}

// Stats reports cache size, cache-aside hit/miss counters, evictions,
// and per-project entry counts.
func (x *Index) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()

	per := make(map[storage.ProjectID]int, len(x.byProject))
	for p, ord := range x.byProject {
		per[p] = len(ord.refs)
	}
	return Stats{
		Size:       x.cache.len(),
		Capacity:   x.cache.capacity,
		Hits:       x.hits.Load(),
		Misses:     x.misses.Load(),
		Evictions:  x.evictions.Load(),
		PerProject: per,
	}
}

// insertLocked adds or replaces one entry, keeping the project
// orderings in sync with the LRU, including for evicted entries.
// Caller holds mu.
func (x *Index) insertLocked(entry *cacheEntry) {
	if elem, ok := x.cache.items[entry.nodeID]; ok {
		x.orderRemove(elem.Value.(*cacheEntry))
	}
	evicted := x.cache.put(entry)
	x.orderInsert(entry)
	for _, e := range evicted {
		x.orderRemove(e)
		x.evictions.Add(1)
	}
}

func (x *Index) orderInsert(e *cacheEntry) {
	ord := x.byProject[e.projectID]
	if ord == nil {
		ord = &projectOrder{}
		x.byProject[e.projectID] = ord
	}
	ord.insert(e.localityKey, e.nodeID)
}

func (x *Index) orderRemove(e *cacheEntry) {
	ord := x.byProject[e.projectID]
	if ord == nil {
		return
	}
	ord.remove(e.localityKey, e.nodeID)
	if len(ord.refs) == 0 {
		delete(x.byProject, e.projectID)
	}
}

// dropProjectLocked removes a project's ordering and all of its cache
// entries. Caller holds mu.
func (x *Index) dropProjectLocked(projectID storage.ProjectID) {
	ord := x.byProject[projectID]
	if ord == nil {
		return
	}
	for _, ref := range ord.refs {
		x.cache.remove(ref.id)
	}
	delete(x.byProject, projectID)
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// ===== Per-project locality ordering =====

// keyRef is one (localityKey, nodeID) pair. Pairs are kept sorted by
// key, then id, so range scans are binary-search bounded.
type keyRef struct {
	key string
	id  storage.NodeID
}

type projectOrder struct {
	refs []keyRef
}

func (p *projectOrder) search(key string, id storage.NodeID) int {
	return sort.Search(len(p.refs), func(i int) bool {
		r := p.refs[i]
		if r.key != key {
			return r.key >= key
		}
		return r.id >= id
	})
}

func (p *projectOrder) insert(key string, id storage.NodeID) {
	pos := p.search(key, id)
	if pos < len(p.refs) && p.refs[pos].key == key && p.refs[pos].id == id {
		return
	}
	p.refs = append(p.refs, keyRef{})
	copy(p.refs[pos+1:], p.refs[pos:])
	p.refs[pos] = keyRef{key: key, id: id}
}

func (p *projectOrder) remove(key string, id storage.NodeID) {
	pos := p.search(key, id)
	if pos >= len(p.refs) || p.refs[pos].key != key || p.refs[pos].id != id {
		return
	}
	p.refs = append(p.refs[:pos], p.refs[pos+1:]...)
}

// inRange returns refs with lo <= key <= hi, at most limit of them
// (limit <= 0 means unbounded).
func (p *projectOrder) inRange(lo, hi string, limit int) []keyRef {
	start := sort.Search(len(p.refs), func(i int) bool {
		return p.refs[i].key >= lo
	})
	var out []keyRef
	for i := start; i < len(p.refs); i++ {
		if p.refs[i].key > hi {
			break
		}
		out = append(out, p.refs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
