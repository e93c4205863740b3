package spatial

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/orneryd/bifrost/pkg/storage"
)

const testDims = 4

// fullRadius guarantees the widened pass covers the whole key space, so
// ranking tests see every indexed node.
const fullRadius = uint64(1) << 31

func newTestIndex(t *testing.T, capacity int, radius uint64) (*Index, *storage.MemoryEngine) {
	t.Helper()
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { engine.Close() })
	idx := New(engine, Config{
		Dimensions:  testDims,
		Capacity:    capacity,
		RangeRadius: radius,
	})
	return idx, engine
}

func embNode(id storage.NodeID, project storage.ProjectID, emb []float32) *storage.Node {
	now := time.Now()
	return &storage.Node{
		ID:        id,
		ProjectID: project,
		Title:     "node " + string(id),
		Text:      "text " + string(id),
		Embedding: emb,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSearchRanking(t *testing.T) {
	idx, _ := newTestIndex(t, 0, fullRadius)

	nodes := []*storage.Node{
		embNode("exact", "proj-a", []float32{1, 0, 0, 0}),
		embNode("close", "proj-a", []float32{0.9, 0.1, 0, 0}),
		embNode("far", "proj-a", []float32{0, 1, 0, 0}),
	}
	added, err := idx.AddProject("proj-a", nodes)
	if err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}
	if added != 3 {
		t.Fatalf("expected 3 indexed entries, got %d", added)
	}

	results, err := idx.SearchAcrossProjects([]float32{1, 0, 0, 0}, SearchOptions{
		Projects: []storage.ProjectID{"proj-a"},
		TopK:     3,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].NodeID != "exact" {
		t.Errorf("expected exact match first, got %s", results[0].NodeID)
	}
	if results[0].Similarity < 0.999 {
		t.Errorf("exact match similarity %f, want ~1", results[0].Similarity)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not sorted descending at %d", i)
		}
	}
	if results[len(results)-1].NodeID != "far" {
		t.Errorf("expected orthogonal vector last, got %s", results[len(results)-1].NodeID)
	}
}

func TestSearchFederatesProjects(t *testing.T) {
	idx, _ := newTestIndex(t, 0, fullRadius)

	if _, err := idx.AddProject("proj-a", []*storage.Node{
		embNode("a1", "proj-a", []float32{1, 0, 0, 0}),
	}); err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}
	if _, err := idx.AddProject("proj-b", []*storage.Node{
		embNode("b1", "proj-b", []float32{0.95, 0.05, 0, 0}),
	}); err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}
	if _, err := idx.AddProject("proj-c", []*storage.Node{
		embNode("c1", "proj-c", []float32{0.9, 0.1, 0, 0}),
	}); err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}

	// Only the requested projects contribute candidates.
	results, err := idx.SearchAcrossProjects([]float32{1, 0, 0, 0}, SearchOptions{
		Projects: []storage.ProjectID{"proj-a", "proj-b"},
		TopK:     10,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.ProjectID == "proj-c" {
			t.Errorf("unrequested project leaked into results: %+v", r)
		}
	}
}

func TestSearchExcludesSource(t *testing.T) {
	idx, _ := newTestIndex(t, 0, fullRadius)

	if _, err := idx.AddProject("proj-a", []*storage.Node{
		embNode("source", "proj-a", []float32{1, 0, 0, 0}),
		embNode("other", "proj-a", []float32{0.9, 0.1, 0, 0}),
	}); err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}

	results, err := idx.SearchAcrossProjects([]float32{1, 0, 0, 0}, SearchOptions{
		Projects: []storage.ProjectID{"proj-a"},
		TopK:     10,
		Exclude:  "source",
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, r := range results {
		if r.NodeID == "source" {
			t.Error("excluded node appeared in results")
		}
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestSearchEmptyProject(t *testing.T) {
	idx, _ := newTestIndex(t, 0, fullRadius)

	results, err := idx.SearchAcrossProjects([]float32{1, 0, 0, 0}, SearchOptions{
		Projects: []storage.ProjectID{"nowhere"},
		TopK:     5,
	})
	if err != nil {
		t.Fatalf("search over empty project should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSearchTopKZero(t *testing.T) {
	idx, _ := newTestIndex(t, 0, fullRadius)

	if _, err := idx.AddProject("proj-a", []*storage.Node{
		embNode("a1", "proj-a", []float32{1, 0, 0, 0}),
	}); err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}

	results, err := idx.SearchAcrossProjects([]float32{1, 0, 0, 0}, SearchOptions{
		Projects: []storage.ProjectID{"proj-a"},
		TopK:     0,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if results != nil {
		t.Errorf("TopK=0 should return nothing, got %v", results)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	idx, _ := newTestIndex(t, 0, fullRadius)

	_, err := idx.SearchAcrossProjects([]float32{1, 0}, SearchOptions{
		Projects: []storage.ProjectID{"proj-a"},
		TopK:     5,
	})
	if !errors.Is(err, storage.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearchWidensOnce(t *testing.T) {
	idx, _ := newTestIndex(t, 0, 4)

	// Entry sits 100 key positions away from the query key: outside the
	// first scan ([36, 44]) but inside the widened one ([0, 104]).
	idx.mu.Lock()
	idx.insertLocked(&cacheEntry{
		nodeID:      "distant",
		projectID:   "proj-a",
		embedding:   []float32{1, 0, 0, 0},
		localityKey: formatKey(100),
	})
	idx.mu.Unlock()

	results, err := idx.SearchAcrossProjects([]float32{1, 0, 0, 0}, SearchOptions{
		Projects:    []storage.ProjectID{"proj-a"},
		TopK:        1,
		LocalityKey: formatKey(40),
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].NodeID != "distant" {
		t.Fatalf("widened scan should find the entry, got %v", results)
	}

	// Beyond even the widened range the search degrades to empty.
	farther, err := idx.SearchAcrossProjects([]float32{1, 0, 0, 0}, SearchOptions{
		Projects:    []storage.ProjectID{"proj-a"},
		TopK:        1,
		LocalityKey: formatKey(4000),
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(farther) != 0 {
		t.Errorf("expected graceful empty result, got %v", farther)
	}
}

func TestAddProjectReplaces(t *testing.T) {
	idx, _ := newTestIndex(t, 0, fullRadius)

	if _, err := idx.AddProject("proj-a", []*storage.Node{
		embNode("old1", "proj-a", []float32{1, 0, 0, 0}),
		embNode("old2", "proj-a", []float32{0, 1, 0, 0}),
	}); err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}
	if _, err := idx.AddProject("proj-a", []*storage.Node{
		embNode("new1", "proj-a", []float32{0, 0, 1, 0}),
	}); err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}

	results, err := idx.SearchAcrossProjects([]float32{0, 0, 1, 0}, SearchOptions{
		Projects: []storage.ProjectID{"proj-a"},
		TopK:     10,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].NodeID != "new1" {
		t.Errorf("reingest should replace prior entries, got %v", results)
	}

	stats := idx.Stats()
	if stats.Size != 1 {
		t.Errorf("expected cache size 1 after replace, got %d", stats.Size)
	}
	if stats.PerProject["proj-a"] != 1 {
		t.Errorf("expected 1 entry for proj-a, got %d", stats.PerProject["proj-a"])
	}
}

func TestAddProjectSkipsMissingEmbeddings(t *testing.T) {
	idx, _ := newTestIndex(t, 0, fullRadius)

	added, err := idx.AddProject("proj-a", []*storage.Node{
		embNode("with", "proj-a", []float32{1, 0, 0, 0}),
		embNode("without", "proj-a", nil),
	})
	if err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}
	if added != 1 {
		t.Errorf("expected 1 indexed entry, got %d", added)
	}
}

func TestAddProjectDimensionMismatch(t *testing.T) {
	idx, _ := newTestIndex(t, 0, fullRadius)

	_, err := idx.AddProject("proj-a", []*storage.Node{
		embNode("bad", "proj-a", []float32{1, 0}),
	})
	if !errors.Is(err, storage.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEviction(t *testing.T) {
	idx, _ := newTestIndex(t, 3, fullRadius)

	nodes := make([]*storage.Node, 5)
	for i := range nodes {
		emb := make([]float32, testDims)
		emb[i%testDims] = 1
		nodes[i] = embNode(storage.NodeID(fmt.Sprintf("n%d", i)), "proj-a", emb)
	}
	if _, err := idx.AddProject("proj-a", nodes); err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}

	stats := idx.Stats()
	if stats.Size != 3 {
		t.Errorf("expected size bounded to 3, got %d", stats.Size)
	}
	if stats.Evictions != 2 {
		t.Errorf("expected 2 evictions, got %d", stats.Evictions)
	}
	if stats.PerProject["proj-a"] != 3 {
		t.Errorf("project ordering out of sync with cache: %d entries", stats.PerProject["proj-a"])
	}

	// Insertion order doubles as access order here, so the two oldest
	// entries are the ones gone.
	results, err := idx.SearchAcrossProjects([]float32{1, 0, 0, 0}, SearchOptions{
		Projects: []storage.ProjectID{"proj-a"},
		TopK:     10,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, r := range results {
		if r.NodeID == "n0" || r.NodeID == "n1" {
			t.Errorf("evicted entry %s still searchable", r.NodeID)
		}
	}
}

func TestGetEmbeddingCacheAside(t *testing.T) {
	idx, engine := newTestIndex(t, 0, fullRadius)
	ctx := context.Background()

	node := embNode("n1", "proj-a", []float32{0.5, 0.5, 0, 0})
	if err := engine.PutNode(node); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}

	emb, err := idx.GetEmbedding(ctx, "n1", "proj-a")
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if len(emb) != testDims {
		t.Fatalf("unexpected embedding: %v", emb)
	}

	// Second call is served from cache.
	if _, err := idx.GetEmbedding(ctx, "n1", "proj-a"); err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}

	stats := idx.Stats()
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Errorf("expected 1 miss then 1 hit, got misses=%d hits=%d", stats.Misses, stats.Hits)
	}

	// Returned slices are copies.
	emb[0] = 42
	again, err := idx.GetEmbedding(ctx, "n1", "proj-a")
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if again[0] == 42 {
		t.Error("GetEmbedding leaked a mutable reference")
	}
}

func TestGetEmbeddingErrors(t *testing.T) {
	idx, engine := newTestIndex(t, 0, fullRadius)
	ctx := context.Background()

	if _, err := idx.GetEmbedding(ctx, "nope", "proj-a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	bare := embNode("bare", "proj-a", nil)
	if err := engine.PutNode(bare); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}
	if _, err := idx.GetEmbedding(ctx, "bare", "proj-a"); !errors.Is(err, storage.ErrMissingEmbedding) {
		t.Errorf("expected ErrMissingEmbedding, got %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := idx.GetEmbedding(cancelled, "other", "proj-a"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWarmupCache(t *testing.T) {
	idx, engine := newTestIndex(t, 0, fullRadius)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		emb := make([]float32, testDims)
		emb[i%testDims] = 1
		node := embNode(storage.NodeID(fmt.Sprintf("n%d", i)), "proj-a", emb)
		if err := engine.PutNode(node); err != nil {
			t.Fatalf("PutNode failed: %v", err)
		}
	}

	loaded, err := idx.WarmupCache(ctx, []storage.ProjectID{"proj-a"})
	if err != nil {
		t.Fatalf("WarmupCache failed: %v", err)
	}
	if loaded != 3 {
		t.Errorf("expected 3 loaded entries, got %d", loaded)
	}

	results, err := idx.SearchAcrossProjects([]float32{1, 0, 0, 0}, SearchOptions{
		Projects: []storage.ProjectID{"proj-a"},
		TopK:     10,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("warmed-up project should be searchable, got %d results", len(results))
	}
}

func TestRemove(t *testing.T) {
	idx, _ := newTestIndex(t, 0, fullRadius)

	if _, err := idx.AddProject("proj-a", []*storage.Node{
		embNode("keep", "proj-a", []float32{1, 0, 0, 0}),
		embNode("drop", "proj-a", []float32{0, 1, 0, 0}),
	}); err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}

	idx.Remove("drop")

	results, err := idx.SearchAcrossProjects([]float32{0, 1, 0, 0}, SearchOptions{
		Projects: []storage.ProjectID{"proj-a"},
		TopK:     10,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, r := range results {
		if r.NodeID == "drop" {
			t.Error("removed entry still searchable")
		}
	}

	idx.RemoveProject("proj-a")
	stats := idx.Stats()
	if stats.Size != 0 {
		t.Errorf("expected empty cache after RemoveProject, got %d", stats.Size)
	}
}
