package storage

import (
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"
)

// runEngineContract exercises the Engine behaviors both implementations
// must share. Engine-specific behavior (reopen persistence, hot cache)
// lives in the per-engine test files.
func runEngineContract(t *testing.T, open func(t *testing.T) Engine) {
	t.Helper()

	t.Run("PutGetNode", func(t *testing.T) {
		e := open(t)
		defer e.Close()

		node := testNode("n1", "proj-a", "0a0a0a0a")
		if err := e.PutNode(node); err != nil {
			t.Fatalf("PutNode failed: %v", err)
		}

		got, err := e.GetNode("n1")
		if err != nil {
			t.Fatalf("GetNode failed: %v", err)
		}
		if got.ID != "n1" || got.ProjectID != "proj-a" || got.LocalityKey != "0a0a0a0a" {
			t.Errorf("unexpected node: %+v", got)
		}
		if len(got.Embedding) != 4 {
			t.Errorf("embedding lost: %v", got.Embedding)
		}
	})

	t.Run("GetNodeNotFound", func(t *testing.T) {
		e := open(t)
		defer e.Close()

		_, err := e.GetNode("missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		_, err = e.GetNode("")
		if !errors.Is(err, ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("PutNodeUpsertMovesLocalityIndex", func(t *testing.T) {
		e := open(t)
		defer e.Close()

		node := testNode("n1", "proj-a", "11111111")
		if err := e.PutNode(node); err != nil {
			t.Fatalf("PutNode failed: %v", err)
		}

		// Re-ingest with a new locality key.
		node.LocalityKey = "ffffffff"
		if err := e.PutNode(node); err != nil {
			t.Fatalf("PutNode upsert failed: %v", err)
		}

		low, err := e.NodesByLocalityRange("proj-a", "00000000", "22222222", 0)
		if err != nil {
			t.Fatalf("range failed: %v", err)
		}
		if len(low) != 0 {
			t.Errorf("stale index entry still present: %d nodes", len(low))
		}

		high, err := e.NodesByLocalityRange("proj-a", "f0000000", "ffffffff", 0)
		if err != nil {
			t.Fatalf("range failed: %v", err)
		}
		if len(high) != 1 || high[0].ID != "n1" {
			t.Errorf("expected moved node in new range, got %v", high)
		}

		count, _ := e.CountNodes()
		if count != 1 {
			t.Errorf("upsert must not double-count: got %d", count)
		}
	})

	t.Run("NodesByLocalityRange", func(t *testing.T) {
		e := open(t)
		defer e.Close()

		keys := []string{"00000010", "00000020", "00000030", "00000040", "00000050"}
		for i, k := range keys {
			if err := e.PutNode(testNode(NodeID(fmt.Sprintf("n%d", i)), "proj-a", k)); err != nil {
				t.Fatalf("PutNode failed: %v", err)
			}
		}
		// A different project must never leak into the scan.
		if err := e.PutNode(testNode("other", "proj-b", "00000030")); err != nil {
			t.Fatalf("PutNode failed: %v", err)
		}

		nodes, err := e.NodesByLocalityRange("proj-a", "00000020", "00000040", 0)
		if err != nil {
			t.Fatalf("range failed: %v", err)
		}
		if len(nodes) != 3 {
			t.Fatalf("expected 3 nodes in range, got %d", len(nodes))
		}
		if !sort.SliceIsSorted(nodes, func(i, j int) bool {
			return nodes[i].LocalityKey < nodes[j].LocalityKey
		}) {
			t.Error("range result not ordered by locality key")
		}

		limited, err := e.NodesByLocalityRange("proj-a", "00000010", "00000050", 2)
		if err != nil {
			t.Fatalf("range failed: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("limit ignored: got %d nodes", len(limited))
		}

		empty, err := e.NodesByLocalityRange("proj-c", "00000000", "ffffffff", 0)
		if err != nil {
			t.Fatalf("range on unknown project failed: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("unknown project should yield no nodes, got %d", len(empty))
		}

		inverted, err := e.NodesByLocalityRange("proj-a", "00000040", "00000020", 0)
		if err != nil {
			t.Fatalf("inverted range failed: %v", err)
		}
		if len(inverted) != 0 {
			t.Errorf("inverted range should be empty, got %d", len(inverted))
		}
	})

	t.Run("NodesByProject", func(t *testing.T) {
		e := open(t)
		defer e.Close()

		// Locality keys deliberately run opposite to id order.
		for i := 0; i < 3; i++ {
			if err := e.PutNode(testNode(NodeID(fmt.Sprintf("a%d", i)), "proj-a", fmt.Sprintf("%08x", 9-i))); err != nil {
				t.Fatalf("PutNode failed: %v", err)
			}
		}
		if err := e.PutNode(testNode("b0", "proj-b", "00000001")); err != nil {
			t.Fatalf("PutNode failed: %v", err)
		}

		nodes, err := e.NodesByProject("proj-a")
		if err != nil {
			t.Fatalf("NodesByProject failed: %v", err)
		}
		if len(nodes) != 3 {
			t.Fatalf("expected 3 nodes, got %d", len(nodes))
		}
		for i, want := range []NodeID{"a0", "a1", "a2"} {
			if nodes[i].ID != want {
				t.Errorf("nodes[%d].ID = %s, want %s (id order)", i, nodes[i].ID, want)
			}
		}
	})

	t.Run("DeleteNodeCascadesLinks", func(t *testing.T) {
		e := open(t)
		defer e.Close()

		mustPutNode(t, e, testNode("n1", "proj-a", "00000001"))
		mustPutNode(t, e, testNode("n2", "proj-a", "00000002"))
		mustPutNode(t, e, testNode("n3", "proj-a", "00000003"))
		mustPutLink(t, e, testLink("l1", "proj-a", "n1", "n2"))
		mustPutLink(t, e, testLink("l2", "proj-a", "n2", "n3"))

		if err := e.DeleteNode("n2"); err != nil {
			t.Fatalf("DeleteNode failed: %v", err)
		}

		if _, err := e.GetNode("n2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("node still present: %v", err)
		}
		for _, id := range []LinkID{"l1", "l2"} {
			if _, err := e.GetLink(id); !errors.Is(err, ErrNotFound) {
				t.Errorf("link %s should be cascaded away, got %v", id, err)
			}
		}
		links, err := e.LinksBySource("n1")
		if err != nil {
			t.Fatalf("LinksBySource failed: %v", err)
		}
		if len(links) != 0 {
			t.Errorf("dangling adjacency entries: %v", links)
		}

		count, _ := e.CountLinks()
		if count != 0 {
			t.Errorf("link count should be 0 after cascade, got %d", count)
		}
	})

	t.Run("LinkAdjacency", func(t *testing.T) {
		e := open(t)
		defer e.Close()

		mustPutNode(t, e, testNode("n1", "proj-a", "00000001"))
		mustPutNode(t, e, testNode("n2", "proj-a", "00000002"))
		mustPutNode(t, e, testNode("n3", "proj-a", "00000003"))
		mustPutLink(t, e, testLink("l1", "proj-a", "n1", "n2"))
		mustPutLink(t, e, testLink("l2", "proj-a", "n1", "n3"))
		mustPutLink(t, e, testLink("l3", "proj-a", "n2", "n1"))

		out, err := e.LinksBySource("n1")
		if err != nil {
			t.Fatalf("LinksBySource failed: %v", err)
		}
		if len(out) != 2 {
			t.Errorf("expected 2 outgoing links, got %d", len(out))
		}

		in, err := e.LinksByTarget("n1")
		if err != nil {
			t.Fatalf("LinksByTarget failed: %v", err)
		}
		if len(in) != 1 || in[0].ID != "l3" {
			t.Errorf("expected incoming l3, got %v", in)
		}

		all, err := e.LinksByProject("proj-a")
		if err != nil {
			t.Fatalf("LinksByProject failed: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 project links, got %d", len(all))
		}
	})

	t.Run("PutLinkUpsertPreservesCount", func(t *testing.T) {
		e := open(t)
		defer e.Close()

		mustPutNode(t, e, testNode("n1", "proj-a", "00000001"))
		mustPutNode(t, e, testNode("n2", "proj-a", "00000002"))

		link := testLink("l1", "proj-a", "n1", "n2")
		mustPutLink(t, e, link)

		link.Confidence = 0.95
		link.AppendHistory(HistoryEntry{Action: HistoryUpdated, Fields: []string{"confidence"}, Timestamp: time.Now()})
		mustPutLink(t, e, link)

		got, err := e.GetLink("l1")
		if err != nil {
			t.Fatalf("GetLink failed: %v", err)
		}
		if got.Confidence != 0.95 {
			t.Errorf("update lost: confidence %v", got.Confidence)
		}
		if len(got.History) != 1 {
			t.Errorf("history lost: %v", got.History)
		}

		count, _ := e.CountLinks()
		if count != 1 {
			t.Errorf("upsert must not double-count: got %d", count)
		}
	})

	t.Run("DeleteLink", func(t *testing.T) {
		e := open(t)
		defer e.Close()

		mustPutNode(t, e, testNode("n1", "proj-a", "00000001"))
		mustPutNode(t, e, testNode("n2", "proj-a", "00000002"))
		mustPutLink(t, e, testLink("l1", "proj-a", "n1", "n2"))

		if err := e.DeleteLink("l1"); err != nil {
			t.Fatalf("DeleteLink failed: %v", err)
		}
		if err := e.DeleteLink("l1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on double delete, got %v", err)
		}

		out, _ := e.LinksBySource("n1")
		if len(out) != 0 {
			t.Errorf("adjacency entry survived delete: %v", out)
		}
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		e := open(t)
		defer e.Close()

		mustPutNode(t, e, testNode("n1", "proj-a", "00000001"))

		first, err := e.GetNode("n1")
		if err != nil {
			t.Fatalf("GetNode failed: %v", err)
		}
		first.Embedding[0] = 999
		first.Title = "mutated"

		second, err := e.GetNode("n1")
		if err != nil {
			t.Fatalf("GetNode failed: %v", err)
		}
		if second.Embedding[0] == 999 || second.Title == "mutated" {
			t.Error("stored node was mutated through a returned pointer")
		}
	})

	t.Run("ClosedEngine", func(t *testing.T) {
		e := open(t)
		if err := e.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		if err := e.PutNode(testNode("n1", "proj-a", "00000001")); !errors.Is(err, ErrStorageClosed) {
			t.Errorf("PutNode after close: %v", err)
		}
		if _, err := e.GetNode("n1"); !errors.Is(err, ErrStorageClosed) {
			t.Errorf("GetNode after close: %v", err)
		}
		if _, err := e.LinksByProject("proj-a"); !errors.Is(err, ErrStorageClosed) {
			t.Errorf("LinksByProject after close: %v", err)
		}
	})
}

func testNode(id NodeID, project ProjectID, localityKey string) *Node {
	now := time.Now()
	return &Node{
		ID:          id,
		ProjectID:   project,
		Title:       "title " + string(id),
		Text:        "text for " + string(id),
		Embedding:   []float32{0.1, 0.2, 0.3, 0.4},
		LocalityKey: localityKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func testLink(id LinkID, project ProjectID, source, target NodeID) *Link {
	now := time.Now()
	return &Link{
		ID:         id,
		ProjectID:  project,
		SourceID:   source,
		TargetID:   target,
		Type:       "related",
		Confidence: 0.8,
		Weight:     1.0,
		Active:     true,
		Provenance: Provenance{Method: ProvenanceManual, Timestamp: now},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func mustPutNode(t *testing.T, e Engine, node *Node) {
	t.Helper()
	if err := e.PutNode(node); err != nil {
		t.Fatalf("PutNode(%s) failed: %v", node.ID, err)
	}
}

func mustPutLink(t *testing.T, e Engine, link *Link) {
	t.Helper()
	if err := e.PutLink(link); err != nil {
		t.Fatalf("PutLink(%s) failed: %v", link.ID, err)
	}
}
