package storage

import (
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// PutNode stores or replaces a node (upsert). Index entries for the
// project/locality index are maintained in the same transaction, so a
// crash can never leave a node unreachable by scan.
func (b *BadgerEngine) PutNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	var created bool
	err := b.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(node.ID)

		// Drop the previous index entry if project or locality changed.
		item, err := txn.Get(key)
		switch err {
		case nil:
			var old *Node
			if verr := item.Value(func(val []byte) error {
				var derr error
				old, derr = decodeNode(val)
				return derr
			}); verr != nil {
				return verr
			}
			if old.ProjectID != node.ProjectID || old.LocalityKey != node.LocalityKey {
				if derr := txn.Delete(nodeProjectIndexKey(old.ProjectID, old.LocalityKey, old.ID)); derr != nil {
					return derr
				}
			}
		case badger.ErrKeyNotFound:
			created = true
		default:
			return err
		}

		data, err := encodeNode(node)
		if err != nil {
			return fmt.Errorf("failed to encode node: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(nodeProjectIndexKey(node.ProjectID, node.LocalityKey, node.ID), []byte{})
	})
	if err != nil {
		return err
	}

	if created {
		b.nodeCount.Add(1)
	}
	b.cacheNode(node)
	return nil
}

// GetNode retrieves a node by ID, consulting the hot cache first.
func (b *BadgerEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	if b.nodeCache != nil {
		b.nodeCacheMu.RLock()
		cached, ok := b.nodeCache[id]
		b.nodeCacheMu.RUnlock()
		if ok {
			b.cacheHits.Add(1)
			// Return a copy so callers can't mutate the cache.
			return copyNode(cached), nil
		}
		b.cacheMisses.Add(1)
	}

	var node *Node
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			node, decodeErr = decodeNode(val)
			return decodeErr
		})
	})
	if err != nil {
		return nil, err
	}

	b.cacheNode(node)
	return node, nil
}

// DeleteNode removes a node, its index entries, and every link touching it.
func (b *BadgerEngine) DeleteNode(id NodeID) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	var linksRemoved int64
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var node *Node
		if verr := item.Value(func(val []byte) error {
			var derr error
			node, derr = decodeNode(val)
			return derr
		}); verr != nil {
			return verr
		}

		if err := txn.Delete(nodeProjectIndexKey(node.ProjectID, node.LocalityKey, node.ID)); err != nil {
			return err
		}
		if err := txn.Delete(nodeKey(id)); err != nil {
			return err
		}

		// Cascade to links in both directions.
		for _, prefix := range []byte{prefixLinkSource, prefixLinkTarget} {
			ids, err := scanAdjacency(txn, prefix, string(id))
			if err != nil {
				return err
			}
			for _, linkID := range ids {
				removed, err := deleteLinkInTxn(txn, linkID)
				if err != nil {
					return err
				}
				if removed {
					linksRemoved++
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.nodeCount.Add(-1)
	b.linkCount.Add(-linksRemoved)
	b.uncacheNode(id)
	return nil
}

// NodesByProject returns all nodes in a project, ordered by node id so
// batch walks behave the same on every engine.
func (b *BadgerEngine) NodesByProject(project ProjectID) ([]*Node, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var nodes []*Node
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := nodeProjectPrefix(project)
		it := txn.NewIterator(badgerIterOptsKeyOnly(prefix))
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			_, nodeID := splitNodeIndexKey(it.Item().Key(), prefix)
			node, err := getNodeInTxn(txn, nodeID)
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// The index iterates in locality-key order; callers get id order.
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// NodesByLocalityRange returns a project's nodes whose locality key falls
// within [lo, hi], ordered by key ascending.
//
// This is the storage half of the spatial prefilter: because the locality
// key is embedded in the index key, the scan is a single ordered
// iteration that starts at lo and stops past hi: O(log N) seek plus
// O(K) iteration, never a full project scan.
func (b *BadgerEngine) NodesByLocalityRange(project ProjectID, lo, hi string, limit int) ([]*Node, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if hi < lo {
		return nil, nil
	}

	var nodes []*Node
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := nodeProjectPrefix(project)
		it := txn.NewIterator(badgerIterOptsKeyOnly(prefix))
		defer it.Close()

		seek := append(append([]byte{}, prefix...), []byte(lo)...)
		for it.Seek(seek); it.Valid(); it.Next() {
			localityKey, nodeID := splitNodeIndexKey(it.Item().Key(), prefix)
			if localityKey > hi {
				break
			}
			node, err := getNodeInTxn(txn, nodeID)
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
			if limit > 0 && len(nodes) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func getNodeInTxn(txn *badger.Txn, id NodeID) (*Node, error) {
	item, err := txn.Get(nodeKey(id))
	if err == badger.ErrKeyNotFound {
		// Index entry without a record means a partially deleted node;
		// surface it rather than skipping silently.
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var node *Node
	err = item.Value(func(val []byte) error {
		var derr error
		node, derr = decodeNode(val)
		return derr
	})
	return node, err
}

func (b *BadgerEngine) cacheNode(node *Node) {
	if b.nodeCache == nil || node == nil {
		return
	}
	b.nodeCacheMu.Lock()
	// Simple eviction: clear when full. The spatial index carries the
	// real LRU; this cache only smooths repeated point lookups.
	if len(b.nodeCache) >= b.nodeCacheMax {
		b.nodeCache = make(map[NodeID]*Node, b.nodeCacheMax)
	}
	b.nodeCache[node.ID] = copyNode(node)
	b.nodeCacheMu.Unlock()
}

func (b *BadgerEngine) uncacheNode(id NodeID) {
	if b.nodeCache == nil {
		return
	}
	b.nodeCacheMu.Lock()
	delete(b.nodeCache, id)
	b.nodeCacheMu.Unlock()
}
