package spatial

import (
	"container/list"

	"github.com/orneryd/bifrost/pkg/storage"
)

// DefaultCacheCapacity bounds the number of embeddings held across all
// projects. Eviction drops least-recently-accessed entries; it never
// touches the backing store.
const DefaultCacheCapacity = 4000

// cacheEntry is one cached embedding. Embeddings are treated as
// immutable once cached; readers may hold the slice without copying as
// long as they never write to it. External callers always get copies.
type cacheEntry struct {
	nodeID      storage.NodeID
	projectID   storage.ProjectID
	embedding   []float32
	localityKey string
	seq         uint64
}

// lruStore is the arena half of the index: a map for O(1) lookup plus a
// recency list for O(1) eviction ordering. Each access stamps the entry
// with a monotonically increasing sequence, so the list back always
// holds the lowest-seq entry.
//
// Not safe for concurrent use. The Index serializes all access under
// its own mutex.
type lruStore struct {
	capacity int
	ll       *list.List // front = most recently accessed
	items    map[storage.NodeID]*list.Element
	seq      uint64
}

func newLRUStore(capacity int) *lruStore {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &lruStore{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[storage.NodeID]*list.Element, capacity),
	}
}

// get returns the entry for id and marks it accessed.
func (s *lruStore) get(id storage.NodeID) (*cacheEntry, bool) {
	elem, ok := s.items[id]
	if !ok {
		return nil, false
	}
	s.touch(elem)
	return elem.Value.(*cacheEntry), true
}

// touch refreshes an entry's recency without returning it.
func (s *lruStore) touch(elem *list.Element) {
	s.seq++
	elem.Value.(*cacheEntry).seq = s.seq
	s.ll.MoveToFront(elem)
}

// put inserts or replaces an entry and returns whatever entries were
// evicted to stay under capacity.
func (s *lruStore) put(entry *cacheEntry) []*cacheEntry {
	s.seq++
	entry.seq = s.seq

	if elem, ok := s.items[entry.nodeID]; ok {
		elem.Value = entry
		s.ll.MoveToFront(elem)
		return nil
	}

	s.items[entry.nodeID] = s.ll.PushFront(entry)

	var evicted []*cacheEntry
	for s.ll.Len() > s.capacity {
		back := s.ll.Back()
		if back == nil {
			break
		}
		e := back.Value.(*cacheEntry)
		s.ll.Remove(back)
		delete(s.items, e.nodeID)
		evicted = append(evicted, e)
	}
	return evicted
}

// remove deletes an entry by id, reporting whether it was present.
func (s *lruStore) remove(id storage.NodeID) (*cacheEntry, bool) {
	elem, ok := s.items[id]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	s.ll.Remove(elem)
	delete(s.items, id)
	return entry, true
}

func (s *lruStore) len() int {
	return s.ll.Len()
}
