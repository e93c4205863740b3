package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixNode        = byte(0x01) // node:nodeID -> gob(Node)
	prefixLink        = byte(0x02) // link:linkID -> gob(Link)
	prefixNodeProject = byte(0x03) // nodeidx:projectID:localityKey:nodeID -> []byte{}
	prefixLinkSource  = byte(0x04) // linksrc:sourceID:linkID -> []byte{}
	prefixLinkTarget  = byte(0x05) // linktgt:targetID:linkID -> []byte{}
	prefixLinkProject = byte(0x06) // linkprj:projectID:linkID -> []byte{}
)

// keySep separates variable-length segments inside index keys. IDs and
// project names must not contain a zero byte; locality keys are hex so
// they never do.
const keySep = byte(0x00)

// BadgerEngine provides persistent storage using BadgerDB.
//
// Features:
//   - Each operation runs in its own ACID transaction
//   - Secondary indexes for project, locality-key, and link adjacency scans
//   - Thread-safe concurrent access
//   - Automatic crash recovery
//
// Key Structure:
//   - Nodes: 0x01 + nodeID -> gob(Node)
//   - Links: 0x02 + linkID -> gob(Link)
//   - Node project/locality index: 0x03 + projectID + 0x00 + localityKey + 0x00 + nodeID -> empty
//   - Link source index: 0x04 + sourceID + 0x00 + linkID -> empty
//   - Link target index: 0x05 + targetID + 0x00 + linkID -> empty
//   - Link project index: 0x06 + projectID + 0x00 + linkID -> empty
//
// The node index embeds the locality key in key order, so the spatial
// prefilter's range scan is a plain ordered iteration within a project's
// key space with no full scan and no extra sort.
type BadgerEngine struct {
	db       *badger.DB
	mu       sync.RWMutex // guards closed
	closed   bool
	inMemory bool

	// Hot node cache for repeated GetNode lookups. The spatial index
	// keeps its own embedding cache; this one just saves gob decoding
	// on the cache-miss fallback path.
	nodeCache    map[NodeID]*Node
	nodeCacheMu  sync.RWMutex
	nodeCacheMax int
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64

	// Cached counts for O(1) stats lookups (updated on put/delete).
	nodeCount atomic.Int64
	linkCount atomic.Int64
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files. Required unless
	// InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Useful for testing.
	// Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool

	// LowMemory reduces memtable and cache sizes for constrained hosts.
	LowMemory bool

	// NodeCacheMaxEntries bounds the hot node cache. 0 uses the default
	// of 10000; negative disables the cache.
	NodeCacheMaxEntries int

	// Logger for BadgerDB internal logging. Nil silences it.
	Logger badger.Logger
}

// NewBadgerEngine creates a persistent storage engine with default
// settings.
//
// Parameters:
//   - dataDir: directory for data files, created if it doesn't exist.
//
// Returns:
//   - *BadgerEngine on success
//   - error if the database cannot be opened (permissions, disk space)
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("./data/bifrost")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
// Data is lost when the engine is closed.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom
// configuration.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
		badgerOpts.Dir = ""
		badgerOpts.ValueDir = ""
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(8 << 20).
			WithValueLogFileSize(32 << 20).
			WithNumMemtables(1).
			WithNumLevelZeroTables(1).
			WithNumLevelZeroTablesStall(2).
			WithValueThreshold(512).
			WithBlockCacheSize(8 << 20).
			WithIndexCacheSize(4 << 20)
	} else {
		badgerOpts = badgerOpts.
			WithMemTableSize(64 << 20).
			WithValueLogFileSize(128 << 20).
			WithNumMemtables(3).
			WithNumLevelZeroTables(5).
			WithNumLevelZeroTablesStall(10).
			WithValueThreshold(64 << 10).
			WithBlockCacheSize(64 << 20).
			WithIndexCacheSize(32 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	cacheMax := opts.NodeCacheMaxEntries
	if cacheMax == 0 {
		cacheMax = 10000
	}

	engine := &BadgerEngine{
		db:           db,
		inMemory:     opts.InMemory,
		nodeCacheMax: cacheMax,
	}
	if cacheMax > 0 {
		engine.nodeCache = make(map[NodeID]*Node, cacheMax)
	}

	// One-time scan so CountNodes/CountLinks are O(1) afterwards.
	if err := engine.initializeCounts(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize counts: %w", err)
	}

	return engine, nil
}

// IsInMemory reports whether the engine runs in memory-only mode.
func (b *BadgerEngine) IsInMemory() bool {
	return b.inMemory
}

// NodeCacheStats returns hot node cache hit/miss counters and the
// current entry count.
func (b *BadgerEngine) NodeCacheStats() (hits, misses, size int64) {
	b.nodeCacheMu.RLock()
	size = int64(len(b.nodeCache))
	b.nodeCacheMu.RUnlock()
	return b.cacheHits.Load(), b.cacheMisses.Load(), size
}

// CountNodes returns the number of stored nodes.
func (b *BadgerEngine) CountNodes() (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	return b.nodeCount.Load(), nil
}

// CountLinks returns the number of stored links.
func (b *BadgerEngine) CountLinks() (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	return b.linkCount.Load(), nil
}

// Close flushes and closes the underlying database. Operations after
// Close return ErrStorageClosed.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.db.Close()
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

func (b *BadgerEngine) initializeCounts() error {
	return b.db.View(func(txn *badger.Txn) error {
		var nodes, links int64

		it := txn.NewIterator(badgerIterOptsKeyOnly([]byte{prefixNode}))
		for it.Rewind(); it.Valid(); it.Next() {
			nodes++
		}
		it.Close()

		it = txn.NewIterator(badgerIterOptsKeyOnly([]byte{prefixLink}))
		for it.Rewind(); it.Valid(); it.Next() {
			links++
		}
		it.Close()

		b.nodeCount.Store(nodes)
		b.linkCount.Store(links)
		return nil
	})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

// nodeKey creates a key for storing a node.
func nodeKey(id NodeID) []byte {
	return append([]byte{prefixNode}, []byte(id)...)
}

// linkKey creates a key for storing a link.
func linkKey(id LinkID) []byte {
	return append([]byte{prefixLink}, []byte(id)...)
}

// nodeProjectIndexKey creates a node's project/locality index key.
// Format: prefix + projectID + 0x00 + localityKey + 0x00 + nodeID.
// Nodes without a locality key get an empty segment, which sorts first.
func nodeProjectIndexKey(project ProjectID, localityKey string, nodeID NodeID) []byte {
	key := make([]byte, 0, 1+len(project)+1+len(localityKey)+1+len(nodeID))
	key = append(key, prefixNodeProject)
	key = append(key, []byte(project)...)
	key = append(key, keySep)
	key = append(key, []byte(localityKey)...)
	key = append(key, keySep)
	key = append(key, []byte(nodeID)...)
	return key
}

// nodeProjectPrefix returns the prefix covering one project's node index.
func nodeProjectPrefix(project ProjectID) []byte {
	key := make([]byte, 0, 1+len(project)+1)
	key = append(key, prefixNodeProject)
	key = append(key, []byte(project)...)
	key = append(key, keySep)
	return key
}

// splitNodeIndexKey extracts (localityKey, nodeID) from a node index key,
// given the project prefix it was scanned under.
func splitNodeIndexKey(key, prefix []byte) (string, NodeID) {
	rest := key[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == keySep {
			return string(rest[:i]), NodeID(rest[i+1:])
		}
	}
	return "", NodeID(rest)
}

// adjacencyIndexKey builds a link adjacency index key.
// Format: prefix + ownerID + 0x00 + linkID.
func adjacencyIndexKey(prefix byte, owner string, linkID LinkID) []byte {
	key := make([]byte, 0, 1+len(owner)+1+len(linkID))
	key = append(key, prefix)
	key = append(key, []byte(owner)...)
	key = append(key, keySep)
	key = append(key, []byte(linkID)...)
	return key
}

// adjacencyIndexPrefix returns the scan prefix for one owner's links.
func adjacencyIndexPrefix(prefix byte, owner string) []byte {
	key := make([]byte, 0, 1+len(owner)+1)
	key = append(key, prefix)
	key = append(key, []byte(owner)...)
	key = append(key, keySep)
	return key
}

// ============================================================================
// Serialization helpers
// ============================================================================

// encodeNode serializes a Node using gob (preserves Go types like
// []float32 without lossy float conversions).
func encodeNode(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeNode deserializes a Node from gob.
func decodeNode(data []byte) (*Node, error) {
	var node Node
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&node); err != nil {
		return nil, err
	}
	return &node, nil
}

// encodeLink serializes a Link using gob.
func encodeLink(l *Link) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(l); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeLink deserializes a Link from gob.
func decodeLink(data []byte) (*Link, error) {
	var link Link
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&link); err != nil {
		return nil, err
	}
	return &link, nil
}
