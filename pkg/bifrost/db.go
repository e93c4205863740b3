// Package bifrost is the public face of the reasoning engine. It wires
// the storage engine, the spatial prefilter index, the relation store,
// the suggestion pipeline, and the multi-hop reasoner into one DB
// handle.
//
// Basic usage:
//
//	db, err := bifrost.Open("./data", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	nodes, err := db.IngestNodes(ctx, "proj-a", drafts)
//	suggestions, err := db.SuggestLinks(ctx, nodes[0].ID, suggest.Options{})
//
// An empty dataDir opens in-memory storage for tests and ephemeral
// sessions; a path opens persistent BadgerDB storage there. All methods
// are safe for concurrent use.
package bifrost

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/orneryd/bifrost/pkg/config"
	"github.com/orneryd/bifrost/pkg/embed"
	"github.com/orneryd/bifrost/pkg/linker"
	"github.com/orneryd/bifrost/pkg/reason"
	"github.com/orneryd/bifrost/pkg/spatial"
	"github.com/orneryd/bifrost/pkg/storage"
	"github.com/orneryd/bifrost/pkg/suggest"
)

var (
	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("database is closed")

	// ErrInvalidInput covers nil or empty required arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// DB is a ready-to-use reasoning engine instance.
type DB struct {
	config *config.Config
	mu     sync.RWMutex
	closed bool

	engine    storage.Engine
	index     *spatial.Index
	links     *linker.Store
	suggester *suggest.Engine
	reasoner  *reason.Engine
	embedder  embed.Embedder
	logger    storage.Logger
}

// Open opens or creates a Bifrost database.
//
// dataDir selects the storage mode: a non-empty path opens persistent
// BadgerDB storage at that directory (created if missing), an empty
// string opens in-memory storage whose contents are lost on Close.
//
// cfg may be nil, which loads built-in defaults plus BIFROST_*
// environment overrides. The configuration is validated before any
// resource is opened.
//
// The returned DB embeds with a deterministic mock by default; call
// SetEmbedder to wire a real model, and SetLabelCapability to enable
// model-backed relation labeling.
func Open(dataDir string, cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.LoadFromEnv()
	}
	if dataDir != "" {
		cfg.Storage.Engine = config.EngineBadger
		cfg.Storage.DataDir = dataDir
	} else {
		cfg.Storage.Engine = config.EngineMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := loggerFromConfig(cfg.Logging)
	db := &DB{config: cfg, logger: logger}

	if cfg.Storage.Engine == config.EngineBadger {
		engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
			DataDir:             cfg.Storage.DataDir,
			SyncWrites:          cfg.Storage.SyncWrites,
			LowMemory:           cfg.Storage.LowMemory,
			NodeCacheMaxEntries: cfg.Storage.NodeCacheEntries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent storage: %w", err)
		}
		db.engine = engine
	} else {
		db.engine = storage.NewMemoryEngine()
	}

	db.index = spatial.New(db.engine, spatial.Config{
		Dimensions:  cfg.Spatial.Dimensions,
		Capacity:    cfg.Spatial.CacheCapacity,
		RangeRadius: cfg.Spatial.RangeRadius,
		Logger:      logger,
	})
	db.links = linker.NewStore(db.engine, linker.Config{
		Weights:     cfg.Linker.Weights,
		CycleBudget: cfg.Linker.CycleBudget,
		Logger:      logger,
	})
	db.embedder = embed.NewMockEmbedder(cfg.Spatial.Dimensions)
	db.rebuildPipeline(nil)

	logger.Log("info", "bifrost opened", map[string]any{
		"storage":    cfg.Storage.Engine,
		"data_dir":   cfg.Storage.DataDir,
		"dimensions": cfg.Spatial.Dimensions,
	})
	return db, nil
}

// loggerFromConfig builds the configured logger: text or json format,
// filtered to the configured minimum level.
func loggerFromConfig(cfg config.LoggingConfig) storage.Logger {
	var inner storage.Logger
	if cfg.Format == "json" {
		inner = storage.DefaultLogger()
	} else {
		inner = storage.TextLogger()
	}
	return storage.LevelFilter(inner, cfg.Level)
}

// rebuildPipeline constructs the suggestion and reasoning engines.
// Callers must hold db.mu.
func (db *DB) rebuildPipeline(capability suggest.LabelFunc) {
	db.suggester = suggest.New(db.engine, db.index, suggest.Config{
		Threshold:         db.config.Suggest.Threshold,
		PrefilterMultiple: db.config.Suggest.PrefilterMultiple,
		HalfLife:          db.config.Suggest.HalfLife,
		Weights:           db.config.Linker.Weights,
		Capability:        capability,
		Logger:            db.logger,
	})
	db.reasoner = reason.New(db.suggester, db.links, reason.Config{
		HopConfidence: db.config.Reason.HopConfidence,
		Logger:        db.logger,
	})
}

// Close releases the storage engine. Safe to call more than once.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	if err := db.engine.Close(); err != nil {
		return fmt.Errorf("closing storage: %w", err)
	}
	return nil
}

// SetEmbedder replaces the embedder used by IngestNodes. The default is
// the deterministic mock sized to the configured dimensions. A nil
// embedder is ignored. Dimension mismatches surface on the next ingest.
func (db *DB) SetEmbedder(e embed.Embedder) {
	if e == nil {
		return
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.embedder = e
}

// SetLabelCapability wires the model-backed labeling function used by
// suggest.ModeModel. Passing nil removes it, making model mode fail
// again.
func (db *DB) SetLabelCapability(fn suggest.LabelFunc) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rebuildPipeline(fn)
}

// Storage exposes the backing engine for advanced callers. The engine
// stays owned by the DB; do not Close it directly.
func (db *DB) Storage() storage.Engine {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.engine
}

// GetNode loads one node by id.
func (db *DB) GetNode(ctx context.Context, id storage.NodeID) (*storage.Node, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	if id == "" {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return db.engine.GetNode(id)
}

// DeleteNode removes a node from storage and the spatial index. The
// engine cascades the delete to every link touching the node.
func (db *DB) DeleteNode(ctx context.Context, id storage.NodeID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	if id == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := db.engine.DeleteNode(id); err != nil {
		return fmt.Errorf("deleting node %s: %w", id, err)
	}
	db.index.Remove(id)
	return nil
}

// WarmupProjects loads the named projects from storage into the spatial
// index. Call it after reopening a persistent database so searches see
// existing nodes. Returns the number of entries indexed.
func (db *DB) WarmupProjects(ctx context.Context, projects []storage.ProjectID) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return 0, ErrClosed
	}
	return db.index.WarmupCache(ctx, projects)
}

// SuggestLinks runs the suggestion pipeline for one source node. A zero
// opts.TopK uses the configured default.
func (db *DB) SuggestLinks(ctx context.Context, sourceID storage.NodeID, opts suggest.Options) ([]suggest.Suggestion, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	if sourceID == "" {
		return nil, ErrInvalidInput
	}
	if opts.TopK == 0 {
		opts.TopK = db.config.Suggest.TopK
	}
	return db.suggester.SuggestLinks(ctx, sourceID, opts)
}

// InferRelations runs depth-bounded multi-hop inference. Zero
// opts.TopK and opts.Depth use the configured default and one hop.
func (db *DB) InferRelations(ctx context.Context, opts reason.InferOptions) (*reason.InferenceResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	if opts.StartNodeID == "" {
		return nil, ErrInvalidInput
	}
	if opts.TopK == 0 {
		opts.TopK = db.config.Suggest.TopK
	}
	return db.reasoner.InferRelations(ctx, opts)
}

// FindChains searches persisted active links for directed paths between
// two nodes. Zero opts.MaxDepth and opts.MaxChains use the configured
// defaults.
func (db *DB) FindChains(ctx context.Context, opts reason.ChainOptions) ([]reason.Chain, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = db.config.Reason.ChainDepth
	}
	if opts.MaxChains == 0 {
		opts.MaxChains = db.config.Reason.MaxChains
	}
	return db.reasoner.FindChains(ctx, opts)
}

// Stats aggregates store counts and spatial cache behavior. Per-project
// link histograms come from LinkStatistics.
type Stats struct {
	Nodes   int64         `json:"nodes"`
	Links   int64         `json:"links"`
	Spatial spatial.Stats `json:"spatial"`
}

// Stats reports store counts and cache statistics.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nodes, err := db.engine.CountNodes()
	if err != nil {
		return nil, fmt.Errorf("counting nodes: %w", err)
	}
	links, err := db.engine.CountLinks()
	if err != nil {
		return nil, fmt.Errorf("counting links: %w", err)
	}
	return &Stats{
		Nodes:   nodes,
		Links:   links,
		Spatial: db.index.Stats(),
	}, nil
}

