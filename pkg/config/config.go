// Package config handles Bifrost configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--data-dir, --log-level, etc.)
//  2. Environment variables (BIFROST_*)
//  3. Config file (config.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("Storage: %s at %s\n", cfg.Storage.Engine, cfg.Storage.DataDir)
//
// Environment Variables (all use BIFROST_ prefix):
//
// Storage:
//   - BIFROST_STORAGE_ENGINE="badger" or "memory"
//   - BIFROST_DATA_DIR="./data"
//   - BIFROST_SYNC_WRITES=true
//   - BIFROST_NODE_CACHE_ENTRIES=10000
//
// Spatial index:
//   - BIFROST_DIMENSIONS=512
//   - BIFROST_CACHE_CAPACITY=4000
//   - BIFROST_RANGE_RADIUS=65536
//
// Link scoring:
//   - BIFROST_CYCLE_BUDGET=50
//   - BIFROST_WEIGHT_SEMANTIC=0.5
//   - BIFROST_WEIGHT_AI=0.3
//
// Suggestions:
//   - BIFROST_SUGGEST_THRESHOLD=0.78
//   - BIFROST_SUGGEST_TOP_K=10
//   - BIFROST_CONTEXT_HALF_LIFE=72h
//
// Reasoning:
//   - BIFROST_HOP_CONFIDENCE=0.5
//   - BIFROST_CHAIN_DEPTH=4
//
// Logging:
//   - BIFROST_LOG_LEVEL="info"
//   - BIFROST_LOG_FORMAT="text"
//
// For a complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/bifrost/pkg/linker"
	"github.com/orneryd/bifrost/pkg/reason"
	"github.com/orneryd/bifrost/pkg/spatial"
	"github.com/orneryd/bifrost/pkg/suggest"
)

// Storage engine names accepted by StorageConfig.Engine.
const (
	EngineBadger = "badger"
	EngineMemory = "memory"
)

// Config holds all Bifrost configuration.
//
// Configuration is organized into logical sections:
//   - Storage: backing store selection and tuning
//   - Spatial: locality prefilter index settings
//   - Linker: confidence blend and cycle guard settings
//   - Suggest: suggestion pipeline settings
//   - Reason: multi-hop reasoning settings
//   - Logging: logging configuration
//
// Use LoadFromEnv() to create a Config from environment variables, or
// LoadFromFile() to layer a YAML file underneath them.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Config: %s\n", cfg)
type Config struct {
	// Storage engine selection and tuning
	Storage StorageConfig

	// Spatial prefilter index settings
	Spatial SpatialConfig

	// Relation store settings (confidence blend, cycle guard)
	Linker LinkerConfig

	// Suggestion pipeline settings
	Suggest SuggestConfig

	// Multi-hop reasoning settings
	Reason ReasonConfig

	// Logging
	Logging LoggingConfig
}

// StorageConfig holds backing store settings.
type StorageConfig struct {
	// Engine selects the backing store: "badger" or "memory"
	Engine string
	// DataDir is the directory for data files (badger engine)
	DataDir string
	// SyncWrites forces fsync after each write
	SyncWrites bool
	// LowMemory reduces memtable and cache sizes for constrained hosts
	LowMemory bool
	// NodeCacheEntries bounds the hot node cache; 0 uses the engine
	// default, negative disables the cache
	NodeCacheEntries int
}

// SpatialConfig holds locality prefilter index settings.
type SpatialConfig struct {
	// Dimensions of stored embeddings
	Dimensions int
	// CacheCapacity bounds cached embeddings across all projects
	CacheCapacity int
	// RangeRadius is the half-width of locality key range scans
	RangeRadius uint64
}

// LinkerConfig holds relation store settings.
type LinkerConfig struct {
	// Weights blend the four confidence signals
	Weights linker.Weights
	// CycleBudget caps nodes visited per cycle check
	CycleBudget int
}

// SuggestConfig holds suggestion pipeline settings.
type SuggestConfig struct {
	// Threshold is the minimum cosine similarity for a candidate;
	// negative disables the filter
	Threshold float64
	// PrefilterMultiple widens locality retrieval relative to top-k
	PrefilterMultiple int
	// HalfLife is the decay horizon of the recency signal
	HalfLife time.Duration
	// TopK is the default suggestion count
	TopK int
}

// ReasonConfig holds multi-hop reasoning settings.
type ReasonConfig struct {
	// HopConfidence is the minimum confidence for widening a hop
	HopConfidence float64
	// ChainDepth is the default maximum links per chain
	ChainDepth int
	// MaxChains is the default chain result bound
	MaxChains int
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level: "debug", "info", "warn", "error"
	Level string
	// Format: "text" or "json"
	Format string
}

// LoadDefaults returns a Config carrying the built-in defaults, before
// any file or environment overrides.
func LoadDefaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:  EngineBadger,
			DataDir: "./data",
		},
		Spatial: SpatialConfig{
			Dimensions:    spatial.DefaultDimensions,
			CacheCapacity: spatial.DefaultCacheCapacity,
			RangeRadius:   spatial.DefaultRangeRadius,
		},
		Linker: LinkerConfig{
			Weights:     linker.DefaultWeights(),
			CycleBudget: linker.DefaultCycleBudget,
		},
		Suggest: SuggestConfig{
			Threshold:         suggest.DefaultThreshold,
			PrefilterMultiple: suggest.DefaultPrefilterMultiple,
			HalfLife:          suggest.DefaultHalfLife,
			TopK:              suggest.DefaultTopK,
		},
		Reason: ReasonConfig{
			HopConfidence: reason.DefaultHopConfidence,
			ChainDepth:    reason.DefaultChainDepth,
			MaxChains:     reason.DefaultMaxChains,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromEnv creates a Config from built-in defaults plus BIFROST_*
// environment variable overrides.
func LoadFromEnv() *Config {
	config := LoadDefaults()
	applyEnvVars(config)
	return config
}

// applyEnvVars overlays BIFROST_* environment variables onto config.
// Unset or unparseable variables leave the current value in place.
func applyEnvVars(config *Config) {
	// === Storage Settings ===
	config.Storage.Engine = getEnv("BIFROST_STORAGE_ENGINE", config.Storage.Engine)
	config.Storage.DataDir = getEnv("BIFROST_DATA_DIR", config.Storage.DataDir)
	config.Storage.SyncWrites = getEnvBool("BIFROST_SYNC_WRITES", config.Storage.SyncWrites)
	config.Storage.LowMemory = getEnvBool("BIFROST_LOW_MEMORY", config.Storage.LowMemory)
	config.Storage.NodeCacheEntries = getEnvInt("BIFROST_NODE_CACHE_ENTRIES", config.Storage.NodeCacheEntries)

	// === Spatial Index Settings ===
	config.Spatial.Dimensions = getEnvInt("BIFROST_DIMENSIONS", config.Spatial.Dimensions)
	config.Spatial.CacheCapacity = getEnvInt("BIFROST_CACHE_CAPACITY", config.Spatial.CacheCapacity)
	config.Spatial.RangeRadius = getEnvUint64("BIFROST_RANGE_RADIUS", config.Spatial.RangeRadius)

	// === Link Scoring Settings ===
	config.Linker.CycleBudget = getEnvInt("BIFROST_CYCLE_BUDGET", config.Linker.CycleBudget)
	config.Linker.Weights.Semantic = getEnvFloat("BIFROST_WEIGHT_SEMANTIC", config.Linker.Weights.Semantic)
	config.Linker.Weights.AI = getEnvFloat("BIFROST_WEIGHT_AI", config.Linker.Weights.AI)
	config.Linker.Weights.Lexical = getEnvFloat("BIFROST_WEIGHT_LEXICAL", config.Linker.Weights.Lexical)
	config.Linker.Weights.Contextual = getEnvFloat("BIFROST_WEIGHT_CONTEXTUAL", config.Linker.Weights.Contextual)

	// === Suggestion Settings ===
	config.Suggest.Threshold = getEnvFloat("BIFROST_SUGGEST_THRESHOLD", config.Suggest.Threshold)
	config.Suggest.PrefilterMultiple = getEnvInt("BIFROST_PREFILTER_MULTIPLE", config.Suggest.PrefilterMultiple)
	config.Suggest.HalfLife = getEnvDuration("BIFROST_CONTEXT_HALF_LIFE", config.Suggest.HalfLife)
	config.Suggest.TopK = getEnvInt("BIFROST_SUGGEST_TOP_K", config.Suggest.TopK)

	// === Reasoning Settings ===
	config.Reason.HopConfidence = getEnvFloat("BIFROST_HOP_CONFIDENCE", config.Reason.HopConfidence)
	config.Reason.ChainDepth = getEnvInt("BIFROST_CHAIN_DEPTH", config.Reason.ChainDepth)
	config.Reason.MaxChains = getEnvInt("BIFROST_MAX_CHAINS", config.Reason.MaxChains)

	// === Logging Settings ===
	config.Logging.Level = getEnv("BIFROST_LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("BIFROST_LOG_FORMAT", config.Logging.Format)
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case EngineBadger, EngineMemory:
	default:
		return fmt.Errorf("unknown storage engine: %q", c.Storage.Engine)
	}
	if c.Storage.Engine == EngineBadger && c.Storage.DataDir == "" {
		return fmt.Errorf("badger storage requires a data directory")
	}

	if c.Spatial.Dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", c.Spatial.Dimensions)
	}
	if c.Spatial.CacheCapacity <= 0 {
		return fmt.Errorf("invalid cache capacity: %d", c.Spatial.CacheCapacity)
	}
	if c.Spatial.RangeRadius == 0 {
		return fmt.Errorf("range radius must be positive")
	}

	if c.Linker.CycleBudget <= 0 {
		return fmt.Errorf("invalid cycle budget: %d", c.Linker.CycleBudget)
	}
	w := c.Linker.Weights
	if w.Semantic < 0 || w.AI < 0 || w.Lexical < 0 || w.Contextual < 0 {
		return fmt.Errorf("signal weights must not be negative")
	}
	if w.Semantic+w.AI+w.Lexical+w.Contextual == 0 {
		return fmt.Errorf("signal weights sum to zero")
	}

	if c.Suggest.Threshold > 1 {
		return fmt.Errorf("similarity threshold above 1 matches nothing: %g", c.Suggest.Threshold)
	}
	if c.Suggest.PrefilterMultiple <= 0 {
		return fmt.Errorf("invalid prefilter multiple: %d", c.Suggest.PrefilterMultiple)
	}
	if c.Suggest.HalfLife <= 0 {
		return fmt.Errorf("invalid context half-life: %v", c.Suggest.HalfLife)
	}
	if c.Suggest.TopK <= 0 {
		return fmt.Errorf("invalid suggestion top-k: %d", c.Suggest.TopK)
	}

	if c.Reason.HopConfidence < 0 || c.Reason.HopConfidence > 1 {
		return fmt.Errorf("hop confidence must be between 0 and 1: %g", c.Reason.HopConfidence)
	}
	if c.Reason.ChainDepth <= 0 {
		return fmt.Errorf("invalid chain depth: %d", c.Reason.ChainDepth)
	}
	if c.Reason.MaxChains <= 0 {
		return fmt.Errorf("invalid max chains: %d", c.Reason.MaxChains)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}

	return nil
}

// String returns a compact representation of the Config, suitable for
// startup logging.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	log.Printf("Starting with config: %s", cfg)
//	// Output: Config{Storage: badger@./data, Dims: 512, Threshold: 0.78, HopConfidence: 0.50, Log: info/text}
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Storage: %s@%s, Dims: %d, Threshold: %.2f, HopConfidence: %.2f, Log: %s/%s}",
		c.Storage.Engine, c.Storage.DataDir,
		c.Spatial.Dimensions,
		c.Suggest.Threshold,
		c.Reason.HopConfidence,
		c.Logging.Level, c.Logging.Format,
	)
}

// YAMLConfig represents the YAML configuration file structure.
// All fields mirror the environment variable configuration options.
type YAMLConfig struct {
	// Storage configuration
	Storage struct {
		Engine           string `yaml:"engine"`
		DataDir          string `yaml:"data_dir"`
		Path             string `yaml:"path"` // Alias for data_dir
		SyncWrites       bool   `yaml:"sync_writes"`
		LowMemory        bool   `yaml:"low_memory"`
		NodeCacheEntries int    `yaml:"node_cache_entries"`
	} `yaml:"storage"`

	// Spatial index configuration
	Spatial struct {
		Dimensions    int    `yaml:"dimensions"`
		CacheCapacity int    `yaml:"cache_capacity"`
		RangeRadius   uint64 `yaml:"range_radius"`
	} `yaml:"spatial"`

	// Link scoring configuration
	Linker struct {
		CycleBudget int `yaml:"cycle_budget"`
		Weights     struct {
			Semantic   float64 `yaml:"semantic"`
			AI         float64 `yaml:"ai"`
			Lexical    float64 `yaml:"lexical"`
			Contextual float64 `yaml:"contextual"`
		} `yaml:"weights"`
	} `yaml:"linker"`

	// Suggestion pipeline configuration
	Suggest struct {
		Threshold         float64 `yaml:"threshold"`
		PrefilterMultiple int     `yaml:"prefilter_multiple"`
		HalfLife          string  `yaml:"half_life"`
		TopK              int     `yaml:"top_k"`
	} `yaml:"suggest"`

	// Reasoning configuration
	Reason struct {
		HopConfidence float64 `yaml:"hop_confidence"`
		ChainDepth    int     `yaml:"chain_depth"`
		MaxChains     int     `yaml:"max_chains"`
	} `yaml:"reason"`

	// Logging configuration
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadFromFile loads configuration from a YAML file.
//
// A missing file is not an error; the result is then defaults plus
// environment overrides. Precedence: env > file > defaults.
func LoadFromFile(configPath string) (*Config, error) {
	// Step 1: Start with built-in defaults
	config := LoadDefaults()

	// Step 2: Overlay the YAML config file, if present
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvVars(config)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// === Storage Settings ===
	if yamlCfg.Storage.Engine != "" {
		config.Storage.Engine = yamlCfg.Storage.Engine
	}
	if yamlCfg.Storage.DataDir != "" {
		config.Storage.DataDir = yamlCfg.Storage.DataDir
	}
	if yamlCfg.Storage.Path != "" {
		config.Storage.DataDir = yamlCfg.Storage.Path
	}
	if yamlCfg.Storage.SyncWrites {
		config.Storage.SyncWrites = true
	}
	if yamlCfg.Storage.LowMemory {
		config.Storage.LowMemory = true
	}
	if yamlCfg.Storage.NodeCacheEntries != 0 {
		config.Storage.NodeCacheEntries = yamlCfg.Storage.NodeCacheEntries
	}

	// === Spatial Index Settings ===
	if yamlCfg.Spatial.Dimensions > 0 {
		config.Spatial.Dimensions = yamlCfg.Spatial.Dimensions
	}
	if yamlCfg.Spatial.CacheCapacity > 0 {
		config.Spatial.CacheCapacity = yamlCfg.Spatial.CacheCapacity
	}
	if yamlCfg.Spatial.RangeRadius > 0 {
		config.Spatial.RangeRadius = yamlCfg.Spatial.RangeRadius
	}

	// === Link Scoring Settings ===
	if yamlCfg.Linker.CycleBudget > 0 {
		config.Linker.CycleBudget = yamlCfg.Linker.CycleBudget
	}
	// A weights block is applied as a whole, so a present block may zero
	// individual signals.
	if w := yamlCfg.Linker.Weights; w.Semantic+w.AI+w.Lexical+w.Contextual > 0 {
		config.Linker.Weights = linker.Weights{
			Semantic:   w.Semantic,
			AI:         w.AI,
			Lexical:    w.Lexical,
			Contextual: w.Contextual,
		}
	}

	// === Suggestion Settings ===
	if yamlCfg.Suggest.Threshold != 0 {
		config.Suggest.Threshold = yamlCfg.Suggest.Threshold
	}
	if yamlCfg.Suggest.PrefilterMultiple > 0 {
		config.Suggest.PrefilterMultiple = yamlCfg.Suggest.PrefilterMultiple
	}
	if yamlCfg.Suggest.HalfLife != "" {
		if d, err := time.ParseDuration(yamlCfg.Suggest.HalfLife); err == nil {
			config.Suggest.HalfLife = d
		}
	}
	if yamlCfg.Suggest.TopK > 0 {
		config.Suggest.TopK = yamlCfg.Suggest.TopK
	}

	// === Reasoning Settings ===
	if yamlCfg.Reason.HopConfidence > 0 {
		config.Reason.HopConfidence = yamlCfg.Reason.HopConfidence
	}
	if yamlCfg.Reason.ChainDepth > 0 {
		config.Reason.ChainDepth = yamlCfg.Reason.ChainDepth
	}
	if yamlCfg.Reason.MaxChains > 0 {
		config.Reason.MaxChains = yamlCfg.Reason.MaxChains
	}

	// === Logging Settings ===
	if yamlCfg.Logging.Level != "" {
		config.Logging.Level = yamlCfg.Logging.Level
	}
	if yamlCfg.Logging.Format != "" {
		config.Logging.Format = yamlCfg.Logging.Format
	}

	// Step 3: Apply environment variable overrides (higher priority than config file)
	applyEnvVars(config)

	return config, nil
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.bifrost/config.yaml (user home directory - highest priority)
//  2. Same directory as the binary (config.yaml, bifrost.yaml)
//  3. Current working directory (config.yaml, bifrost.yaml)
//  4. ~/Library/Application Support/Bifrost/config.yaml (macOS)
//  5. ~/.config/bifrost/config.yaml (Linux/Unix XDG standard)
func FindConfigFile() string {
	var candidates []string

	// Priority 1: User home directory ~/.bifrost/config.yaml (highest priority)
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".bifrost", "config.yaml"))
	}

	// Priority 2: Same directory as the binary
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, "config.yaml"),
			filepath.Join(exeDir, "bifrost.yaml"),
		)
	}

	// Priority 3: Current working directory
	candidates = append(candidates,
		"config.yaml",
		"bifrost.yaml",
	)

	// Priority 4: OS-specific user config paths
	if home, err := os.UserHomeDir(); err == nil {
		// macOS
		candidates = append(candidates, filepath.Join(home, "Library", "Application Support", "Bifrost", "config.yaml"))
		// Linux/Unix XDG standard
		candidates = append(candidates, filepath.Join(home, ".config", "bifrost", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint64(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
