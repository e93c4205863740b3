// Package main provides the Bifrost CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/bifrost/pkg/bifrost"
	"github.com/orneryd/bifrost/pkg/config"
	"github.com/orneryd/bifrost/pkg/reason"
	"github.com/orneryd/bifrost/pkg/storage"
	"github.com/orneryd/bifrost/pkg/suggest"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bifrost",
		Short: "Bifrost - Federated Semantic Reasoning Engine",
		Long: `Bifrost links related notes across project boundaries: it embeds
content, prefilters candidates through a spatial locality index, scores
relations with a multi-signal confidence blend, and reasons over the
resulting graph.

Features:
  • Spatial locality-key prefilter over embedding space
  • Directed relation graph with confidence scoring and audit history
  • Link suggestions with pluggable relation labeling
  • Cross-project multi-hop inference and chain discovery
  • Embedded BadgerDB persistence`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Bifrost v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a data directory and starter config",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", getEnvStr("BIFROST_DATA_DIR", "./data"), "Data directory")
	rootCmd.AddCommand(initCmd)

	// Ingest command
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest nodes from a JSON file into a project",
		Long: `Ingest nodes from a JSON file into a project.

The file holds an array of nodes; embeddings are computed for entries
that do not carry one:

  [
    {"id": "note-1", "title": "First note", "text": "..."},
    {"text": "ids are minted when omitted"}
  ]`,
		RunE: runIngest,
	}
	ingestCmd.Flags().String("project", "", "Project to ingest into (required)")
	ingestCmd.Flags().String("file", "", "JSON file of nodes (required)")
	ingestCmd.Flags().String("data-dir", getEnvStr("BIFROST_DATA_DIR", "./data"), "Data directory")
	rootCmd.AddCommand(ingestCmd)

	// Suggest command
	suggestCmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest links for a node",
		RunE:  runSuggest,
	}
	suggestCmd.Flags().String("node", "", "Source node id (required)")
	suggestCmd.Flags().StringSlice("project", nil, "Projects to search (default: the node's own)")
	suggestCmd.Flags().Int("top-k", 0, "Max suggestions (0 = configured default)")
	suggestCmd.Flags().Float64("threshold", 0, "Similarity threshold (0 = configured default, negative = disabled)")
	suggestCmd.Flags().String("data-dir", getEnvStr("BIFROST_DATA_DIR", "./data"), "Data directory")
	rootCmd.AddCommand(suggestCmd)

	// Chains command
	chainsCmd := &cobra.Command{
		Use:   "chains",
		Short: "Find link chains between two nodes",
		RunE:  runChains,
	}
	chainsCmd.Flags().String("from", "", "Source node id (required)")
	chainsCmd.Flags().String("to", "", "Target node id (required)")
	chainsCmd.Flags().Int("max-depth", 0, "Max chain length in hops (0 = configured default)")
	chainsCmd.Flags().Int("max-chains", 0, "Max chains to collect (0 = configured default)")
	chainsCmd.Flags().StringSlice("project", nil, "Projects whose links may be traversed (default: all)")
	chainsCmd.Flags().String("data-dir", getEnvStr("BIFROST_DATA_DIR", "./data"), "Data directory")
	rootCmd.AddCommand(chainsCmd)

	// Backfill command
	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Bulk-link a project from its suggestion pipeline",
		RunE:  runBackfill,
	}
	backfillCmd.Flags().String("project", "", "Project to backfill (required)")
	backfillCmd.Flags().Int("top-k", 0, "Max suggestions per node (0 = configured default)")
	backfillCmd.Flags().Float64("threshold", 0, "Similarity threshold (0 = configured default, negative = disabled)")
	backfillCmd.Flags().Float64("min-confidence", 0, "Drop suggestions below this blended confidence")
	backfillCmd.Flags().Bool("dry-run", false, "Report what would be linked without writing")
	backfillCmd.Flags().Bool("allow-cycles", false, "Keep links that close directed cycles")
	backfillCmd.Flags().String("data-dir", getEnvStr("BIFROST_DATA_DIR", "./data"), "Data directory")
	rootCmd.AddCommand(backfillCmd)

	// Stats command
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store and cache statistics",
		RunE:  runStats,
	}
	statsCmd.Flags().String("project", "", "Also show link statistics for this project")
	statsCmd.Flags().String("data-dir", getEnvStr("BIFROST_DATA_DIR", "./data"), "Data directory")
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the layered configuration: a discovered config
// file when present, environment overrides always.
func loadConfig() *config.Config {
	if path := config.FindConfigFile(); path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			fmt.Printf("⚠️  Warning: failed to load config from %s: %v\n", path, err)
			return config.LoadFromEnv()
		}
		fmt.Printf("📄 Loaded config from: %s\n", path)
		return cfg
	}
	return config.LoadFromEnv()
}

// resolveDataDir picks the storage location: an explicit --data-dir flag
// wins, otherwise the configured storage section decides. An empty
// result means in-memory storage.
func resolveDataDir(cmd *cobra.Command, cfg *config.Config) string {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if !cmd.Flags().Changed("data-dir") {
		if cfg.Storage.Engine == config.EngineMemory {
			return ""
		}
		if cfg.Storage.DataDir != "" {
			return cfg.Storage.DataDir
		}
	}
	return dataDir
}

func openDB(cmd *cobra.Command) (*bifrost.DB, error) {
	cfg := loadConfig()
	db, err := bifrost.Open(resolveDataDir(cmd, cfg), cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func toProjectIDs(projects []string) []storage.ProjectID {
	out := make([]storage.ProjectID, 0, len(projects))
	for _, p := range projects {
		out = append(out, storage.ProjectID(p))
	}
	return out
}

// warmupScope is the node's own project plus any explicitly searched
// ones, deduplicated.
func warmupScope(own storage.ProjectID, extra []string) []storage.ProjectID {
	scope := []storage.ProjectID{own}
	for _, p := range extra {
		if storage.ProjectID(p) != own {
			scope = append(scope, storage.ProjectID(p))
		}
	}
	return scope
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("📂 Initializing Bifrost in %s\n", dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath := "bifrost.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("   Config already exists: %s (left untouched)\n", configPath)
	} else {
		configContent := fmt.Sprintf(`# Bifrost configuration
storage:
  engine: badger          # badger | memory
  data_dir: %s
  sync_writes: false
  low_memory: false

spatial:
  dimensions: 512
  cache_capacity: 4000
  range_radius: 65536

linker:
  cycle_budget: 50
  weights:
    semantic: 0.5
    ai: 0.3
    lexical: 0.1
    contextual: 0.1

suggest:
  threshold: 0.78
  prefilter_multiple: 4
  half_life: 72h
  top_k: 10

reason:
  hop_confidence: 0.5
  chain_depth: 4
  max_chains: 5

logging:
  level: info             # debug | info | warn | error
  format: text            # text | json
`, dataDir)
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Printf("   Config: %s\n", configPath)
	}

	fmt.Println("✅ Initialized successfully")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Ingest nodes:    bifrost ingest --project my-project --file nodes.json")
	fmt.Println("  2. Suggest links:   bifrost suggest --node <id>")
	fmt.Println("  3. Link a project:  bifrost backfill --project my-project")
	fmt.Println("  4. Inspect:         bifrost stats --project my-project")
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	project, _ := cmd.Flags().GetString("project")
	file, _ := cmd.Flags().GetString("file")
	if project == "" {
		return fmt.Errorf("--project is required")
	}
	if file == "" {
		return fmt.Errorf("--file is required")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	var entries []struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		Text      string    `json:"text"`
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing %s: %w", file, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%s contains no nodes", file)
	}

	drafts := make([]*bifrost.NodeDraft, 0, len(entries))
	for _, e := range entries {
		drafts = append(drafts, &bifrost.NodeDraft{
			ID:        storage.NodeID(e.ID),
			Title:     e.Title,
			Text:      e.Text,
			Embedding: e.Embedding,
		})
	}

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fmt.Printf("📥 Ingesting %d nodes into %s...\n", len(drafts), project)
	start := time.Now()
	stored, err := db.IngestNodes(ctx, storage.ProjectID(project), drafts)
	if err != nil {
		return fmt.Errorf("ingesting: %w", err)
	}

	fmt.Printf("✅ Ingested %d nodes in %v\n", len(stored), time.Since(start).Round(time.Millisecond))
	for _, node := range stored {
		fmt.Printf("  • %s  %s\n", node.ID, node.Title)
	}
	return nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node")
	projects, _ := cmd.Flags().GetStringSlice("project")
	topK, _ := cmd.Flags().GetInt("top-k")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	if nodeID == "" {
		return fmt.Errorf("--node is required")
	}

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	node, err := db.GetNode(ctx, storage.NodeID(nodeID))
	if err != nil {
		return fmt.Errorf("loading node %s: %w", nodeID, err)
	}
	if _, err := db.WarmupProjects(ctx, warmupScope(node.ProjectID, projects)); err != nil {
		return fmt.Errorf("warming index: %w", err)
	}

	suggestions, err := db.SuggestLinks(ctx, node.ID, suggest.Options{
		TopK:      topK,
		Threshold: threshold,
		Projects:  toProjectIDs(projects),
	})
	if err != nil {
		return fmt.Errorf("suggesting links: %w", err)
	}

	if len(suggestions) == 0 {
		fmt.Printf("No suggestions for %s above the threshold\n", nodeID)
		return nil
	}

	fmt.Printf("💡 %d suggestion(s) for %s:\n", len(suggestions), nodeID)
	for i, s := range suggestions {
		fmt.Printf("  %d. %-36s  %-12s  conf %.3f  sim %.3f\n",
			i+1, s.NodeID, s.Type, s.Confidence, s.Similarity)
		if s.Rationale != "" {
			fmt.Printf("     %s\n", s.Rationale)
		}
	}
	return nil
}

func runChains(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	maxDepth, _ := cmd.Flags().GetInt("max-depth")
	maxChains, _ := cmd.Flags().GetInt("max-chains")
	projects, _ := cmd.Flags().GetStringSlice("project")
	if from == "" {
		return fmt.Errorf("--from is required")
	}
	if to == "" {
		return fmt.Errorf("--to is required")
	}

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	chains, err := db.FindChains(context.Background(), reason.ChainOptions{
		SourceID:  storage.NodeID(from),
		TargetID:  storage.NodeID(to),
		MaxDepth:  maxDepth,
		MaxChains: maxChains,
		Projects:  toProjectIDs(projects),
	})
	if err != nil {
		return fmt.Errorf("finding chains: %w", err)
	}

	if len(chains) == 0 {
		fmt.Printf("No chains found from %s to %s\n", from, to)
		return nil
	}

	fmt.Printf("🔗 %d chain(s) from %s to %s:\n", len(chains), from, to)
	for i, chain := range chains {
		fmt.Printf("  %d. %s  (combined %.2f)\n", i+1, formatChain(chain), chain.CombinedConfidence)
	}
	return nil
}

// formatChain renders "a -[causes 0.90]-> b -[depends-on 0.80]-> c".
func formatChain(c reason.Chain) string {
	var b strings.Builder
	for i, nodeID := range c.Nodes {
		if i > 0 {
			link := c.Links[i-1]
			fmt.Fprintf(&b, " -[%s %.2f]-> ", link.Type, link.Confidence)
		}
		b.WriteString(string(nodeID))
	}
	return b.String()
}

func runBackfill(cmd *cobra.Command, args []string) error {
	project, _ := cmd.Flags().GetString("project")
	topK, _ := cmd.Flags().GetInt("top-k")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	minConfidence, _ := cmd.Flags().GetFloat64("min-confidence")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	allowCycles, _ := cmd.Flags().GetBool("allow-cycles")
	if project == "" {
		return fmt.Errorf("--project is required")
	}

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	projectID := storage.ProjectID(project)
	if _, err := db.WarmupProjects(ctx, []storage.ProjectID{projectID}); err != nil {
		return fmt.Errorf("warming index: %w", err)
	}

	if dryRun {
		fmt.Printf("🔎 Dry run: scanning %s, nothing will be written\n", project)
	} else {
		fmt.Printf("🔗 Backfilling links in %s...\n", project)
	}

	start := time.Now()
	report, err := db.BackfillLinks(ctx, projectID, bifrost.BackfillOptions{
		TopK:          topK,
		Threshold:     threshold,
		MinConfidence: minConfidence,
		DryRun:        dryRun,
		AllowCycles:   allowCycles,
	})
	if err != nil {
		return fmt.Errorf("backfilling: %w", err)
	}

	fmt.Printf("✅ Backfill complete in %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("   Nodes processed: %d\n", report.NodesProcessed)
	fmt.Printf("   Nodes skipped:   %d (no embedding)\n", report.NodesSkipped)
	fmt.Printf("   Links applied:   %d\n", report.LinksApplied)
	fmt.Printf("   Links skipped:   %d (below confidence or cycle)\n", report.LinksSkipped)
	if report.Failures > 0 {
		fmt.Printf("   ⚠️  Failures:     %d (see logs)\n", report.Failures)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	project, _ := cmd.Flags().GetString("project")

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	stats, err := db.Stats(ctx)
	if err != nil {
		return fmt.Errorf("collecting stats: %w", err)
	}

	fmt.Println("📊 Bifrost statistics:")
	fmt.Printf("   Nodes: %d\n", stats.Nodes)
	fmt.Printf("   Links: %d\n", stats.Links)
	fmt.Printf("   Spatial cache: %d/%d entries (hits %d, misses %d, evictions %d)\n",
		stats.Spatial.Size, stats.Spatial.Capacity,
		stats.Spatial.Hits, stats.Spatial.Misses, stats.Spatial.Evictions)
	if len(stats.Spatial.PerProject) > 0 {
		fmt.Println("   Cached per project:")
		projects := make([]string, 0, len(stats.Spatial.PerProject))
		for p := range stats.Spatial.PerProject {
			projects = append(projects, string(p))
		}
		sort.Strings(projects)
		for _, p := range projects {
			fmt.Printf("     %-24s %d\n", p, stats.Spatial.PerProject[storage.ProjectID(p)])
		}
	}

	if project != "" {
		ls, err := db.LinkStatistics(ctx, storage.ProjectID(project))
		if err != nil {
			return fmt.Errorf("link statistics for %s: %w", project, err)
		}
		fmt.Printf("   Links in %s: %d total (%d active, %d inactive)\n",
			project, ls.Total, ls.Active, ls.Inactive)
		fmt.Printf("   Mean confidence: %.2f\n", ls.MeanConfidence)
		if len(ls.ByType) > 0 {
			fmt.Println("   By type:")
			types := make([]string, 0, len(ls.ByType))
			for t := range ls.ByType {
				types = append(types, string(t))
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Printf("     %-14s %d\n", t, ls.ByType[storage.RelationType(t)])
			}
		}
	}
	return nil
}

// getEnvStr returns environment variable value or default
func getEnvStr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
