package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/config"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/memory"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/retrieval"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/types"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dbPath     string

	// Per-command flags
	userID      string
	mode        string
	category    string
	topK        int
	tokenBudget int
	crossMode   bool
	allModes    bool
	limit       int
	maxSeconds  int
	retryFailed bool

	// Logger
	logger *zap.Logger

	cfg *config.Config
	svc *memory.Service
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "memoryd - long-term semantic memory engine",
	Long: `memoryd stores, supersedes, and retrieves long-term user memories.

Memories are fingerprinted into canonical fact keys so a new phone number
replaces the old one instead of accumulating next to it, embedded for
semantic retrieval, and injected under a strict token budget.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath != "" {
			cfg.DatabasePath = dbPath
		}
		if err := logging.Initialize(cfg.DataDir); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		svc, err = memory.NewService(cfg)
		if err != nil {
			return fmt.Errorf("failed to start memory service: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if svc != nil {
			_ = svc.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// storeCmd persists one memory
var storeCmd = &cobra.Command{
	Use:   "store [content]",
	Short: "Store a memory, superseding any prior version of the same fact",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		out, err := svc.Store(ctx, memory.StoreInput{
			UserID:   userID,
			Mode:     mode,
			Category: category,
			Content:  args[0],
		})
		if err != nil {
			return err
		}

		return printJSON(map[string]interface{}{
			"id":                 out.Memory.ID,
			"fingerprint":        out.Memory.FactFingerprint,
			"fingerprint_method": out.Fingerprint.Method,
			"confidence":         out.Fingerprint.Confidence,
			"superseded":         out.SupersededIDs,
			"embedding_status":   out.Memory.EmbeddingStatus,
		})
	},
}

// retrieveCmd runs the retrieval pipeline for a query
var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Retrieve memories relevant to a query, within the token budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		opts, err := retrieval.NewOptions(userID, args[0], mode)
		if err != nil {
			return err
		}
		opts.TopK = topK
		opts.TokenBudget = tokenBudget
		opts.CrossMode = crossMode
		opts.AllModes = allModes
		if category != "" {
			opts.Categories = []string{category}
		}

		res, err := svc.Retrieve(ctx, opts)
		if err != nil {
			return err
		}

		items := make([]map[string]interface{}, 0, len(res.Memories))
		for _, sm := range res.Memories {
			items = append(items, map[string]interface{}{
				"id":         sm.Memory.ID,
				"content":    sm.Memory.Content,
				"category":   sm.Memory.Category,
				"similarity": sm.Similarity,
				"score":      sm.Hybrid,
				"fallback":   sm.TextFallback,
			})
		}
		return printJSON(map[string]interface{}{
			"method":       res.Method,
			"memories":     items,
			"tokens_used":  res.TokensUsed,
			"token_budget": res.TokenBudget,
		})
	},
}

// backfillCmd drains pending embeddings
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed memories whose inline embedding timed out",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		statuses := []types.EmbeddingStatus{types.EmbeddingPending}
		if retryFailed {
			statuses = append(statuses, types.EmbeddingFailed)
		}
		res, err := svc.Backfill(ctx, limit, maxSeconds, statuses...)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

// maintainCmd repairs invariant violations
var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Repair duplicate current facts and reclaim stuck rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		duplicates, stuck, err := svc.Maintain(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]int{
			"duplicates_retired": duplicates,
			"stuck_reclaimed":    stuck,
		})
	},
}

// statsCmd reports store counters
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		stats, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

// flushCmd clears session caches for a user
var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush per-session caches for a user (stored memories untouched)",
	RunE: func(cmd *cobra.Command, args []string) error {
		n := svc.Flush(userID)
		return printJSON(map[string]int{"flushed": n})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Override database path")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "User id (required for store/retrieve/flush)")
	rootCmd.PersistentFlags().StringVarP(&mode, "mode", "m", "", "Mode partition (default truth-general)")

	storeCmd.Flags().StringVarP(&category, "category", "c", "", "Memory category")
	retrieveCmd.Flags().StringVarP(&category, "category", "c", "", "Category filter")
	retrieveCmd.Flags().IntVarP(&topK, "top", "k", 0, "Maximum memories to return")
	retrieveCmd.Flags().IntVarP(&tokenBudget, "budget", "b", 0, "Token budget")
	retrieveCmd.Flags().BoolVar(&crossMode, "cross-mode", false, "Also read truth-general rows")
	retrieveCmd.Flags().BoolVar(&allModes, "all-modes", false, "Read across every mode partition")
	backfillCmd.Flags().IntVarP(&limit, "limit", "l", 0, "Row budget for this run")
	backfillCmd.Flags().IntVar(&maxSeconds, "max-seconds", 0, "Wall-clock budget for this run")
	backfillCmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "Also re-drive rows marked failed")

	rootCmd.AddCommand(storeCmd, retrieveCmd, backfillCmd, maintainCmd, statsCmd, flushCmd)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	// Generous upper bound so a hung provider cannot wedge the CLI.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
