// Package main implements kotobadb, a thin cobra CLI wrapper around the
// core engine (§6). It is not part of the core: it demonstrates the
// external interfaces (storage backend port, persisted-state layout,
// principal/resource port) without imposing any of them on an embedder.
//
// # File Index
//
//   - main.go       - entry point, rootCmd, global flags, engine bootstrap
//   - cmd_node.go   - node create/get/list
//   - cmd_tx.go     - tx heads/ancestors/descendants
//   - cmd_status.go - status
//   - cmd_authz.go  - authz check
//   - exitcode.go   - kerr.Kind -> process exit code mapping (§6)
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kotobadb/core/internal/dbconfig"
	"github.com/kotobadb/core/internal/mvcc"
	"github.com/kotobadb/core/internal/obslog"
	"github.com/kotobadb/core/internal/projection"
	"github.com/kotobadb/core/internal/query"
	"github.com/kotobadb/core/internal/storeengine"
	"github.com/kotobadb/core/internal/txlog"
)

var (
	// Global flags
	dbPath    string
	verbose   bool
	opTimeout time.Duration

	logger *zap.Logger
)

// engineHandles bundles the layers a command needs: the durable engine,
// the MVCC manager sitting atop its transaction log, the materialized
// projection, and a query executor wired to both. Commands open and
// close one per invocation, matching the teacher's per-command cortex
// boot/close pattern in cmd_query.go.
type engineHandles struct {
	store *storeengine.Engine
	mgr   *mvcc.Manager
	proj  *projection.Engine
	exec  *query.Executor
}

func (h *engineHandles) Close() {
	if h.store != nil {
		h.store.Close()
	}
}

func openEngine(ctx context.Context) (*engineHandles, error) {
	cfg := dbconfig.Default()
	cfg.Storage.Path = dbPath

	base := logger
	if base == nil {
		base = zap.NewNop()
	}

	store, err := storeengine.Open(cfg.Storage.Path, obslog.With(base, obslog.CategoryStoreEngine))
	if err != nil {
		return nil, err
	}
	txStore := txlog.NewStore(store)
	mgr, err := mvcc.NewManager(store, txStore, cfg.HLC.NodeID, cfg.MVCC, cfg.TxLog.MaxBodyBytes)
	if err != nil {
		store.Close()
		return nil, err
	}
	proj := projection.NewEngine(mgr, obslog.With(base, obslog.CategoryProjection))
	if err := proj.Tick(ctx); err != nil {
		store.Close()
		return nil, err
	}
	cat := query.NewCatalog()
	cat.Build(proj)
	exec := query.NewExecutor(proj, mgr, cat, obslog.With(base, obslog.CategoryQuery))

	return &engineHandles{store: store, mgr: mgr, proj: proj, exec: exec}, nil
}

// cmdCtx derives a timeout-bound context from cmd, matching the
// teacher's cmd_query.go ctx/cancel pattern.
func cmdCtx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, opTimeout)
}

var rootCmd = &cobra.Command{
	Use:   "kotobadb",
	Short: "kotobadb - content-addressed, event-sourced graph database core",
	Long: `kotobadb is a thin CLI over the content-addressed, event-sourced graph
database core: a DPO graph rewrite engine with MVCC transactions over an
append-only, hash-linked Merkle DAG.

This CLI is not the core itself (§6): it is one external collaborator
exercising the storage backend port, the persisted-state layout, and the
principal/resource port a real embedder would wire independently.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "kotobadb.sqlite", "Path to the SQLite-backed storage engine file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug-level logging")
	rootCmd.PersistentFlags().DurationVar(&opTimeout, "timeout", 30*time.Second, "Operation timeout")

	nodeCmd.AddCommand(nodeCreateCmd, nodeGetCmd, nodeListCmd)
	txCmd.AddCommand(txHeadsCmd, txAncestorsCmd, txDescendantsCmd)
	authzCmd.AddCommand(authzCheckCmd)

	rootCmd.AddCommand(statusCmd, nodeCmd, txCmd, authzCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
