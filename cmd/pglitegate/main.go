package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/config"
	"github.com/guileen/pglitegate/logger"
	"github.com/guileen/pglitegate/pggate"
	"github.com/guileen/pglitegate/protocol/api"
	"github.com/guileen/pglitegate/storage"
)

type options struct {
	dataDir    string
	backend    string
	jsonOutput bool
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cfg := config.LoadGateConfig()

	root := &cobra.Command{
		Use:   "pglitegate",
		Short: "Statement gate over a document store",
		Long: `pglitegate executes select, insert, update and delete statements against
tables kept in a local pebble or in-memory document store, either through a REST
server or as one-shot commands.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.logLevel != "" {
				logger.SetLogLevel(logger.ParseLevel(opts.logLevel, slog.LevelInfo))
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.dataDir, "data-dir", "d", cfg.DataDir, "Data directory for the pebble backend")
	root.PersistentFlags().StringVarP(&opts.backend, "backend", "b", cfg.StorageBackend, "Storage backend (pebble or memory)")
	root.PersistentFlags().BoolVarP(&opts.jsonOutput, "json", "j", false, "Output results in JSON format")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")

	root.AddCommand(newServeCmd(opts), newQueryCmd(opts), newTablesCmd(opts))
	return root
}

// env is an opened store with its catalog and gate.
type env struct {
	kv       storage.KV
	gate     *api.Gate
	registry *prometheus.Registry
}

func openEnv(ctx context.Context, opts *options) (*env, error) {
	cfg := config.LoadGateConfig()
	cfg.DataDir = opts.dataDir
	cfg.StorageBackend = opts.backend

	kv, err := storage.Open(&cfg)
	if err != nil {
		return nil, fmt.Errorf("error opening %s store: %w", cfg.StorageBackend, err)
	}
	cat := catalog.New(kv, cfg.DatabaseOID)
	if err := cat.Load(ctx); err != nil {
		kv.Close()
		return nil, fmt.Errorf("error loading catalog: %w", err)
	}

	reg := prometheus.NewRegistry()
	gate := api.NewGate(cat, docdb.NewServer(kv, cat), cfg, pggate.NewMetrics(reg))
	logger.Debug("store opened",
		logger.Component("cli"),
		logger.String("backend", cfg.StorageBackend),
		logger.String("data_dir", cfg.DataDir),
		logger.Int("tables", len(cat.Tables())))
	return &env{kv: kv, gate: gate, registry: reg}, nil
}

func (e *env) Close() error {
	return e.kv.Close()
}
