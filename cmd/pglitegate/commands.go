package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/guileen/pglitegate/logger"
	"github.com/guileen/pglitegate/protocol/api"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr      string
		profiling bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, addr, profiling)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Listen address")
	cmd.Flags().BoolVar(&profiling, "pprof", false, "Serve pprof handlers under /debug")
	return cmd
}

func serve(ctx context.Context, opts *options, addr string, profiling bool) error {
	startTime := time.Now()
	e, err := openEnv(ctx, opts)
	if err != nil {
		return err
	}
	defer e.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if profiling {
		r.Mount("/debug", middleware.Profiler())
	}
	api.NewRESTHandler(e.gate, e.registry).RegisterRoutes(r)

	server := &http.Server{Addr: addr, Handler: r}
	errc := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", logger.String("addr", addr), logger.String("backend", opts.backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	logger.Info("HTTP server initialization complete", logger.Duration("init_duration", time.Since(startTime)))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", logger.ErrorField(err))
		return err
	}
	logger.Info("HTTP server shutdown complete")
	return nil
}

func newQueryCmd(opts *options) *cobra.Command {
	var (
		req     api.QueryRequest
		columns string
	)
	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Run a select and print the rows",
		Example: `  pglitegate query users --columns id,name --where "age > 30"
  pglitegate query users --index users_name_idx --eq name=ann
  pglitegate query users --columns "count(*),avg(age)"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			req.Table = args[0]
			if columns != "" {
				req.Columns = strings.Split(columns, ",")
			}
			start := time.Now()
			res, err := e.gate.Query(cmd.Context(), req)
			if err != nil {
				return err
			}
			return renderResult(cmd.OutOrStdout(), res, opts.jsonOutput, time.Since(start))
		},
	}
	cmd.Flags().StringVarP(&columns, "columns", "c", "", "Comma separated columns or aggregates such as count(*)")
	cmd.Flags().StringVarP(&req.Where, "where", "w", "", "Boolean SQL expression evaluated by storage")
	cmd.Flags().StringVarP(&req.Index, "index", "i", "", "Secondary index used to resolve --eq binds")
	cmd.Flags().StringToStringVar(&req.Eq, "eq", nil, "Key column binds as column=value")
	cmd.Flags().IntVarP(&req.Limit, "limit", "l", 0, "Maximum number of rows (0 for unlimited)")
	return cmd
}

func newTablesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables, their columns and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()
			return renderTables(cmd.OutOrStdout(), e.gate.Catalog(), opts.jsonOutput)
		},
	}
}
