package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/slimatic/zakapp-sub004/internal/api"
	"github.com/slimatic/zakapp-sub004/internal/commit"
	"github.com/slimatic/zakapp-sub004/internal/exporter"
	"github.com/slimatic/zakapp-sub004/internal/importer"
	"github.com/slimatic/zakapp-sub004/internal/metrics"
	"github.com/slimatic/zakapp-sub004/internal/reconcile"
	"github.com/slimatic/zakapp-sub004/internal/validator"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the export and import HTTP API",
		Long: `Start the HTTP front door:

  POST /api/export   export the caller's records
  POST /api/import   import a payload for the caller
  GET  /metrics      Prometheus metrics

The caller is identified by the X-User-ID header, set by an authenticating
proxy in front of this server.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, default from config")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := cfg.Hasher()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid namespace", err)
	}
	v, err := validator.New(validator.WithLogger(logger), validator.WithSchemaVersion(cfg.SchemaVersion))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build validator", err)
	}
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	rec := metrics.New()
	a := exporter.NewAssembler(h,
		exporter.Config{AppVersion: cfg.AppVersion, SchemaVersion: cfg.SchemaVersion},
		exporter.WithLogger(logger), exporter.WithMetrics(rec))
	coord := commit.New(reconcile.New(h, reconcile.WithLogger(logger)),
		commit.WithLogger(logger), commit.WithMetrics(rec))
	im := importer.New(v, coord, importer.WithLogger(logger), importer.WithMetrics(rec))

	handler := api.NewHandler(st, a, im,
		api.WithLogger(logger),
		api.WithMetrics(rec),
		api.WithAtomicity(cfg.Mode(), cfg.ParallelCollections),
		api.WithKeySalt(cfg.KeySalt))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", fmt.Errorf("graceful shutdown: %w", err))
	}
	logger.Info("server stopped")
	return nil
}
