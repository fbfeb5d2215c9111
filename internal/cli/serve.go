package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sheetdb/internal/api"
	"github.com/roach88/sheetdb/internal/metrics/prom"
	"github.com/roach88/sheetdb/internal/server"
)

// shutdownTimeout bounds the wait for in-flight requests on exit.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	DB   DBOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the database over HTTP",
		Long: `Open the database, register the schema and serve the JSON API.

Routes live under /api; Prometheus metrics are served at /metrics.

Example:
  sheetdb serve --db ./shop.db --schema ./schema --addr :3000
  SHEETDB_DB_DRIVER=mysql SHEETDB_DB_DSN='u:p@tcp(db:3306)/shop' sheetdb serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	addDBFlags(cmd, &opts.DB)
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from SHEETDB_SERVER_ADDR)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	backend, err := prom.New()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up metrics", err)
	}

	parentCtx := commandContext(cmd)
	db, cfg, err := setup(parentCtx, opts.RootOptions, &opts.DB, backend)
	if err != nil {
		return failSetup(formatter, err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	addr := cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	svc := api.NewService(db, api.UUIDv7Generator{})
	srv := server.New(svc, server.WithMetrics(backend.Handler()))

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(addr)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d table(s) on %s\n", len(db.Registry().Tables()), addr)

	select {
	case err := <-errCh:
		if err != nil {
			return WrapExitError(ExitCommandError, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown error", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}
