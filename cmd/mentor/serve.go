package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mentor/internal/logging"
	"mentor/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mentor over HTTP",
		Long: "Start the HTTP server immediately and build the index in the background. " +
			"/ask answers 503 until the index is ready; a failed build stops the server.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("listen", "", "override listen address (host:port)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Addr = listen
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	defer func() { _ = logger.Sync() }()

	app, err := Wire(cfg, logger)
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		ListenAddr:      cfg.Server.Addr,
		APIKey:          cfg.Server.APIKey,
		RateLimit:       cfg.Server.RateLimit,
		Burst:           cfg.Server.Burst,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second,
	}, app.Mentor, app.Gate, app.Metrics, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, app, srv)
}

// serve runs the server and the index build side by side. A build failure
// cancels the server.
func serve(ctx context.Context, app *App, srv *server.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		if err := app.BuildIndex(gctx); err != nil {
			return fmt.Errorf("building index: %w", err)
		}
		app.Logger.Info("accepting questions", zap.Int("documents", app.Builder.Report().Documents))
		return nil
	})
	return g.Wait()
}
