package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cellpilot/cellpilot/bridge"
	"github.com/cellpilot/cellpilot/bridge/claude"
	"github.com/cellpilot/cellpilot/bridge/codex"
	"github.com/cellpilot/cellpilot/bridge/gemini"
	"github.com/cellpilot/cellpilot/comm"
	"github.com/cellpilot/cellpilot/manager"
	"github.com/cellpilot/cellpilot/mode"
	"github.com/cellpilot/cellpilot/router"
)

var flagModeDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and its control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()

		engine := bridge.NewEngine(
			[]bridge.Backend{codex.New(), claude.New(), gemini.New()},
			bridge.WithLogger(logger),
		)

		modes := mode.NewController(mode.WithLogger(logger))
		if flagModeDir != "" {
			if err := modes.LoadDir(flagModeDir); err != nil {
				return err
			}
		}

		commBridge := comm.NewBridge(comm.WithLogger(logger))
		mgr := manager.New(engine, router.Default(), modes,
			manager.WithLogger(logger),
			manager.WithDispatcher(commBridge),
		)

		srv := &http.Server{
			Addr:    flagAddr,
			Handler: comm.NewServer(mgr, modes, commBridge, logger).Handler(),
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if flagModeDir != "" {
			go func() {
				if err := modes.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("mode watcher stopped", "error", err)
				}
			}()
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("control API listening", "addr", flagAddr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Warn("session shutdown incomplete", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagModeDir, "modes", "", "directory of mode files (*.md)")
	rootCmd.AddCommand(serveCmd)
}
