package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/orbconfluence/backtest-engine/internal/api"
)

// newServeCmd starts the reporting server — REST endpoints for launching
// and polling runs, plus a WebSocket feed of live progress/signal/trade
// events — instead of running one backtest and exiting, the way `run` and
// `replay` do.
func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST/WebSocket reporting API for launching and observing runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := setupLogger(logLevel)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			server := api.NewServer(logger)

			ctx, cancel := signalContext()
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start(addr)
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return server.Stop(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Address to serve the reporting API on")
	return cmd
}
