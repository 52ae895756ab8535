package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	var static bool

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP host that serves field values and runs flows on request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := a.factory.Create(ctx, a.cfg, logger, service.CreateOptions{
				LiveBrowser: !static,
				Persist:     true,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			serverCfg := a.cfg.Server()
			runs := service.NewRunService(components.Runner, service.NewRunRegistry(0),
				components.Reports(), serverCfg.MaxConcurrentRuns, serverCfg.RunTimeout, logger)
			handlers := service.NewHandlers(logger, components.Source, runs, components.Store, components.Metrics)
			server := service.NewServer(serverCfg, handlers, logger)

			serveErr := server.ListenAndServe(ctx)

			// Runs must finish before Shutdown closes the reports channel.
			stopCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
			defer cancel()
			if err := runs.Stop(stopCtx); err != nil {
				logger.Warn("Runs did not stop cleanly.", zap.Error(err))
			}
			return serveErr
		},
	}
	serveCmd.Flags().BoolVar(&static, "static", false, "Fetch pages over plain HTTP instead of driving Chrome")
	serveCmd.Flags().String("addr", "", "Address to listen on")
	serveCmd.Flags().Bool("headful", false, "Show the browser window")
	return serveCmd
}
