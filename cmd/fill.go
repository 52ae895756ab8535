package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/reporting"
	"github.com/xkilldash9x/formpilot/internal/service"
)

func newFillCmd(a *app) *cobra.Command {
	var (
		static    bool
		noPersist bool
		output    string
		format    string
	)

	fillCmd := &cobra.Command{
		Use:   "fill [url]",
		Short: "Complete the form flow that starts at the given URL",
		Long: `Opens the URL and drives the form it finds to completion: every field is
filled, the proceed control is activated and validation errors are corrected
until the flow ends, stalls or reaches the step limit.

The run report is written to stdout or to --output, as JSON or as a text
summary.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			startURL := args[0]

			reporter, err := reporting.New(format, output, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			// The explicit Close below reports write errors; this one covers early returns.
			defer func() { _ = reporter.Close() }()

			components, err := a.factory.Create(ctx, a.cfg, logger, service.CreateOptions{
				LiveBrowser: !static,
				Persist:     !noPersist,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			runID := uuid.NewString()
			logger.Info("Starting form run.", zap.String("run_id", runID), zap.String("url", startURL))
			report := components.Runner.Run(ctx, runID, startURL)

			if reports := components.Reports(); reports != nil {
				reports <- report
			}

			if err := reporter.Write(report); err != nil {
				return err
			}
			if err := reporter.Close(); err != nil {
				return fmt.Errorf("failed to finalize report: %w", err)
			}

			logger.Info("Form run finished.",
				zap.String("status", string(report.Status)),
				zap.Int("steps", report.Steps),
				zap.Int("corrections", report.Corrections),
				zap.String("stop_reason", report.StopReason),
				zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)))

			if report.Status == schemas.RunFailed {
				return fmt.Errorf("run %s failed: %s", runID, report.Error)
			}
			return nil
		},
	}

	fillCmd.Flags().BoolVar(&static, "static", false, "Fetch pages over plain HTTP instead of driving Chrome")
	fillCmd.Flags().Bool("headful", false, "Show the browser window")
	fillCmd.Flags().Int("max-steps", 0, "Maximum number of form steps to complete")
	fillCmd.Flags().Duration("idle-timeout", 0, "How long to wait for new form content before stopping")
	fillCmd.Flags().String("sample", "", "File to attach to upload fields")
	fillCmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to this file")
	fillCmd.Flags().StringVarP(&format, "format", "f", "json", "Report format (json, text)")
	fillCmd.Flags().BoolVar(&noPersist, "no-persist", false, "Do not store the report in the database")
	return fillCmd
}
