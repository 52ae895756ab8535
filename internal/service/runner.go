package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/assets"
	"github.com/xkilldash9x/formpilot/internal/autofill"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

// Runner executes one flow end to end: open a page, load the start URL and
// hand it to the engine.
type Runner struct {
	pages   PageProvider
	source  autofill.ValueSource
	sample  assets.File
	opts    autofill.Options
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(pages PageProvider, source autofill.ValueSource, sample assets.File, opts autofill.Options, metrics *observability.Metrics, logger *zap.Logger) *Runner {
	return &Runner{
		pages:   pages,
		source:  source,
		sample:  sample,
		opts:    opts,
		metrics: metrics,
		logger:  logger.Named("runner"),
	}
}

// Run never fails: setup errors are recorded in the report.
func (r *Runner) Run(ctx context.Context, runID, startURL string) schemas.FlowReport {
	log := r.logger.With(zap.String("run_id", runID), zap.String("url", startURL))
	finish := r.metrics.RunStarted()

	failed := func(err error) schemas.FlowReport {
		now := time.Now().UTC()
		log.Error("Run failed before the flow started.", zap.Error(err))
		finish(string(schemas.RunFailed))
		return schemas.FlowReport{
			RunID:      runID,
			StartURL:   startURL,
			Status:     schemas.RunFailed,
			Error:      err.Error(),
			StartedAt:  now,
			FinishedAt: now,
		}
	}

	page, release, err := r.pages.Open(ctx)
	if err != nil {
		return failed(err)
	}
	defer release()

	if err := page.Navigate(ctx, startURL); err != nil {
		return failed(err)
	}

	log.Info("Starting flow.")
	engine := autofill.NewEngine(page, r.source, r.sample, r.opts, log, r.metrics)
	report, err := engine.Run(ctx)
	report.RunID = runID
	if err != nil {
		log.Warn("Flow interrupted.", zap.Error(err))
	}
	finish(string(report.Status))
	return report
}
