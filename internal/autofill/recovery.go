package autofill

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// Recovery replays the current step with corrected values after the page
// refused to advance and showed validation errors.
type Recovery struct {
	extractor *Extractor
	driver    *Driver
	source    ValueSource
	timings   Timings
	logger    *zap.Logger
}

// NewRecovery wires a recovery over the engine's extractor and driver.
func NewRecovery(extractor *Extractor, driver *Driver, source ValueSource, opts Options, logger *zap.Logger) *Recovery {
	return &Recovery{
		extractor: extractor,
		driver:    driver,
		source:    source,
		timings:   opts.Timings,
		logger:    logger.Named("recovery"),
	}
}

// Recover consumes one correction attempt. The caller re-attempts navigation.
func (r *Recovery) Recover(ctx context.Context, state *StepState, validationErrors []string) (schemas.PassSummary, error) {
	state.CorrectionAttempts++
	summary := schemas.PassSummary{Correction: true}
	r.logger.Info("Correcting fields after validation errors.",
		zap.Int("attempt", state.CorrectionAttempts),
		zap.Strings("errors", validationErrors))

	fields, scope, err := r.extractor.Extract(ctx)
	if err != nil {
		if errors.Is(err, ErrNoFormFound) {
			return summary, sleep(ctx, r.timings.CorrectionSettle)
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		r.logger.Warn("Extraction failed during correction.", zap.Error(err))
		return summary, sleep(ctx, r.timings.CorrectionSettle)
	}
	summary.Scope = scope

	mapping := r.source.Corrections(ctx, fields, validationErrors)
	outcomes, err := r.driver.FillAll(ctx, state, fields, mapping, true)
	summary.Outcomes = outcomes
	if err != nil {
		return summary, err
	}
	return summary, sleep(ctx, r.timings.CorrectionSettle)
}
