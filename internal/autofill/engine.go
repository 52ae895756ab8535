package autofill

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/assets"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

// Stop reasons recorded in the flow report.
const (
	StopNoProceed = "no proceed control"
	StopStalled   = "stalled"
	StopStepLimit = "step limit"
	StopIdle      = "idle timeout"
	StopCancelled = "cancelled"
)

// Engine runs the fill, navigate and correct loop over one page until the
// flow completes.
type Engine struct {
	page      Page
	source    ValueSource
	opts      Options
	state     *StepState
	extractor *Extractor
	driver    *Driver
	navigator *Navigator
	recovery  *Recovery
	watcher   *Watcher
	logger    *zap.Logger

	done     chan struct{}
	doneOnce sync.Once
}

// NewEngine assembles an engine. metrics may be nil.
func NewEngine(page Page, source ValueSource, sample assets.File, opts Options, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	opts = opts.withDefaults()
	log := logger.Named("autofill")
	extractor := NewExtractor(page, opts.DialogSelectors, log)
	driver := NewDriver(page, sample, opts.Timings, metrics, log)
	return &Engine{
		page:      page,
		source:    source,
		opts:      opts,
		state:     NewStepState(),
		extractor: extractor,
		driver:    driver,
		navigator: NewNavigator(page, opts, metrics, log),
		recovery:  NewRecovery(extractor, driver, source, opts, log),
		watcher:   NewWatcher(page, opts.Timings.MutationSettle, log),
		logger:    log,
		done:      make(chan struct{}),
	}
}

// Completed is closed once Run returns.
func (e *Engine) Completed() <-chan struct{} { return e.done }

// State exposes the per-step memory. It must not be used while Run is active.
func (e *Engine) State() *StepState { return e.state }

// Run drives the flow until it stops. Per-field and navigation failures end
// up in the report; the only error returned is the context's.
func (e *Engine) Run(ctx context.Context) (report schemas.FlowReport, err error) {
	defer e.doneOnce.Do(func() { close(e.done) })

	report = schemas.FlowReport{Status: schemas.RunRunning, StartedAt: time.Now().UTC()}
	report.StartURL, _ = e.page.URL(ctx)
	defer func() {
		report.FinishedAt = time.Now().UTC()
		report.FinalURL, _ = e.page.URL(context.WithoutCancel(ctx))
		if err != nil {
			report.Status = schemas.RunFailed
			report.StopReason = StopCancelled
			report.Error = err.Error()
		} else {
			report.Status = schemas.RunCompleted
		}
		e.logger.Info("Flow finished.",
			zap.String("stop_reason", report.StopReason),
			zap.Int("steps", report.Steps),
			zap.Int("corrections", report.Corrections))
	}()

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e.observeStep(ctx)

		passes, err := e.fillStep(ctx, report.Steps)
		report.Passes = append(report.Passes, passes...)
		if err != nil {
			return report, err
		}
		if err := sleep(ctx, e.opts.Timings.PostFill); err != nil {
			return report, err
		}

		reason, next, err := e.navigate(ctx, &report)
		if err != nil {
			return report, err
		}
		if !next {
			report.StopReason = reason
			return report, nil
		}
	}
}

// observeStep resets the step memory when the page no longer looks like the
// step the memory was built for.
func (e *Engine) observeStep(ctx context.Context) {
	fp, err := e.navigator.Fingerprint(ctx)
	if err != nil {
		e.logger.Debug("Could not fingerprint page.", zap.Error(err))
		return
	}
	url, _ := e.page.URL(ctx)
	if e.state.Observe(fp, url) {
		e.logger.Debug("Step changed, memory reset.")
	}
}

// fillStep runs the primary pass and follow-up rounds for fields revealed by
// earlier answers.
func (e *Engine) fillStep(ctx context.Context, step int) ([]schemas.PassSummary, error) {
	var passes []schemas.PassSummary
	for round := 0; round < e.opts.MaxFillRounds; round++ {
		fields, scope, err := e.extractor.Extract(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return passes, ctx.Err()
			}
			if !errors.Is(err, ErrNoFormFound) {
				e.logger.Warn("Field extraction failed.", zap.Error(err))
			}
			break
		}

		pending := e.pending(fields)
		if len(pending) == 0 {
			break
		}
		e.logger.Info("Filling fields.",
			zap.Int("step", step),
			zap.Int("round", round),
			zap.Int("fields", len(pending)),
			zap.String("scope", scope))

		mapping := e.source.Values(ctx, pending)
		outcomes, err := e.driver.FillAll(ctx, e.state, pending, mapping, false)
		passes = append(passes, schemas.PassSummary{Step: step, Scope: scope, Outcomes: outcomes})
		if err != nil {
			return passes, err
		}
	}

	if fp, err := e.navigator.Fingerprint(ctx); err == nil {
		url, _ := e.page.URL(ctx)
		e.state.SetBaseline(fp, url)
	}
	return passes, nil
}

// pending filters out fields the current step has already handled.
func (e *Engine) pending(fields []schemas.FieldDescriptor) []schemas.FieldDescriptor {
	out := make([]schemas.FieldDescriptor, 0, len(fields))
	for _, f := range fields {
		if f.ControlType == schemas.ControlFile {
			if !e.state.Uploaded(f.Key()) {
				out = append(out, f)
			}
			continue
		}
		if e.state.Interacted(f.Key()) || e.state.Locked(f.GroupKey()) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// navigate attempts to advance, correcting as long as the verdict allows. It
// reports whether the flow moved to a new step, or why it stopped.
func (e *Engine) navigate(ctx context.Context, report *schemas.FlowReport) (string, bool, error) {
	for {
		verdict, err := e.navigator.Advance(ctx, e.state)
		if err != nil {
			return "", false, err
		}

		switch verdict.Decision {
		case schemas.DecisionCorrect:
			report.Corrections++
			pass, err := e.recovery.Recover(ctx, e.state, verdict.Errors)
			pass.Step = report.Steps
			report.Passes = append(report.Passes, pass)
			if err != nil {
				return "", false, err
			}

		case schemas.DecisionContinue:
			report.Steps++
			if report.Steps >= e.opts.MaxSteps {
				e.logger.Warn("Step limit reached.", zap.Int("max_steps", e.opts.MaxSteps))
				return StopStepLimit, false, nil
			}
			e.state.Reset()
			return e.awaitContent(ctx)

		default:
			if errors.Is(verdict.Err, ErrNoProceedControl) {
				return StopNoProceed, false, nil
			}
			return StopStalled, false, nil
		}
	}
}

func (e *Engine) awaitContent(ctx context.Context) (string, bool, error) {
	if present, err := e.page.HasFormContent(ctx); err == nil && present {
		return "", true, nil
	}
	appeared, err := e.watcher.WaitForContent(ctx, e.opts.IdleTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		e.logger.Warn("Watching for content failed.", zap.Error(err))
		return StopIdle, false, nil
	}
	if !appeared {
		return StopIdle, false, nil
	}
	return "", true, nil
}
