package autofill

import (
	"context"
	"fmt"
	"hash"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

// Verdict is the outcome of one proceed attempt.
type Verdict struct {
	Decision schemas.Decision
	// Errors are the visible validation messages, in page order.
	Errors []string
	// Err labels a STOPPED verdict.
	Err error
}

var hasherPool = sync.Pool{
	New: func() interface{} { return fnv.New64a() },
}

// Navigator finds and activates the proceed control and judges the result.
type Navigator struct {
	page       Page
	opts       Options
	vocabulary []*regexp.Regexp
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewNavigator compiles the proceed vocabulary into word-boundary patterns.
func NewNavigator(page Page, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Navigator {
	n := &Navigator{
		page:    page,
		opts:    opts,
		metrics: metrics,
		logger:  logger.Named("navigator"),
	}
	for _, phrase := range opts.ProceedVocabulary {
		words := strings.Fields(phrase)
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		n.vocabulary = append(n.vocabulary, regexp.MustCompile(`(?i)\b`+strings.Join(words, `\s+`)+`\b`))
	}
	return n
}

// FindProceed returns the first candidate whose text names a progress action.
func (n *Navigator) FindProceed(ctx context.Context) (schemas.ProceedCandidate, bool, error) {
	candidates, err := n.page.ProceedCandidates(ctx)
	if err != nil {
		return schemas.ProceedCandidate{}, false, fmt.Errorf("failed to list proceed candidates: %w", err)
	}
	for _, c := range candidates {
		if n.isProceed(c.Text) {
			return c, true, nil
		}
	}
	return schemas.ProceedCandidate{}, false, nil
}

func (n *Navigator) isProceed(text string) bool {
	text = collapseSpace(text)
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, ex := range n.opts.ProceedExclusions {
		if ex != "" && strings.Contains(lower, strings.ToLower(ex)) {
			return false
		}
	}
	for _, re := range n.vocabulary {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Errors returns the visible validation messages, de-duplicated in page order.
func (n *Navigator) Errors(ctx context.Context) ([]string, error) {
	raw, err := n.page.ValidationErrors(ctx, n.opts.ErrorSelectors)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, msg := range raw {
		msg = collapseSpace(msg)
		if msg == "" || seen[msg] {
			continue
		}
		seen[msg] = true
		out = append(out, msg)
	}
	return out, nil
}

// Fingerprint hashes the visible body text with validation messages removed,
// so that an error appearing or disappearing is not a step change.
func (n *Navigator) Fingerprint(ctx context.Context) (string, error) {
	body, err := n.page.BodyText(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read body text: %w", err)
	}
	errs, err := n.Errors(ctx)
	if err != nil {
		n.logger.Debug("Could not read validation errors for fingerprint.", zap.Error(err))
	}
	return fingerprint(body, errs), nil
}

func fingerprint(body string, errs []string) string {
	text := strings.ToLower(collapseSpace(body))
	for _, e := range errs {
		if e = strings.ToLower(collapseSpace(e)); e != "" {
			text = strings.ReplaceAll(text, e, "")
		}
	}
	text = collapseSpace(text)

	hasher := hasherPool.Get().(hash.Hash64)
	_, _ = hasher.Write([]byte(text))
	sum := strconv.FormatUint(hasher.Sum64(), 16)
	hasher.Reset()
	hasherPool.Put(hasher)
	return sum
}

// Advance activates the proceed control and classifies what happened.
func (n *Navigator) Advance(ctx context.Context, state *StepState) (Verdict, error) {
	verdict, err := n.advance(ctx, state)
	if err != nil {
		return verdict, err
	}
	n.metrics.ObserveDecision(string(verdict.Decision))
	n.logger.Info("Navigation verdict.",
		zap.String("decision", string(verdict.Decision)),
		zap.Int("errors", len(verdict.Errors)),
		zap.Int("correction_attempts", state.CorrectionAttempts))
	return verdict, nil
}

func (n *Navigator) advance(ctx context.Context, state *StepState) (Verdict, error) {
	target, found, err := n.FindProceed(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		n.logger.Warn("Proceed control lookup failed.", zap.Error(err))
	}
	if !found {
		return Verdict{Decision: schemas.DecisionStopped, Err: ErrNoProceedControl}, nil
	}

	before, beforeErr := n.Fingerprint(ctx)
	beforeURL, _ := n.page.URL(ctx)

	n.logger.Debug("Activating proceed control.", zap.String("text", collapseSpace(target.Text)))
	clicked, err := n.page.ActivateInPage(ctx, target.Handle)
	if err != nil || !clicked {
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		n.logger.Debug("In-page activation failed, clicking directly.", zap.Error(err))
		if err := n.page.Click(ctx, target.Handle); err != nil {
			if ctx.Err() != nil {
				return Verdict{}, ctx.Err()
			}
			n.logger.Warn("Proceed control click failed.", zap.Error(err))
		}
	}

	if err := sleep(ctx, n.opts.Timings.NavigationSettle); err != nil {
		return Verdict{}, err
	}

	after, afterErr := n.Fingerprint(ctx)
	afterURL, _ := n.page.URL(ctx)
	if beforeErr != nil || afterErr != nil || before != after || beforeURL != afterURL {
		return Verdict{Decision: schemas.DecisionContinue}, nil
	}

	errs, err := n.Errors(ctx)
	if err != nil && ctx.Err() != nil {
		return Verdict{}, ctx.Err()
	}
	if len(errs) > 0 && state.CorrectionAttempts < n.opts.MaxCorrectionAttempts {
		return Verdict{Decision: schemas.DecisionCorrect, Errors: errs}, nil
	}
	return Verdict{Decision: schemas.DecisionStopped, Errors: errs, Err: ErrStalledProgress}, nil
}
