package autofill

import (
	"context"
	"time"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// Timings are the settle delays observed between interactions.
type Timings struct {
	PreField         time.Duration
	AfterCheckbox    time.Duration
	AfterRadio       time.Duration
	DropdownOpen     time.Duration
	KeyInterval      time.Duration
	AfterDropdown    time.Duration
	AfterText        time.Duration
	BlurDelay        time.Duration
	AfterUpload      time.Duration
	PostFill         time.Duration
	NavigationSettle time.Duration
	CorrectionSettle time.Duration
	MutationSettle   time.Duration
}

// Options tune the engine. The zero value of Timings disables every wait.
type Options struct {
	MaxSteps              int
	MaxFillRounds         int
	MaxCorrectionAttempts int
	IdleTimeout           time.Duration
	DialogSelectors       []string
	ProceedVocabulary     []string
	ProceedExclusions     []string
	ErrorSelectors        []string
	Timings               Timings
}

// OptionsFromConfig maps the engine section of the configuration.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	t := cfg.Timings
	return Options{
		MaxSteps:              cfg.MaxSteps,
		MaxFillRounds:         cfg.MaxFillRounds,
		MaxCorrectionAttempts: cfg.MaxCorrectionAttempts,
		IdleTimeout:           cfg.IdleTimeout,
		DialogSelectors:       cfg.DialogSelectors,
		ProceedVocabulary:     cfg.ProceedVocabulary,
		ProceedExclusions:     cfg.ProceedExclusions,
		ErrorSelectors:        cfg.ErrorSelectors,
		Timings: Timings{
			PreField:         t.PreField,
			AfterCheckbox:    t.AfterCheckbox,
			AfterRadio:       t.AfterRadio,
			DropdownOpen:     t.DropdownOpen,
			KeyInterval:      t.KeyInterval,
			AfterDropdown:    t.AfterDropdown,
			AfterText:        t.AfterText,
			BlurDelay:        t.BlurDelay,
			AfterUpload:      t.AfterUpload,
			PostFill:         t.PostFill,
			NavigationSettle: t.NavigationSettle,
			CorrectionSettle: t.CorrectionSettle,
			MutationSettle:   t.MutationSettle,
		},
	}
}

// DefaultOptions returns the configured defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.NewDefaultConfig().Engine())
}

func (o Options) withDefaults() Options {
	if o.MaxSteps <= 0 {
		o.MaxSteps = 25
	}
	if o.MaxFillRounds <= 0 {
		o.MaxFillRounds = 1
	}
	if o.MaxCorrectionAttempts < 0 {
		o.MaxCorrectionAttempts = 0
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	return o
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
