package cmd

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/autofill"
	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Inspection is what inspect prints: the fields of the first step and the
// control that would advance it.
type Inspection struct {
	URL        string                     `json:"url"`
	Scope      string                     `json:"scope,omitempty"`
	Fields     []schemas.FieldDescriptor  `json:"fields"`
	Candidates []schemas.ProceedCandidate `json:"candidates"`
	Proceed    *schemas.ProceedCandidate  `json:"proceed,omitempty"`
}

func newInspectCmd(a *app) *cobra.Command {
	var live bool

	inspectCmd := &cobra.Command{
		Use:   "inspect [url]",
		Short: "List the fields and proceed controls of a page without filling it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			var pages service.PageProvider
			if live {
				manager, err := browser.NewManager(ctx, a.cfg.Browser(), logger)
				if err != nil {
					return fmt.Errorf("failed to initialize browser manager: %w", err)
				}
				defer func() {
					if err := manager.Shutdown(ctx); err != nil {
						logger.Warn("Browser shutdown incomplete.", zap.Error(err))
					}
				}()
				pages = service.NewBrowserPages(manager, logger)
			} else {
				static, err := service.NewStaticPages(a.cfg.Browser(), logger)
				if err != nil {
					return err
				}
				pages = static
			}

			inspection, err := inspect(ctx, pages, autofill.OptionsFromConfig(a.cfg.Engine()), args[0], logger)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(inspection, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode inspection: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	inspectCmd.Flags().BoolVar(&live, "live", false, "Render the page in Chrome before inspecting it")
	return inspectCmd
}

func inspect(ctx context.Context, pages service.PageProvider, opts autofill.Options, target string, logger *zap.Logger) (Inspection, error) {
	page, release, err := pages.Open(ctx)
	if err != nil {
		return Inspection{}, err
	}
	defer release()

	if err := page.Navigate(ctx, target); err != nil {
		return Inspection{}, fmt.Errorf("failed to load %s: %w", target, err)
	}

	result := Inspection{URL: target, Fields: []schemas.FieldDescriptor{}}

	fields, scope, err := autofill.NewExtractor(page, opts.DialogSelectors, logger).Extract(ctx)
	switch {
	case err == nil:
		result.Fields, result.Scope = fields, scope
	case errors.Is(err, autofill.ErrNoFormFound):
		logger.Info("No fillable fields on the page.", zap.String("url", target))
	default:
		return Inspection{}, err
	}

	if result.Candidates, err = page.ProceedCandidates(ctx); err != nil {
		return Inspection{}, fmt.Errorf("failed to list proceed candidates: %w", err)
	}
	if result.Candidates == nil {
		result.Candidates = []schemas.ProceedCandidate{}
	}
	proceed, ok, err := autofill.NewNavigator(page, opts, nil, logger).FindProceed(ctx)
	if err != nil {
		return Inspection{}, err
	}
	if ok {
		result.Proceed = &proceed
	}
	return result, nil
}
