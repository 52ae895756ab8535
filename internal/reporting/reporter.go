// Package reporting renders finished flow reports for the command line.
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter writes flow reports to an output.
type Reporter interface {
	// Write renders a single report.
	Write(report schemas.FlowReport) error
	// Close finalizes the output and closes any underlying file.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("json" or "text"). An empty path or
// "stdout" writes to stdout.
func New(format, outputPath string, stdout io.Writer) (Reporter, error) {
	switch format {
	case "json", "text":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "text" {
		return &TextReporter{w: writer}, nil
	}
	return &JSONReporter{w: writer}, nil
}

// JSONReporter writes each report as an indented JSON document.
type JSONReporter struct {
	w io.WriteCloser
}

func (r *JSONReporter) Write(report schemas.FlowReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')
	if _, err := r.w.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error { return r.w.Close() }

// TextReporter writes a human readable summary with one row per pass.
type TextReporter struct {
	w io.WriteCloser
}

func (r *TextReporter) Write(report schemas.FlowReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", report.RunID, report.Status)
	fmt.Fprintf(&b, "  start:       %s\n", report.StartURL)
	fmt.Fprintf(&b, "  final:       %s\n", report.FinalURL)
	fmt.Fprintf(&b, "  steps:       %d\n", report.Steps)
	fmt.Fprintf(&b, "  corrections: %d\n", report.Corrections)
	fmt.Fprintf(&b, "  stopped:     %s\n", report.StopReason)
	if !report.StartedAt.IsZero() && !report.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "  duration:    %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	}
	if report.Error != "" {
		fmt.Fprintf(&b, "  error:       %s\n", report.Error)
	}

	if len(report.Passes) > 0 {
		b.WriteString("\n")
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STEP\tPASS\tOK\tSKIPPED\tFAILED\tSCOPE")
		for _, p := range report.Passes {
			kind := "fill"
			if p.Correction {
				kind = "correction"
			}
			scope := p.Scope
			if scope == "" {
				scope = "document"
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\n", p.Step+1, kind,
				p.Count(schemas.OutcomeOK), p.Count(schemas.OutcomeSkipped), p.Count(schemas.OutcomeFailed), scope)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(r.w, b.String()); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *TextReporter) Close() error { return r.w.Close() }
