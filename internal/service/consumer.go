package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

const persistTimeout = 30 * time.Second

// RunStore persists flow reports.
type RunStore interface {
	SaveReport(ctx context.Context, report schemas.FlowReport) error
	GetReport(ctx context.Context, runID string) (schemas.FlowReport, error)
	ListReports(ctx context.Context, limit int) ([]schemas.FlowReport, error)
}

// StartReportConsumer launches a goroutine that persists finished reports
// until the channel is closed. On ctx cancellation it drains what is already
// buffered and exits.
func StartReportConsumer(ctx context.Context, wg *sync.WaitGroup, reports <-chan schemas.FlowReport, runStore RunStore, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("Report consumer started.")
		defer logger.Debug("Report consumer shut down.")

		persist := func(report schemas.FlowReport) {
			// Persistence must outlive the caller's context during shutdown.
			persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := runStore.SaveReport(persistCtx, report); err != nil {
				logger.Error("Failed to persist flow report.", zap.String("run_id", report.RunID), zap.Error(err))
			}
		}

		for {
			select {
			case report, ok := <-reports:
				if !ok {
					return
				}
				persist(report)
			case <-ctx.Done():
				logger.Warn("Report consumer context canceled, draining buffered reports.")
				for _, report := range drainChannel(reports) {
					persist(report)
				}
				return
			}
		}
	}()
}

// drainChannel returns whatever is buffered without blocking.
func drainChannel(reports <-chan schemas.FlowReport) []schemas.FlowReport {
	var out []schemas.FlowReport
	for {
		select {
		case report, ok := <-reports:
			if !ok {
				return out
			}
			out = append(out, report)
		default:
			return out
		}
	}
}
