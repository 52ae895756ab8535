package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/valuesource"
)

const consumerDrainTimeout = 45 * time.Second

// Components holds every initialized service a command needs and owns their
// shutdown order.
type Components struct {
	Runner         *Runner
	Source         *valuesource.Source
	Generator      schemas.LLMClient
	Cache          *valuesource.RedisCache
	Store          RunStore
	DBPool         *pgxpool.Pool
	Metrics        *observability.Metrics
	BrowserManager BrowserManager

	// reportsChan decouples run completion from persistence. Nil without a store.
	reportsChan chan schemas.FlowReport
	consumerWG  *sync.WaitGroup
}

// Reports returns the channel finished reports are persisted from, or nil
// when no database is configured.
func (c *Components) Reports() chan<- schemas.FlowReport {
	if c.reportsChan == nil {
		return nil
	}
	return c.reportsChan
}

// Shutdown closes all components. Producers of reports must have stopped.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Drain pending reports into the store.
	if c.reportsChan != nil {
		close(c.reportsChan)
		c.reportsChan = nil
	}
	if c.consumerWG != nil {
		if !timedWait(c.consumerWG, consumerDrainTimeout) {
			logger.Warn("Timed out waiting for the report consumer; some reports may not be persisted.")
		}
	}

	// 2. Browser.
	if c.BrowserManager != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.BrowserManager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		}
	}

	// 3. Value source backends.
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			logger.Warn("Error closing value cache.", zap.Error(err))
		}
	}
	if c.Generator != nil {
		if err := c.Generator.Close(); err != nil {
			logger.Warn("Error closing value generator.", zap.Error(err))
		}
	}

	// 4. Database.
	if c.DBPool != nil {
		c.DBPool.Close()
	}

	logger.Info("All components shut down.")
}

// timedWait waits for wg, reporting false if timeout elapses first.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
