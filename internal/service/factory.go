package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/assets"
	"github.com/xkilldash9x/formpilot/internal/autofill"
	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/llmclient"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/store"
	"github.com/xkilldash9x/formpilot/internal/valuesource"
)

// CreateOptions select the optional parts of the component graph.
type CreateOptions struct {
	// LiveBrowser drives pages in Chrome. Otherwise pages are fetched as
	// static documents.
	LiveBrowser bool
	// Persist stores finished reports when a database is configured.
	Persist bool
}

// ComponentFactory builds the components a command needs.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts CreateOptions) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires the component graph. Partially created components are shut
// down when a later step fails.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts CreateOptions) (*Components, error) {
	components := &Components{}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Metrics
	if cfg.Metrics().Enabled {
		components.Metrics = observability.NewMetrics(cfg.Metrics().Namespace)
	}

	// 2. Value generator. Missing credentials leave the fallback table in charge.
	generator, err := InitializeLLMClient(ctx, cfg.LLM(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Generator = generator

	// 3. Value source with optional cache
	sourceOpts := []valuesource.Option{valuesource.WithMetrics(components.Metrics)}
	if cacheCfg := cfg.Cache(); cacheCfg.Enabled {
		components.Cache = valuesource.NewRedisCache(cacheCfg.Address, cacheCfg.Password, cacheCfg.DB,
			valuesource.WithTTL(cacheCfg.TTL), valuesource.WithPrefix(cacheCfg.Prefix))
		sourceOpts = append(sourceOpts, valuesource.WithCache(components.Cache))
		logger.Debug("Value cache enabled.", zap.String("address", cacheCfg.Address))
	}
	components.Source = valuesource.New(generator, logger, sourceOpts...)

	// 4. Upload document
	sample, err := assets.LoadSample(cfg.Assets().SampleDocument)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}

	// 5. Run history
	if opts.Persist && cfg.Database().URL != "" {
		pool, runStore, err := InitializeStore(ctx, cfg.Database(), logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.DBPool = pool
		components.Store = runStore
		components.reportsChan = make(chan schemas.FlowReport, 64)
		components.consumerWG = &sync.WaitGroup{}
		StartReportConsumer(ctx, components.consumerWG, components.reportsChan, runStore, logger.Named("report_consumer"))
	}

	// 6. Pages
	var pages PageProvider
	if opts.LiveBrowser {
		manager, err := browser.NewManager(ctx, cfg.Browser(), logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize browser manager: %w", err)
			return nil, initializationErr
		}
		components.BrowserManager = manager
		pages = NewBrowserPages(manager, logger)
	} else {
		static, err := NewStaticPages(cfg.Browser(), logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		pages = static
	}

	// 7. Runner
	components.Runner = NewRunner(pages, components.Source, sample,
		autofill.OptionsFromConfig(cfg.Engine()), components.Metrics, logger)

	logger.Debug("All components initialized.",
		zap.Bool("live_browser", opts.LiveBrowser),
		zap.Bool("generator", generator != nil),
		zap.Bool("persistence", components.Store != nil))
	return components, nil
}

// InitializeLLMClient creates the value generator. A missing API key is not an
// error: it returns nil and values come from the fallback table.
func InitializeLLMClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	client, err := llmclient.NewClient(ctx, cfg, logger)
	if errors.Is(err, llmclient.ErrNotConfigured) {
		logger.Warn("No value generator configured; using local fallback values only.", zap.Error(err))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return client, nil
}

// InitializeStore connects to PostgreSQL and applies the schema.
func InitializeStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, *store.Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse database url: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}
	runStore, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := runStore.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("Run history enabled.")
	return pool, runStore, nil
}
