package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// ErrInvalidURL is returned when a run is requested for something that is
// not an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid start url")

// ErrShuttingDown is returned when a run is requested after Stop.
var ErrShuttingDown = errors.New("service is shutting down")

// RunService starts flows in the background, at most MaxConcurrent at a
// time, and tracks them in a registry.
type RunService struct {
	runner   *Runner
	registry *RunRegistry
	reports  chan<- schemas.FlowReport
	sem      *semaphore.Weighted
	timeout  time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewRunService creates the service. Finished reports are sent on reports
// when it is not nil.
func NewRunService(runner *Runner, registry *RunRegistry, reports chan<- schemas.FlowReport, maxConcurrent int, timeout time.Duration, logger *zap.Logger) *RunService {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RunService{
		runner:   runner,
		registry: registry,
		reports:  reports,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		timeout:  timeout,
		logger:   logger.Named("run_service"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry exposes the run registry.
func (s *RunService) Registry() *RunRegistry { return s.registry }

// StartRun validates the URL, registers a pending run and executes it
// asynchronously.
func (s *RunService) StartRun(startURL string) (schemas.FlowReport, error) {
	if err := validateStartURL(startURL); err != nil {
		return schemas.FlowReport{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return schemas.FlowReport{}, ErrShuttingDown
	}

	id := uuid.NewString()
	report := s.registry.Register(id, startURL)
	s.logger.Info("Run accepted.", zap.String("run_id", id), zap.String("url", startURL))

	s.wg.Add(1)
	go s.execute(id, startURL)
	return report, nil
}

func (s *RunService) execute(id, startURL string) {
	defer s.wg.Done()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		now := time.Now().UTC()
		s.finish(schemas.FlowReport{
			RunID:      id,
			StartURL:   startURL,
			Status:     schemas.RunFailed,
			StopReason: "cancelled",
			Error:      err.Error(),
			FinishedAt: now,
		})
		return
	}
	defer s.sem.Release(1)

	s.registry.MarkRunning(id)
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.finish(s.runner.Run(ctx, id, startURL))
}

func (s *RunService) finish(report schemas.FlowReport) {
	s.registry.Complete(report)
	if s.reports != nil {
		s.reports <- report
	}
}

// Stop rejects new runs, cancels the ones in flight and waits for them, up
// to ctx's deadline.
func (s *RunService) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for runs to stop: %w", ctx.Err())
	}
}

func validateStartURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidURL, raw)
	}
	return nil
}
