package autofill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Watcher waits for form content to be rendered after a step change.
type Watcher struct {
	page   Page
	settle time.Duration
	logger *zap.Logger
}

// NewWatcher creates a watcher that waits settle after the first form event.
func NewWatcher(page Page, settle time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{page: page, settle: settle, logger: logger.Named("watcher")}
}

// WaitForContent blocks until form content appears or timeout elapses. It
// reports false on timeout. The subscription is always released on return.
func (w *Watcher) WaitForContent(ctx context.Context, timeout time.Duration) (bool, error) {
	watchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events, err := w.page.Watch(watchCtx)
	if err != nil {
		return false, fmt.Errorf("failed to watch for content: %w", err)
	}

	// Content may have been rendered before the subscription was live.
	if present, err := w.page.HasFormContent(ctx); err == nil && present {
		cancel()
		return true, sleep(ctx, w.settle)
	}

	for {
		select {
		case <-watchCtx.Done():
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if errors.Is(watchCtx.Err(), context.DeadlineExceeded) {
				return false, nil
			}
			return false, watchCtx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return false, err
				}
				return false, nil
			}
			if !ev.FormContent {
				continue
			}
			w.logger.Debug("Form content added.", zap.Int("nodes", ev.Added))
			cancel()
			return true, sleep(ctx, w.settle)
		}
	}
}
