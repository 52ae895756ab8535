// Package browser owns the Chrome process that live form runs drive.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
)

const (
	launchTimeout       = 30 * time.Second
	shutdownGracePeriod = 15 * time.Second
)

// Manager handles the browser process lifecycle and hands out tabs.
type Manager struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	cfg         config.BrowserConfig
	logger      *zap.Logger

	wg sync.WaitGroup
}

// NewManager launches the browser and verifies it responds.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{cfg: cfg, logger: logger.Named("browser_manager")}
	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", cfg.Headless))

	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)

	var ctxOpts []chromedp.ContextOption
	sugar := m.logger.Sugar()
	ctxOpts = append(ctxOpts, chromedp.WithLogf(sugar.Debugf), chromedp.WithErrorf(sugar.Errorf))
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(sugar.Debugf))
	}
	m.browserCtx, m.cancel = chromedp.NewContext(m.allocCtx, ctxOpts...)

	// The first Run starts the process.
	startCtx, cancelStart := context.WithTimeout(m.browserCtx, launchTimeout)
	defer cancelStart()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		m.cancel()
		m.allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return m, nil
}

// NewTab opens a new tab in the shared browser with the configured persona
// applied. The returned cancel closes it.
func (m *Manager) NewTab() (context.Context, context.CancelFunc, error) {
	tabCtx, cancel := chromedp.NewContext(m.browserCtx)
	if err := chromedp.Run(tabCtx, PersonaFromConfig(m.cfg).Tasks()); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to open tab: %w", err)
	}
	m.wg.Add(1)
	var once sync.Once
	return tabCtx, func() {
		once.Do(func() {
			cancel()
			m.wg.Done()
		})
	}, nil
}

// Shutdown waits for open tabs to close, up to the caller's deadline, then
// terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for open tabs to close...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	graceCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	var err error
	select {
	case <-done:
	case <-graceCtx.Done():
		err = fmt.Errorf("timed out waiting for tabs to close: %w", graceCtx.Err())
		m.logger.Warn("Forcing browser shutdown with tabs still open.")
	}

	m.cancel()
	m.allocCancel()
	m.logger.Info("Browser process terminated.")
	return err
}

// AllocatorOptions translates the browser configuration into chromedp
// allocator options. Later flags override the chromedp defaults.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	for name, value := range allocatorFlags(cfg, runtime.GOOS) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// allocatorFlags returns the command line flags, without leading dashes.
// A false boolean removes the flag.
func allocatorFlags(cfg config.BrowserConfig, goos string) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":           cfg.Headless,
		"disable-gpu":        cfg.Headless,
		"disable-extensions": true,
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", w, h)
	}

	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
	}
	if cfg.Proxy != "" {
		flags["proxy-server"] = cfg.Proxy
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}

	// Required inside containers.
	if goos == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}
	return flags
}
