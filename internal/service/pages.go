package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/autofill"
	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/browser/cdppage"
	"github.com/xkilldash9x/formpilot/internal/browser/htmlpage"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/network"
)

// Page is an autofill.Page that can also load a URL.
type Page interface {
	autofill.Page
	Navigate(ctx context.Context, url string) error
}

// PageProvider opens a fresh page for each run. The returned func releases it.
type PageProvider interface {
	Open(ctx context.Context) (Page, func(), error)
}

// BrowserManager is the part of browser.Manager the components shut down.
type BrowserManager interface {
	Shutdown(ctx context.Context) error
}

// BrowserPages opens one Chrome tab per run.
type BrowserPages struct {
	manager *browser.Manager
	logger  *zap.Logger
}

func NewBrowserPages(manager *browser.Manager, logger *zap.Logger) *BrowserPages {
	return &BrowserPages{manager: manager, logger: logger}
}

func (b *BrowserPages) Open(ctx context.Context) (Page, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	tabCtx, closeTab, err := b.manager.NewTab()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open browser tab: %w", err)
	}
	page := cdppage.New(tabCtx, b.logger)
	return page, func() {
		if err := page.Close(); err != nil {
			b.logger.Warn("Failed to clean up staged uploads.", zap.Error(err))
		}
		closeTab()
	}, nil
}

// StaticPages opens a plain HTTP session per run. Pages that build their
// forms with scripts are out of its reach. Sessions share one transport but
// never cookies.
type StaticPages struct {
	client *network.ClientConfig
	logger *zap.Logger
}

// NewStaticPages configures the sessions' HTTP client from the browser
// settings so both page kinds honor the same proxy and TLS options.
func NewStaticPages(cfg config.BrowserConfig, logger *zap.Logger) (*StaticPages, error) {
	proxy, err := network.ParseProxy(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	client := network.NewDefaultClientConfig()
	client.IgnoreTLSErrors = cfg.IgnoreTLSErrors
	client.ProxyURL = proxy
	if cfg.NavigationTimeout > 0 {
		client.RequestTimeout = cfg.NavigationTimeout
	}
	client.Logger = logger.Named("httpclient")
	client.Transport = network.NewHTTPTransport(client)
	return &StaticPages{client: client, logger: logger}, nil
}

func (s *StaticPages) Open(ctx context.Context) (Page, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	session := htmlpage.New(s.client.RequestTimeout, s.logger, htmlpage.WithHTTPClient(network.NewClient(s.client)))
	return session, func() { _ = session.Close() }, nil
}
