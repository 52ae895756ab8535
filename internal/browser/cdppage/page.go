// Package cdppage implements autofill.Page over a live Chrome tab. Every
// primitive is a small function of an embedded script evaluated in the
// page's main world, so framework listeners observe the same events a user
// would produce.
package cdppage

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/assets"
	"github.com/xkilldash9x/formpilot/internal/autofill"
)

//go:embed primitives.js
var primitivesJS string

const (
	bindingName   = "formpilotContent"
	handleAttr    = "data-formpilot-id"
	actionTimeout = 10 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var keys = map[string]string{
	"ArrowDown": kb.ArrowDown,
	"ArrowUp":   kb.ArrowUp,
	"Enter":     kb.Enter,
	"Escape":    kb.Escape,
	"Tab":       kb.Tab,
}

var _ autofill.Page = (*Page)(nil)

// Page drives one browser tab.
type Page struct {
	ctx    context.Context
	logger *zap.Logger

	observeMu sync.Mutex
	observing bool

	subMu       sync.Mutex
	subscribers map[chan schemas.ContentEvent]struct{}

	fileMu  sync.Mutex
	staged  map[string]string
	tempDir string
}

// New wraps a chromedp tab context. The tab must already be running.
func New(tabCtx context.Context, logger *zap.Logger) *Page {
	p := &Page{
		ctx:         tabCtx,
		logger:      logger.Named("cdppage"),
		subscribers: make(map[chan schemas.ContentEvent]struct{}),
		staged:      make(map[string]string),
	}
	chromedp.ListenTarget(tabCtx, p.onTargetEvent)
	return p
}

// Close removes files staged for upload.
func (p *Page) Close() error {
	p.fileMu.Lock()
	defer p.fileMu.Unlock()
	if p.tempDir == "" {
		return nil
	}
	err := os.RemoveAll(p.tempDir)
	p.tempDir = ""
	p.staged = make(map[string]string)
	return err
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Info("Navigating", zap.String("url", url))
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to '%s': %w", url, err)
	}
	return nil
}

// run executes actions on the tab, bounded by both the tab and ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// call invokes one function of the embedded script and decodes its result.
func (p *Page) call(ctx context.Context, res interface{}, fn string, args ...interface{}) error {
	expr, err := buildCall(fn, args...)
	if err != nil {
		return err
	}
	if err := p.run(ctx, chromedp.Evaluate(expr, res)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", fn, err)
	}
	return nil
}

// buildCall renders a call expression that installs the script first when
// the current document does not have it yet.
func buildCall(fn string, args ...interface{}) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode argument %d of %s: %w", i, fn, err)
		}
		encoded[i] = string(b)
	}
	install := strings.TrimSuffix(strings.TrimSpace(primitivesJS), ";")
	return fmt.Sprintf("%s.%s(%s)", install, fn, strings.Join(encoded, ", ")), nil
}

func selectorOf(handle string) string {
	return fmt.Sprintf(`[%s=%q]`, handleAttr, handle)
}

// -- Reads --

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

func (p *Page) Controls(ctx context.Context, scope string) ([]schemas.RawControl, error) {
	var out []schemas.RawControl
	err := p.call(ctx, &out, "controls", scope)
	return out, err
}

func (p *Page) BodyText(ctx context.Context) (string, error) {
	var text string
	err := p.call(ctx, &text, "bodyText")
	return text, err
}

func (p *Page) HasFormContent(ctx context.Context) (bool, error) {
	var present bool
	err := p.call(ctx, &present, "hasFormContent")
	return present, err
}

func (p *Page) ValidationErrors(ctx context.Context, selectors []string) ([]string, error) {
	if selectors == nil {
		selectors = []string{}
	}
	var out []string
	err := p.call(ctx, &out, "validationErrors", selectors)
	return out, err
}

func (p *Page) ProceedCandidates(ctx context.Context) ([]schemas.ProceedCandidate, error) {
	var out []schemas.ProceedCandidate
	err := p.call(ctx, &out, "proceedCandidates")
	return out, err
}

// -- Actions --

func (p *Page) SetValue(ctx context.Context, handle, value string) error {
	var ok bool
	return p.call(ctx, &ok, "setValue", handle, value)
}

func (p *Page) Dispatch(ctx context.Context, handle, event string) error {
	var ok bool
	return p.call(ctx, &ok, "dispatch", handle, event)
}

// Click performs a trusted mouse click through CDP.
func (p *Page) Click(ctx context.Context, handle string) error {
	clickCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	return p.run(clickCtx, chromedp.Click(selectorOf(handle), chromedp.ByQuery))
}

func (p *Page) ClickLabel(ctx context.Context, handle string) error {
	var ok bool
	return p.call(ctx, &ok, "clickLabel", handle)
}

func (p *Page) IsChecked(ctx context.Context, handle string) (bool, error) {
	var checked bool
	err := p.call(ctx, &checked, "isChecked", handle)
	return checked, err
}

func (p *Page) ForceCheck(ctx context.Context, handle string) error {
	var ok bool
	return p.call(ctx, &ok, "forceCheck", handle)
}

// PressKey focuses the element and sends key as a keyboard event.
func (p *Page) PressKey(ctx context.Context, handle, key string) error {
	k, ok := keys[key]
	if !ok {
		k = key
	}
	keyCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	return p.run(keyCtx,
		chromedp.Focus(selectorOf(handle), chromedp.ByQuery),
		chromedp.KeyEvent(k),
	)
}

func (p *Page) ChooseOption(ctx context.Context, value string) (bool, error) {
	var chosen bool
	err := p.call(ctx, &chosen, "chooseOption", value)
	return chosen, err
}

func (p *Page) SelectOption(ctx context.Context, handle, value string) (string, error) {
	var label string
	err := p.call(ctx, &label, "selectOption", handle, value)
	return label, err
}

// AttachFile writes file to a temporary path once and sets it on the input.
func (p *Page) AttachFile(ctx context.Context, handle string, file assets.File) error {
	path, err := p.stage(file)
	if err != nil {
		return err
	}
	uploadCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	return p.run(uploadCtx, chromedp.SetUploadFiles(selectorOf(handle), []string{path}, chromedp.ByQuery))
}

func (p *Page) stage(file assets.File) (string, error) {
	p.fileMu.Lock()
	defer p.fileMu.Unlock()
	if path, ok := p.staged[file.Name]; ok {
		return path, nil
	}
	if p.tempDir == "" {
		dir, err := os.MkdirTemp("", "formpilot-upload-*")
		if err != nil {
			return "", fmt.Errorf("failed to create upload directory: %w", err)
		}
		p.tempDir = dir
	}
	path := filepath.Join(p.tempDir, filepath.Base(file.Name))
	if err := os.WriteFile(path, file.Content, 0o600); err != nil {
		return "", fmt.Errorf("failed to stage upload '%s': %w", file.Name, err)
	}
	p.staged[file.Name] = path
	return path, nil
}

// ActivateInPage clicks from the page's own script context and follows up
// with mousedown and mouseup.
func (p *Page) ActivateInPage(ctx context.Context, handle string) (bool, error) {
	var clicked bool
	err := p.call(ctx, &clicked, "activate", handle)
	return clicked, err
}

// -- Content subscriptions --

// Watch streams content-added events reported by a MutationObserver in the
// page. The observer survives navigations.
func (p *Page) Watch(ctx context.Context) (<-chan schemas.ContentEvent, error) {
	if err := p.ensureObserver(ctx); err != nil {
		return nil, err
	}
	return p.subscribe(ctx), nil
}

func (p *Page) ensureObserver(ctx context.Context) error {
	p.observeMu.Lock()
	defer p.observeMu.Unlock()
	if p.observing {
		return nil
	}

	bootstrap := fmt.Sprintf(
		"%s;\ndocument.addEventListener('DOMContentLoaded', function () { window.__formpilot.observe(%q); window.__formpilot.announce(%q); });",
		strings.TrimSpace(primitivesJS), bindingName, bindingName)
	observe, err := buildCall("observe", bindingName)
	if err != nil {
		return err
	}

	var started bool
	err = p.run(ctx,
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bootstrap).Do(c)
			return err
		}),
		chromedp.Evaluate(observe, &started),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("could not install mutation observer: %w", err)
	}
	p.observing = true
	p.logger.Debug("Mutation observer installed.", zap.Bool("started", started))
	return nil
}

func (p *Page) subscribe(ctx context.Context) <-chan schemas.ContentEvent {
	in := make(chan schemas.ContentEvent, 8)
	out := make(chan schemas.ContentEvent)

	p.subMu.Lock()
	p.subscribers[in] = struct{}{}
	p.subMu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			p.subMu.Lock()
			delete(p.subscribers, in)
			p.subMu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-in:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

type contentPayload struct {
	FormContent bool `json:"formContent"`
	Added       int  `json:"added"`
}

// onTargetEvent runs on the chromedp event loop and must not block.
func (p *Page) onTargetEvent(ev interface{}) {
	called, ok := ev.(*runtime.EventBindingCalled)
	if !ok || called.Name != bindingName {
		return
	}
	var payload contentPayload
	if err := json.Unmarshal([]byte(called.Payload), &payload); err != nil {
		p.logger.Warn("Could not decode content event.", zap.String("payload", called.Payload), zap.Error(err))
		return
	}

	event := schemas.ContentEvent{FormContent: payload.FormContent, Added: payload.Added, At: time.Now()}
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subscribers {
		select {
		case ch <- event:
		default:
			p.logger.Debug("Dropping content event for slow subscriber.")
		}
	}
}

// combineContext returns a context canceled when either parent or secondary is.
// Values, including the chromedp target, come from parent.
func combineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)
	if deadline, ok := secondary.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, deadline)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
