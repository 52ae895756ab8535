// Package htmlpage drives server-rendered forms without a browser. Documents
// are fetched over HTTP, parsed with x/net/html, and form submissions are
// serialized and sent the way a browser would. No scripts are executed.
package htmlpage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/assets"
)

const maxRedirects = 10

// Session is one static browsing context. It implements autofill.Page.
type Session struct {
	id     string
	client *http.Client
	logger *zap.Logger

	mu         sync.RWMutex
	currentURL *url.URL
	doc        *html.Node
	// Files attached to file inputs, by handle. Cleared on navigation.
	files map[string]assets.File

	subMu       sync.Mutex
	subscribers map[chan schemas.ContentEvent]struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient replaces the default client. Redirects are always handled
// by the session itself.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.client = c }
}

// New creates an empty session. timeout bounds each request; zero means 60s.
func New(timeout time.Duration, logger *zap.Logger, opts ...Option) *Session {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	id := uuid.New().String()
	s := &Session{
		id:          id,
		logger:      logger.Named("htmlpage").With(zap.String("session_id", id)),
		files:       make(map[string]assets.File),
		subscribers: make(map[chan schemas.ContentEvent]struct{}),
	}
	jar, _ := cookiejar.New(nil)
	s.client = &http.Client{Timeout: timeout, Jar: jar}
	for _, opt := range opts {
		opt(s)
	}
	// Redirects are followed manually so the final URL and method are known.
	client := *s.client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	s.client = &client
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Close releases idle connections.
func (s *Session) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Navigate loads a URL, resolved against the current one.
func (s *Session) Navigate(ctx context.Context, target string) error {
	resolved, err := s.resolveURL(target)
	if err != nil {
		return fmt.Errorf("failed to resolve URL '%s': %w", target, err)
	}
	s.logger.Info("Navigating", zap.String("url", resolved.String()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request for '%s': %w", resolved.String(), err)
	}
	return s.executeRequest(ctx, req)
}

// Load replaces the current document with markup, as if served from base.
func (s *Session) Load(base string, r io.Reader) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid base URL '%s': %w", base, err)
	}
	doc, err := htmlquery.Parse(r)
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	s.updateState(u, doc)
	return nil
}

func (s *Session) executeRequest(ctx context.Context, req *http.Request) error {
	current := req
	for i := 0; i < maxRedirects; i++ {
		s.logger.Debug("Executing request", zap.String("method", current.Method), zap.String("url", current.URL.String()))
		resp, err := s.client.Do(current)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			next, err := s.redirectRequest(ctx, resp, current)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("failed to handle redirect: %w", err)
			}
			current = next
			continue
		}
		return s.processResponse(resp)
	}
	return fmt.Errorf("maximum number of redirects (%d) exceeded", maxRedirects)
}

func (s *Session) redirectRequest(ctx context.Context, resp *http.Response, original *http.Request) (*http.Request, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("redirect response missing Location header")
	}
	next, err := original.URL.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redirect Location '%s': %w", location, err)
	}

	method := original.Method
	var body io.ReadCloser
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if method != http.MethodHead {
			method = http.MethodGet
		}
	default:
		if original.GetBody != nil {
			if body, err = original.GetBody(); err != nil {
				return nil, fmt.Errorf("failed to get body for redirect reuse: %w", err)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, next.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", original.Header.Get("Content-Type"))
	}
	req.Header.Set("Referer", original.URL.String())
	return req, nil
}

func (s *Session) processResponse(resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.logger.Warn("Request resulted in error status code", zap.Int("status", resp.StatusCode), zap.String("url", resp.Request.URL.String()))
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		s.logger.Debug("Response is not HTML, skipping DOM parsing.", zap.String("content_type", contentType))
		s.updateState(resp.Request.URL, nil)
		return nil
	}

	doc, err := htmlquery.Parse(resp.Body)
	if err != nil {
		s.updateState(resp.Request.URL, nil)
		return fmt.Errorf("failed to parse HTML response from '%s': %w", resp.Request.URL.String(), err)
	}
	s.updateState(resp.Request.URL, doc)
	return nil
}

func (s *Session) updateState(u *url.URL, doc *html.Node) {
	s.mu.Lock()
	s.currentURL = u
	s.doc = doc
	s.files = make(map[string]assets.File)
	s.mu.Unlock()

	title := ""
	if doc != nil {
		if n := htmlquery.FindOne(doc, "//title"); n != nil {
			title = strings.TrimSpace(htmlquery.InnerText(n))
		}
	}
	s.logger.Debug("Session state updated", zap.String("url", u.String()), zap.String("title", title))

	s.publish(schemas.ContentEvent{
		FormContent: doc != nil && hasFormContent(doc),
		Added:       countElements(doc),
		At:          time.Now(),
	})
}

func (s *Session) resolveURL(target string) (*url.URL, error) {
	s.mu.RLock()
	base := s.currentURL
	s.mu.RUnlock()

	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if base == nil {
		if !u.IsAbs() {
			return nil, fmt.Errorf("relative URL '%s' without a current page", target)
		}
		return u, nil
	}
	return base.ResolveReference(u), nil
}

// submitForm serializes form and sends it as a browser would.
func (s *Session) submitForm(ctx context.Context, form, submitter *html.Node) error {
	action := htmlquery.SelectAttr(form, "action")
	method := strings.ToUpper(htmlquery.SelectAttr(form, "method"))
	if method != http.MethodPost {
		method = http.MethodGet
	}
	target, err := s.resolveURL(action)
	if err != nil {
		return fmt.Errorf("failed to determine form submission URL: %w", err)
	}

	s.mu.RLock()
	data, files := serializeForm(form, submitter, s.files)
	multipartEnc := strings.EqualFold(htmlquery.SelectAttr(form, "enctype"), "multipart/form-data")
	referer := ""
	if s.currentURL != nil {
		referer = s.currentURL.String()
	}
	s.mu.RUnlock()

	var req *http.Request
	switch {
	case method == http.MethodPost && multipartEnc:
		body, contentType, err := encodeMultipart(data, files)
		if err != nil {
			return err
		}
		if req, err = http.NewRequestWithContext(ctx, method, target.String(), body); err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
	case method == http.MethodPost:
		if req, err = http.NewRequestWithContext(ctx, method, target.String(), strings.NewReader(data.Encode())); err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		u := *target
		if u.RawQuery == "" {
			u.RawQuery = data.Encode()
		} else {
			u.RawQuery += "&" + data.Encode()
		}
		if req, err = http.NewRequestWithContext(ctx, method, u.String(), nil); err != nil {
			return err
		}
	}
	req.Header.Set("Referer", referer)

	s.logger.Debug("Submitting form", zap.String("method", method), zap.String("url", target.String()))
	return s.executeRequest(ctx, req)
}

type formFile struct {
	field string
	file  assets.File
}

// serializeForm collects the successful controls of form.
func serializeForm(form, submitter *html.Node, attached map[string]assets.File) (url.Values, []formFile) {
	data := url.Values{}
	var files []formFile

	for _, input := range htmlquery.Find(form, ".//input | .//textarea | .//select") {
		name := htmlquery.SelectAttr(input, "name")
		if name == "" || hasAttr(input, "disabled") {
			continue
		}
		tag := strings.ToLower(input.Data)
		inputType := strings.ToLower(htmlquery.SelectAttr(input, "type"))

		switch tag {
		case "input":
			switch inputType {
			case "checkbox", "radio":
				if hasAttr(input, "checked") {
					value := htmlquery.SelectAttr(input, "value")
					if value == "" {
						value = "on"
					}
					data.Add(name, value)
				}
			case "file":
				if f, ok := attached[xpathOf(input)]; ok {
					files = append(files, formFile{field: name, file: f})
				}
			case "submit", "button", "image", "reset":
				if input == submitter {
					data.Add(name, htmlquery.SelectAttr(input, "value"))
				}
			default:
				data.Add(name, htmlquery.SelectAttr(input, "value"))
			}
		case "textarea":
			data.Add(name, htmlquery.InnerText(input))
		case "select":
			selected := htmlquery.Find(input, ".//option[@selected]")
			if len(selected) == 0 && !hasAttr(input, "multiple") {
				if first := htmlquery.FindOne(input, ".//option"); first != nil {
					selected = append(selected, first)
				}
			}
			for _, opt := range selected {
				data.Add(name, optionValue(opt))
			}
		}
	}
	if submitter != nil && strings.EqualFold(submitter.Data, "button") {
		if name := htmlquery.SelectAttr(submitter, "name"); name != "" {
			data.Add(name, htmlquery.SelectAttr(submitter, "value"))
		}
	}
	return data, files
}

func encodeMultipart(data url.Values, files []formFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, values := range data {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, "", err
			}
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.file.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.file.Content); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// -- Content subscriptions --

// Watch streams an event for every document load until ctx is done.
func (s *Session) Watch(ctx context.Context) (<-chan schemas.ContentEvent, error) {
	in := make(chan schemas.ContentEvent, 8)
	out := make(chan schemas.ContentEvent)

	s.subMu.Lock()
	s.subscribers[in] = struct{}{}
	s.subMu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			s.subMu.Lock()
			delete(s.subscribers, in)
			s.subMu.Unlock()
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
	return out, nil
}

func (s *Session) publish(ev schemas.ContentEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("Dropping content event for slow subscriber.")
		}
	}
}
