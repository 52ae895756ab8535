package autofill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/assets"
)

// fakePage is an in-memory Page. Every mutating primitive is recorded in
// calls as "Op handle [arg]" so tests can assert on the interaction trace.
type fakePage struct {
	mu sync.Mutex

	url         string
	body        string
	controls    []schemas.RawControl
	scoped      map[string][]schemas.RawControl
	errors      []string
	candidates  []schemas.ProceedCandidate
	formContent bool

	values  map[string]string
	checked map[string]bool
	calls   []string

	// labelClickIgnored makes ClickLabel a no-op, as for a styled box whose
	// label swallows the click.
	labelClickIgnored bool
	chooseOption      bool
	inPageFails       bool
	failOn            map[string]error

	// onActivate runs when the proceed control is activated.
	onActivate func(p *fakePage)
	// onSet runs after a value write, with the lock held.
	onSet func(p *fakePage, handle string)

	events      chan schemas.ContentEvent
	watchCalls  int
	watchClosed chan struct{}
}

func newFakePage() *fakePage {
	return &fakePage{
		url:          "https://forms.example.com/apply",
		body:         "Application step one",
		scoped:       make(map[string][]schemas.RawControl),
		values:       make(map[string]string),
		checked:      make(map[string]bool),
		failOn:       make(map[string]error),
		chooseOption: true,
		formContent:  true,
		candidates: []schemas.ProceedCandidate{
			{Handle: "next", Text: "Next", Tag: "button"},
		},
	}
}

func (p *fakePage) record(op, handle string, args ...string) error {
	parts := []string{op}
	for _, s := range append([]string{handle}, args...) {
		if s != "" {
			parts = append(parts, s)
		}
	}
	p.calls = append(p.calls, strings.Join(parts, " "))
	if err, ok := p.failOn[op+" "+handle]; ok {
		return err
	}
	return nil
}

// Calls returns a copy of the recorded trace.
func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) countCalls(prefix string) int {
	n := 0
	for _, c := range p.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Controls(ctx context.Context, scope string) ([]schemas.RawControl, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src := p.controls
	if scope != "" {
		src = p.scoped[scope]
	}
	out := make([]schemas.RawControl, len(src))
	for i, c := range src {
		if v, ok := p.values[c.Handle]; ok {
			c.Value = v
		}
		c.Checked = p.checked[c.Handle]
		out[i] = c
	}
	return out, nil
}

func (p *fakePage) BodyText(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body + " " + strings.Join(p.errors, " "), nil
}

func (p *fakePage) HasFormContent(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.formContent, nil
}

func (p *fakePage) ValidationErrors(ctx context.Context, selectors []string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.errors...), nil
}

func (p *fakePage) ProceedCandidates(ctx context.Context) ([]schemas.ProceedCandidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.ProceedCandidate(nil), p.candidates...), nil
}

func (p *fakePage) SetValue(ctx context.Context, handle, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("SetValue", handle, value); err != nil {
		return err
	}
	p.values[handle] = value
	if p.onSet != nil {
		p.onSet(p, handle)
	}
	return nil
}

func (p *fakePage) Dispatch(ctx context.Context, handle, event string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("Dispatch", handle, event)
}

func (p *fakePage) Click(ctx context.Context, handle string) error {
	p.mu.Lock()
	if err := p.record("Click", handle); err != nil {
		p.mu.Unlock()
		return err
	}
	activate := p.isCandidate(handle)
	p.mu.Unlock()
	if activate {
		p.activate()
	}
	return nil
}

func (p *fakePage) ClickLabel(ctx context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ClickLabel", handle); err != nil {
		return err
	}
	if p.labelClickIgnored {
		return nil
	}
	for _, c := range p.controls {
		if c.Handle == handle && c.Type == "radio" {
			for _, sib := range p.controls {
				if sib.Type == "radio" && sib.Name == c.Name {
					p.checked[sib.Handle] = false
				}
			}
		}
	}
	p.checked[handle] = true
	return nil
}

func (p *fakePage) IsChecked(ctx context.Context, handle string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checked[handle], nil
}

func (p *fakePage) ForceCheck(ctx context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ForceCheck", handle); err != nil {
		return err
	}
	p.checked[handle] = true
	return nil
}

func (p *fakePage) PressKey(ctx context.Context, handle, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("PressKey", handle, key)
}

func (p *fakePage) ChooseOption(ctx context.Context, value string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ChooseOption", "", value); err != nil {
		return false, err
	}
	return p.chooseOption, nil
}

func (p *fakePage) SelectOption(ctx context.Context, handle, value string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("SelectOption", handle, value); err != nil {
		return "", err
	}
	for _, c := range p.controls {
		if c.Handle != handle {
			continue
		}
		for _, o := range c.Options {
			if strings.EqualFold(o, value) {
				p.values[handle] = o
				return o, nil
			}
		}
		if len(c.Options) > 0 {
			p.values[handle] = c.Options[0]
			return c.Options[0], nil
		}
	}
	return "", errors.New("no options")
}

func (p *fakePage) AttachFile(ctx context.Context, handle string, file assets.File) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("AttachFile", handle, file.Name)
}

func (p *fakePage) ActivateInPage(ctx context.Context, handle string) (bool, error) {
	p.mu.Lock()
	if err := p.record("ActivateInPage", handle); err != nil {
		p.mu.Unlock()
		return false, err
	}
	fails := p.inPageFails
	p.mu.Unlock()
	if fails {
		return false, nil
	}
	p.activate()
	return true, nil
}

func (p *fakePage) isCandidate(handle string) bool {
	for _, c := range p.candidates {
		if c.Handle == handle {
			return true
		}
	}
	return false
}

func (p *fakePage) activate() {
	p.mu.Lock()
	fn := p.onActivate
	p.mu.Unlock()
	if fn != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		fn(p)
	}
}

func (p *fakePage) Watch(ctx context.Context) (<-chan schemas.ContentEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchCalls++
	src := p.events
	out := make(chan schemas.ContentEvent)
	closed := make(chan struct{})
	p.watchClosed = closed
	go func() {
		defer close(closed)
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-src:
				if !ok {
					<-ctx.Done()
					return
				}
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

// fakeSource returns fixed mappings and counts requests.
type fakeSource struct {
	mu               sync.Mutex
	values           schemas.ValueMapping
	corrections      schemas.ValueMapping
	valueCalls       int
	correctionCalls  int
	lastValueFields  []schemas.FieldDescriptor
	lastCorrectionEr []string
}

func (s *fakeSource) Values(ctx context.Context, fields []schemas.FieldDescriptor) schemas.ValueMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valueCalls++
	s.lastValueFields = fields
	return s.values
}

func (s *fakeSource) Corrections(ctx context.Context, fields []schemas.FieldDescriptor, errs []string) schemas.ValueMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correctionCalls++
	s.lastCorrectionEr = errs
	return s.corrections
}

func textControl(handle, id, label string) schemas.RawControl {
	return schemas.RawControl{Handle: handle, Tag: "input", Type: "text", ID: id, ForLabel: label, Visible: true}
}

func radioControl(handle, name, value, label string) schemas.RawControl {
	return schemas.RawControl{Handle: handle, Tag: "input", Type: "radio", Name: name, Value: value, WrapLabel: label, Visible: true}
}

func mapping(pairs ...string) schemas.ValueMapping {
	if len(pairs)%2 != 0 {
		panic(fmt.Sprintf("odd pair count %d", len(pairs)))
	}
	var m schemas.ValueMapping
	for i := 0; i < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	return m
}
