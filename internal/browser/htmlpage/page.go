package htmlpage

import (
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/assets"
	"github.com/xkilldash9x/formpilot/internal/autofill"
)

var _ autofill.Page = (*Session)(nil)

// -- Reads --

// URL returns the address of the current document.
func (s *Session) URL(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentURL == nil {
		return "", nil
	}
	return s.currentURL.String(), nil
}

// Controls snapshots the candidate controls under scope.
func (s *Session) Controls(ctx context.Context, scope string) ([]schemas.RawControl, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, nil
	}

	container := s.doc
	if scope != "" {
		matches, err := queryAll(s.doc, scope)
		if err != nil {
			return nil, err
		}
		container = nil
		for _, m := range matches {
			if visible(m) {
				container = m
				break
			}
		}
		if container == nil {
			return nil, nil
		}
	}

	nodes, err := queryAll(container, controlSelector)
	if err != nil {
		return nil, err
	}
	controls := make([]schemas.RawControl, 0, len(nodes))
	for _, n := range nodes {
		controls = append(controls, s.describe(n))
	}
	return controls, nil
}

func (s *Session) describe(n *html.Node) schemas.RawControl {
	tag := tagOf(n)
	c := schemas.RawControl{
		Handle:       xpathOf(n),
		Tag:          tag,
		Role:         strings.ToLower(htmlquery.SelectAttr(n, "role")),
		ID:           htmlquery.SelectAttr(n, "id"),
		Name:         htmlquery.SelectAttr(n, "name"),
		FormControl:  htmlquery.SelectAttr(n, "formcontrolname"),
		Placeholder:  htmlquery.SelectAttr(n, "placeholder"),
		AriaLabel:    s.ariaLabel(n),
		Visible:      visible(n),
		Disabled:     hasAttr(n, "disabled") || inDisabledFieldset(n),
		ReadOnly:     hasAttr(n, "readonly"),
		AriaDisabled: htmlquery.SelectAttr(n, "aria-disabled"),
		AriaReadOnly: htmlquery.SelectAttr(n, "aria-readonly"),
		WrapLabel:    textOf(findAncestor(n, "label")),
	}
	if tag == "input" {
		c.Type = inputType(n)
	}
	if c.ID != "" && !strings.Contains(c.ID, "'") {
		if label := htmlquery.FindOne(s.doc, fmt.Sprintf("//label[@for='%s']", c.ID)); label != nil {
			c.ForLabel = textOf(label)
		}
	}
	if field := findAncestor(n, "mat-form-field"); field != nil {
		if labels := mustQueryAll(field, "mat-label, .mdc-floating-label, .mat-mdc-floating-label"); len(labels) > 0 {
			c.FrameworkLabel = textOf(labels[0])
		}
	}

	toggle := c.Type == "checkbox" || c.Type == "radio" || c.Role == "checkbox" || c.Role == "radio"
	switch {
	case tag == "select":
		for _, opt := range htmlquery.Find(n, ".//option") {
			c.Options = append(c.Options, optionLabel(opt))
			if hasAttr(opt, "selected") {
				c.Value = optionLabel(opt)
			}
		}
	case tag == "textarea":
		c.Value = htmlquery.InnerText(n)
	case tag == "input" && toggle:
		c.Value = htmlquery.SelectAttr(n, "value")
		c.Checked = hasAttr(n, "checked")
	case tag == "input":
		c.Value = htmlquery.SelectAttr(n, "value")
		_, c.HasFile = s.files[c.Handle]
	case toggle:
		c.Checked = htmlquery.SelectAttr(n, "aria-checked") == "true"
		c.WrapsInput = htmlquery.FindOne(n, ".//input") != nil
		c.ChoiceText = textOf(n)
	default:
		for _, opt := range s.overlayOptions(n) {
			c.Options = append(c.Options, textOf(opt))
			if htmlquery.SelectAttr(opt, "aria-selected") == "true" {
				c.Value = textOf(opt)
			}
		}
	}
	if toggle && c.ChoiceText == "" {
		if wrapper := findAncestor(n, "mat-checkbox", "mat-radio-button"); wrapper != nil {
			c.ChoiceText = textOf(wrapper)
		}
	}
	return c
}

func (s *Session) ariaLabel(n *html.Node) string {
	if label := strings.TrimSpace(htmlquery.SelectAttr(n, "aria-label")); label != "" {
		return label
	}
	var parts []string
	for _, id := range strings.Fields(htmlquery.SelectAttr(n, "aria-labelledby")) {
		if ref := byID(s.doc, id); ref != nil {
			parts = append(parts, textOf(ref))
		}
	}
	return strings.Join(parts, " ")
}

// overlayOptions returns the options owned by a custom dropdown, either
// nested or referenced through aria-controls / aria-owns.
func (s *Session) overlayOptions(n *html.Node) []*html.Node {
	opts := mustQueryAll(n, optionSelector)
	for _, attr := range []string{"aria-controls", "aria-owns"} {
		for _, id := range strings.Fields(htmlquery.SelectAttr(n, attr)) {
			if list := byID(s.doc, id); list != nil {
				opts = append(opts, mustQueryAll(list, optionSelector)...)
			}
		}
	}
	return opts
}

func inDisabledFieldset(n *html.Node) bool {
	for p := findAncestor(n, "fieldset"); p != nil; p = findAncestor(p, "fieldset") {
		if hasAttr(p, "disabled") {
			return true
		}
	}
	return false
}

// BodyText returns the rendered text of the document body.
func (s *Session) BodyText(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return "", nil
	}
	if body := htmlquery.FindOne(s.doc, "//body"); body != nil {
		return textOf(body), nil
	}
	return textOf(s.doc), nil
}

// HasFormContent reports whether any candidate control is rendered.
func (s *Session) HasFormContent(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc != nil && hasFormContent(s.doc), nil
}

// ValidationErrors returns the text of visible elements matching any of
// selectors, in document order. Invalid selectors are skipped.
func (s *Session) ValidationErrors(ctx context.Context, selectors []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, nil
	}
	matched := make(map[*html.Node]bool)
	for _, sel := range selectors {
		nodes, err := queryAll(s.doc, sel)
		if err != nil {
			s.logger.Debug("Skipping error selector.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		for _, n := range nodes {
			matched[n] = true
		}
	}

	var out []string
	walk(s.doc, func(n *html.Node) bool {
		if matched[n] && visible(n) {
			if text := textOf(n); text != "" {
				out = append(out, text)
			}
		}
		return true
	})
	return out, nil
}

// ProceedCandidates lists enabled, visible interactive elements in document order.
func (s *Session) ProceedCandidates(ctx context.Context) ([]schemas.ProceedCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, nil
	}
	var out []schemas.ProceedCandidate
	for _, n := range mustQueryAll(s.doc, proceedSelector) {
		if !visible(n) || hasAttr(n, "disabled") {
			continue
		}
		text := textOf(n)
		if tagOf(n) == "input" {
			text = htmlquery.SelectAttr(n, "value")
			if text == "" && inputType(n) == "submit" {
				text = "Submit"
			}
		}
		if text == "" {
			text = htmlquery.SelectAttr(n, "aria-label")
		}
		out = append(out, schemas.ProceedCandidate{Handle: xpathOf(n), Text: text, Tag: tagOf(n)})
	}
	return out, nil
}

// -- Actions --

func (s *Session) lookup(ctx context.Context, handle string) (*html.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.doc == nil {
		return nil, fmt.Errorf("document is empty, cannot find element '%s'", handle)
	}
	n, err := htmlquery.Query(s.doc, handle)
	if err != nil {
		return nil, fmt.Errorf("invalid handle '%s': %w", handle, err)
	}
	if n == nil {
		return nil, fmt.Errorf("element not found for handle '%s'", handle)
	}
	return n, nil
}

// SetValue writes the value attribute, or the text of a textarea.
func (s *Session) SetValue(ctx context.Context, handle, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.lookup(ctx, handle)
	if err != nil {
		return err
	}
	switch tagOf(n) {
	case "textarea":
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	case "input":
		setAttr(n, "value", value)
	default:
		return fmt.Errorf("element '%s' is not a text control", handle)
	}
	return nil
}

// Dispatch only checks the target exists: there are no listeners to run.
func (s *Session) Dispatch(ctx context.Context, handle, event string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.lookup(ctx, handle)
	return err
}

// Click applies the default action of the element.
func (s *Session) Click(ctx context.Context, handle string) error {
	s.mu.Lock()
	n, err := s.lookup(ctx, handle)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if tagOf(n) == "label" {
		if target := s.labelTarget(n); target != nil {
			n = target
		}
	}
	follow := s.clickConsequence(n)
	s.mu.Unlock()

	if follow != nil {
		return follow(ctx)
	}
	return nil
}

// clickConsequence mutates DOM state for toggles and returns the network
// follow-up for links and submitters. Caller holds s.mu.
func (s *Session) clickConsequence(n *html.Node) func(context.Context) error {
	tag := tagOf(n)
	typ := strings.ToLower(htmlquery.SelectAttr(n, "type"))

	if tag == "a" {
		href := strings.TrimSpace(htmlquery.SelectAttr(n, "href"))
		if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return func(ctx context.Context) error { return s.Navigate(ctx, href) }
		}
	}

	isSubmit := (tag == "button" && (typ == "submit" || typ == "")) ||
		(tag == "input" && (typ == "submit" || typ == "image"))
	if isSubmit {
		if form := findParentForm(n); form != nil {
			return func(ctx context.Context) error { return s.submitForm(ctx, form, n) }
		}
	}

	switch {
	case tag == "input" && typ == "checkbox":
		if hasAttr(n, "checked") {
			removeAttr(n, "checked")
		} else {
			setAttr(n, "checked", "checked")
		}
	case tag == "input" && typ == "radio":
		selectRadio(n)
	case strings.EqualFold(htmlquery.SelectAttr(n, "role"), "checkbox"):
		if htmlquery.SelectAttr(n, "aria-checked") == "true" {
			setAttr(n, "aria-checked", "false")
		} else {
			setAttr(n, "aria-checked", "true")
		}
	case strings.EqualFold(htmlquery.SelectAttr(n, "role"), "radio"):
		setAttr(n, "aria-checked", "true")
	default:
		s.logger.Debug("Click has no default action.", zap.String("tag", tag))
	}
	return nil
}

// selectRadio checks n and clears the rest of its group.
func selectRadio(n *html.Node) {
	name := htmlquery.SelectAttr(n, "name")
	if name == "" || strings.Contains(name, "'") {
		setAttr(n, "checked", "checked")
		return
	}
	scope := findParentForm(n)
	if scope == nil {
		scope = root(n)
	}
	for _, radio := range htmlquery.Find(scope, fmt.Sprintf(".//input[@type='radio' and @name='%s']", name)) {
		if radio == n {
			setAttr(radio, "checked", "checked")
		} else {
			removeAttr(radio, "checked")
		}
	}
}

// labelTarget returns the control a label activates.
func (s *Session) labelTarget(label *html.Node) *html.Node {
	if id := htmlquery.SelectAttr(label, "for"); id != "" {
		return byID(s.doc, id)
	}
	return htmlquery.FindOne(label, ".//input | .//select | .//textarea")
}

// ClickLabel activates a toggle the way clicking its label would.
func (s *Session) ClickLabel(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.lookup(ctx, handle)
	if err != nil {
		return err
	}
	s.clickConsequence(n)
	return nil
}

// IsChecked reads the checked state of a native or role-based toggle.
func (s *Session) IsChecked(ctx context.Context, handle string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.lookup(ctx, handle)
	if err != nil {
		return false, err
	}
	if tagOf(n) == "input" {
		return hasAttr(n, "checked"), nil
	}
	return htmlquery.SelectAttr(n, "aria-checked") == "true", nil
}

// ForceCheck sets the checked state directly.
func (s *Session) ForceCheck(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.lookup(ctx, handle)
	if err != nil {
		return err
	}
	switch {
	case tagOf(n) == "input" && inputType(n) == "radio":
		selectRadio(n)
	case tagOf(n) == "input":
		setAttr(n, "checked", "checked")
	default:
		setAttr(n, "aria-checked", "true")
	}
	return nil
}

// PressKey supports ArrowDown on native selects; other keys have no effect.
func (s *Session) PressKey(ctx context.Context, handle, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.lookup(ctx, handle)
	if err != nil {
		return err
	}
	if key != "ArrowDown" || tagOf(n) != "select" {
		return nil
	}
	options := htmlquery.Find(n, ".//option")
	current := 0
	for i, opt := range options {
		if hasAttr(opt, "selected") {
			current = i
		}
	}
	if current+1 < len(options) {
		selectOptionNode(n, options[current+1])
	}
	return nil
}

// ChooseOption selects the visible overlay option whose text matches value,
// else the first one.
func (s *Session) ChooseOption(ctx context.Context, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return false, nil
	}
	var options []*html.Node
	for _, opt := range mustQueryAll(s.doc, optionSelector) {
		if visible(opt) {
			options = append(options, opt)
		}
	}
	if len(options) == 0 {
		return false, nil
	}
	chosen := bestOption(options, value, textOf, textOf)
	if chosen == nil {
		chosen = options[0]
	}
	for _, opt := range options {
		if opt.Parent == chosen.Parent {
			removeAttr(opt, "aria-selected")
		}
	}
	setAttr(chosen, "aria-selected", "true")
	return true, nil
}

// SelectOption picks the option of a native select best matching value, or
// the first non-placeholder option.
func (s *Session) SelectOption(ctx context.Context, handle, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.lookup(ctx, handle)
	if err != nil {
		return "", err
	}
	if tagOf(n) != "select" {
		return "", fmt.Errorf("element '%s' is not a select element", handle)
	}
	var options []*html.Node
	for _, opt := range htmlquery.Find(n, ".//option") {
		if !hasAttr(opt, "disabled") {
			options = append(options, opt)
		}
	}
	chosen := bestOption(options, value, optionLabel, optionValue)
	if chosen == nil {
		for _, opt := range options {
			if strings.TrimSpace(optionValue(opt)) != "" {
				chosen = opt
				break
			}
		}
	}
	if chosen == nil {
		return "", fmt.Errorf("select '%s' has no selectable option", handle)
	}
	selectOptionNode(n, chosen)
	return optionLabel(chosen), nil
}

// bestOption returns the first exact (case-insensitive) label or value
// match, else the first label containing value.
func bestOption(options []*html.Node, value string, label, val func(*html.Node) string) *html.Node {
	want := strings.ToLower(strings.TrimSpace(value))
	if want == "" {
		return nil
	}
	for _, opt := range options {
		if strings.ToLower(label(opt)) == want || strings.ToLower(val(opt)) == want {
			return opt
		}
	}
	for _, opt := range options {
		if l := strings.ToLower(label(opt)); l != "" && strings.Contains(l, want) {
			return opt
		}
	}
	return nil
}

func selectOptionNode(sel, chosen *html.Node) {
	for _, opt := range htmlquery.Find(sel, ".//option") {
		if opt == chosen {
			setAttr(opt, "selected", "selected")
		} else if !hasAttr(sel, "multiple") {
			removeAttr(opt, "selected")
		}
	}
}

// AttachFile stages file for the next submission of the owning form.
func (s *Session) AttachFile(ctx context.Context, handle string, file assets.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.lookup(ctx, handle)
	if err != nil {
		return err
	}
	if tagOf(n) != "input" || inputType(n) != "file" {
		return fmt.Errorf("element '%s' is not a file input", handle)
	}
	s.files[handle] = file
	return nil
}

// ActivateInPage always reports false: there is no script context, so the
// caller falls back to Click.
func (s *Session) ActivateInPage(ctx context.Context, handle string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.lookup(ctx, handle); err != nil {
		return false, err
	}
	return false, nil
}
