package autofill

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// Input types that never carry user data.
var excludedInputTypes = map[string]bool{
	"hidden": true,
	"submit": true,
	"button": true,
	"reset":  true,
	"image":  true,
}

type classifier struct {
	match       func(schemas.RawControl) bool
	controlType schemas.ControlType
}

// classifiers map raw controls to control types. Order matters.
var classifiers = []classifier{
	{func(c schemas.RawControl) bool { return c.Tag == "select" }, schemas.ControlSelect},
	{func(c schemas.RawControl) bool {
		return c.Tag == "mat-select" || c.Role == "combobox" || c.Role == "listbox"
	}, schemas.ControlCustomDropdown},
	{func(c schemas.RawControl) bool { return c.Tag == "textarea" }, schemas.ControlTextarea},
	{func(c schemas.RawControl) bool { return c.Type == "checkbox" || c.Role == "checkbox" }, schemas.ControlCheckbox},
	{func(c schemas.RawControl) bool { return c.Type == "radio" || c.Role == "radio" }, schemas.ControlRadio},
	{func(c schemas.RawControl) bool { return c.Type == "file" }, schemas.ControlFile},
	{func(c schemas.RawControl) bool {
		return c.Type == "date" || c.Type == "month" || c.Type == "datetime-local"
	}, schemas.ControlDate},
}

// Classify returns the control type of a raw control.
func Classify(c schemas.RawControl) schemas.ControlType {
	for _, cl := range classifiers {
		if cl.match(c) {
			return cl.controlType
		}
	}
	return schemas.ControlText
}

// fillable reports whether the control should be offered to the driver.
func fillable(c schemas.RawControl) bool {
	if c.Tag == "input" && excludedInputTypes[strings.ToLower(c.Type)] {
		return false
	}
	// A role widget around a native input is filled through the input.
	if c.Tag != "input" && (c.Role == "checkbox" || c.Role == "radio") && c.WrapsInput {
		return false
	}
	if !c.Visible || c.Disabled || c.ReadOnly {
		return false
	}
	return c.AriaDisabled != "true" && c.AriaReadOnly != "true"
}

// Describe converts a raw control into a field descriptor.
func Describe(c schemas.RawControl) schemas.FieldDescriptor {
	t := Classify(c)
	f := schemas.FieldDescriptor{
		Identifier:   c.ID,
		Name:         c.Name,
		ControlType:  t,
		Label:        ResolveLabel(c),
		CurrentValue: c.Value,
		Placeholder:  c.Placeholder,
		Options:      c.Options,
		Handle:       c.Handle,
		InputType:    strings.ToLower(c.Type),
		Value:        c.Value,
		Checked:      c.Checked,
		HasFile:      c.HasFile,
	}
	if f.Identifier == "" {
		f.Identifier = c.Name
		// Toggles sharing a name still need distinct identities.
		if t.IsBoolean() && c.Name != "" {
			f.Identifier = c.Name + ":" + choiceSuffix(c, f.Label)
		}
	}
	if f.Name == "" {
		f.Name = c.FormControl
	}
	if t.IsBoolean() {
		// The value attribute of a toggle is not user input.
		f.CurrentValue = ""
	}
	if t == schemas.ControlRadio {
		f.Group = c.Name
	}
	return f
}

func choiceSuffix(c schemas.RawControl, label string) string {
	if c.Value != "" && c.Value != "on" {
		return c.Value
	}
	return label
}

// Extractor enumerates fillable fields on the current step.
type Extractor struct {
	page   Page
	scopes []string
	logger *zap.Logger
}

// NewExtractor creates an extractor that prefers the given dialog scopes.
func NewExtractor(page Page, dialogScopes []string, logger *zap.Logger) *Extractor {
	return &Extractor{page: page, scopes: dialogScopes, logger: logger.Named("extractor")}
}

// Extract returns fillable fields in document order together with the scope
// they were found in. Dialog scopes are tried first; the first non-empty one
// wins over the whole document. ErrNoFormFound is returned for an empty step.
func (e *Extractor) Extract(ctx context.Context) ([]schemas.FieldDescriptor, string, error) {
	for _, scope := range e.scopes {
		fields, err := e.ExtractScope(ctx, scope)
		if err != nil {
			e.logger.Debug("Dialog scope extraction failed.", zap.String("scope", scope), zap.Error(err))
			continue
		}
		if len(fields) > 0 {
			return fields, scope, nil
		}
	}

	fields, err := e.ExtractScope(ctx, "")
	if err != nil {
		return nil, "", err
	}
	if len(fields) == 0 {
		return nil, "", ErrNoFormFound
	}
	return fields, "", nil
}

// ExtractScope returns the fillable fields inside one scope.
func (e *Extractor) ExtractScope(ctx context.Context, scope string) ([]schemas.FieldDescriptor, error) {
	raw, err := e.page.Controls(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list controls in scope %q: %w", scope, err)
	}
	fields := make([]schemas.FieldDescriptor, 0, len(raw))
	for _, c := range raw {
		if fillable(c) {
			fields = append(fields, Describe(c))
		}
	}
	return fields, nil
}
