package schemas

import (
	"bytes"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// -- Form Field Schemas --

// ControlType is the normalized kind of a fillable control.
type ControlType string

const (
	ControlText           ControlType = "text"
	ControlTextarea       ControlType = "textarea"
	ControlSelect         ControlType = "select"
	ControlCheckbox       ControlType = "checkbox"
	ControlRadio          ControlType = "radio"
	ControlFile           ControlType = "file"
	ControlCustomDropdown ControlType = "custom-dropdown"
	ControlDate           ControlType = "date"
)

// IsBoolean reports whether the control is toggled rather than typed into.
func (c ControlType) IsBoolean() bool {
	return c == ControlCheckbox || c == ControlRadio
}

// UnknownFieldLabel is the label used when no other source yields text.
const UnknownFieldLabel = "Unknown Field"

// FieldDescriptor describes one fillable control on the current step.
// The JSON form is what the value generator receives.
type FieldDescriptor struct {
	Identifier   string      `json:"id"`
	Name         string      `json:"name"`
	ControlType  ControlType `json:"type"`
	Label        string      `json:"label"`
	CurrentValue string      `json:"currentValue"`
	Placeholder  string      `json:"placeholder"`
	Options      []string    `json:"options,omitempty"`

	// Engine-only attributes.
	Handle    string `json:"-"`
	InputType string `json:"-"`
	Group     string `json:"-"`
	Value     string `json:"-"` // radio/checkbox "value" attribute
	Checked   bool   `json:"-"`
	HasFile   bool   `json:"-"`
}

// Key returns the identity used to remember a field within a step.
func (f FieldDescriptor) Key() string {
	switch {
	case f.Identifier != "":
		return f.Identifier
	case f.Name != "":
		return f.Name
	default:
		return f.Label
	}
}

// GroupKey returns the key shared by every member of a radio group.
func (f FieldDescriptor) GroupKey() string {
	if f.Group != "" {
		return "group:" + f.Group
	}
	return f.Key()
}

// RawControl is the attribute snapshot a Page reports for one candidate
// control. Classification and label resolution happen engine side.
type RawControl struct {
	Handle         string   `json:"handle"`
	Tag            string   `json:"tag"`
	Type           string   `json:"type"`
	Role           string   `json:"role"`
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	FormControl    string   `json:"formControlName"`
	Value          string   `json:"value"`
	Placeholder    string   `json:"placeholder"`
	AriaLabel      string   `json:"ariaLabel"`
	ForLabel       string   `json:"forLabel"`
	WrapLabel      string   `json:"wrapLabel"`
	FrameworkLabel string   `json:"frameworkLabel"`
	ChoiceText     string   `json:"choiceText"`
	Options        []string `json:"options"`
	Visible        bool     `json:"visible"`
	Disabled       bool     `json:"disabled"`
	ReadOnly       bool     `json:"readOnly"`
	AriaDisabled   string   `json:"ariaDisabled"`
	AriaReadOnly   string   `json:"ariaReadOnly"`
	Checked        bool     `json:"checked"`
	HasFile        bool     `json:"hasFile"`
	WrapsInput     bool     `json:"wrapsInput"`
}

// ProceedCandidate is an interactive element that may advance the flow.
type ProceedCandidate struct {
	Handle string `json:"handle"`
	Text   string `json:"text"`
	Tag    string `json:"tag"`
}

// ContentEvent reports a subtree added to the document.
type ContentEvent struct {
	FormContent bool      `json:"formContent"`
	Added       int       `json:"added"`
	At          time.Time `json:"at"`
}

// -- Value Mapping --

// ValueEntry is one key/value pair of a ValueMapping.
type ValueEntry struct {
	Key   string
	Value string
}

// ValueMapping is an ordered key to value mapping. Insertion order is
// significant: substring matching scans keys in this order.
type ValueMapping struct {
	entries []ValueEntry
	index   map[string]int
}

// NewValueMapping builds a mapping from ordered pairs. Later duplicates are dropped.
func NewValueMapping(pairs ...ValueEntry) ValueMapping {
	var m ValueMapping
	for _, p := range pairs {
		m.Set(p.Key, p.Value)
	}
	return m
}

// Set appends key with value. An existing key keeps its first value and position.
func (m *ValueMapping) Set(key, value string) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if _, ok := m.index[key]; ok {
		return
	}
	m.index[key] = len(m.entries)
	m.entries = append(m.entries, ValueEntry{Key: key, Value: value})
}

// Get returns the value for key.
func (m ValueMapping) Get(key string) (string, bool) {
	i, ok := m.index[key]
	if !ok {
		return "", false
	}
	return m.entries[i].Value, true
}

// Entries returns the pairs in insertion order.
func (m ValueMapping) Entries() []ValueEntry {
	out := make([]ValueEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of keys.
func (m ValueMapping) Len() int { return len(m.entries) }

// MarshalJSON writes the mapping as an object in insertion order.
func (m ValueMapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	stream := jsoniter.ConfigCompatibleWithStandardLibrary.BorrowStream(&buf)
	defer jsoniter.ConfigCompatibleWithStandardLibrary.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, e := range m.entries {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(e.Key)
		stream.WriteString(e.Value)
	}
	stream.WriteObjectEnd()
	if err := stream.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keeping document order. Non-string scalars
// are stored in their JSON text form.
func (m *ValueMapping) UnmarshalJSON(data []byte) error {
	*m = ValueMapping{}
	iter := jsoniter.ConfigCompatibleWithStandardLibrary.BorrowIterator(data)
	defer jsoniter.ConfigCompatibleWithStandardLibrary.ReturnIterator(iter)

	iter.ReadMapCB(func(it *jsoniter.Iterator, key string) bool {
		m.Set(key, ScalarString(it))
		return true
	})
	return iter.Error
}

// ScalarString reads the next value and renders it as a fill string.
// Strings are returned verbatim, booleans and numbers as their literal text,
// null as empty, and composite values as compact JSON.
func ScalarString(it *jsoniter.Iterator) string {
	switch it.WhatIsNext() {
	case jsoniter.StringValue:
		return it.ReadString()
	case jsoniter.BoolValue:
		if it.ReadBool() {
			return "true"
		}
		return "false"
	case jsoniter.NumberValue:
		return it.ReadNumber().String()
	case jsoniter.NilValue:
		it.ReadNil()
		return ""
	default:
		return string(it.SkipAndReturnBytes())
	}
}

// -- Value Source Wire Types --

// FillRequest asks for values for a set of fields.
type FillRequest struct {
	Fields []FieldDescriptor `json:"fields"`
}

// CorrectionRequest asks for corrected values given visible validation errors.
type CorrectionRequest struct {
	Fields []FieldDescriptor `json:"fields"`
	Errors []string          `json:"errors"`
}

// FillResponse is the answer to either request. Status is always "success".
type FillResponse struct {
	Status   string       `json:"status"`
	FillData ValueMapping `json:"fillData"`
}

// StatusSuccess is the only status a value response carries.
const StatusSuccess = "success"
