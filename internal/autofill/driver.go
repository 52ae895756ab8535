package autofill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/assets"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

// Skip reasons reported in field outcomes.
const (
	reasonAlreadyInteracted = "already interacted"
	reasonAlreadyUploaded   = "already uploaded"
	reasonHasFile           = "already holds a file"
	reasonGroupLocked       = "group locked"
	reasonHasValue          = "already has a value"
	reasonAlreadyChecked    = "already checked"
	reasonNoValue           = "no matching value"
	reasonNotSelected       = "value does not select this option"
)

// Separators stripped before deciding whether a text value is real.
var valueSeparators = strings.NewReplacer("/", "", "-", "", ".", "", " ", "", "_", "", ":", "")

// Placeholder patterns rendered as values by masked inputs.
var placeholderMarkers = map[string]bool{
	"mmddyyyy": true,
	"ddmmyyyy": true,
	"yyyymmdd": true,
	"mmyyyy":   true,
	"mmdd":     true,
	"yyyy":     true,
}

// Native representations of a MM/DD/YYYY value by input type.
var nativeDateLayouts = map[string]string{
	"date":           "2006-01-02",
	"month":          "2006-01",
	"datetime-local": "2006-01-02T00:00",
}

const inputDateLayout = "1/2/2006"

// Driver applies values to fields through Page primitives.
type Driver struct {
	page    Page
	sample  assets.File
	timings Timings
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewDriver creates a driver. metrics may be nil.
func NewDriver(page Page, sample assets.File, timings Timings, metrics *observability.Metrics, logger *zap.Logger) *Driver {
	return &Driver{
		page:    page,
		sample:  sample,
		timings: timings,
		metrics: metrics,
		logger:  logger.Named("driver"),
	}
}

// FillAll drives every field in order and returns one outcome per field
// processed. Override mode, used by corrections, ignores the interacted and
// has-value skips but still honours group locks. Only a context error aborts
// the pass.
func (d *Driver) FillAll(ctx context.Context, state *StepState, fields []schemas.FieldDescriptor, mapping schemas.ValueMapping, override bool) ([]schemas.FieldOutcome, error) {
	outcomes := make([]schemas.FieldOutcome, 0, len(fields))
	for _, field := range fields {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcome, err := d.fill(ctx, state, field, mapping, override)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return outcomes, ctxErr
			}
			outcome.Status = schemas.OutcomeFailed
			outcome.Reason = err.Error()
			state.MarkInteracted(field.Key())
			d.logger.Warn("Field interaction failed.",
				zap.String("field", field.Key()),
				zap.String("type", string(field.ControlType)),
				zap.Error(err))
		}
		if field.ControlType == schemas.ControlRadio && outcome.Status == schemas.OutcomeOK {
			markGroup(state, fields, field.Group)
		}
		d.metrics.ObserveField(string(field.ControlType), string(outcome.Status))
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (d *Driver) fill(ctx context.Context, state *StepState, f schemas.FieldDescriptor, mapping schemas.ValueMapping, override bool) (schemas.FieldOutcome, error) {
	key := f.Key()
	out := schemas.FieldOutcome{Key: key, Type: f.ControlType}
	skip := func(reason string) (schemas.FieldOutcome, error) {
		out.Status = schemas.OutcomeSkipped
		out.Reason = reason
		return out, nil
	}

	if f.ControlType == schemas.ControlFile {
		if state.Uploaded(key) {
			return skip(reasonAlreadyUploaded)
		}
		state.MarkUploaded(key)
		state.MarkInteracted(key)
		if f.HasFile {
			return skip(reasonHasFile)
		}
		if err := d.upload(ctx, f); err != nil {
			return out, err
		}
		out.Status = schemas.OutcomeOK
		out.Value = d.sample.Name
		return out, nil
	}

	if state.Locked(f.GroupKey()) {
		return skip(reasonGroupLocked)
	}
	if !override && state.Interacted(key) {
		return skip(reasonAlreadyInteracted)
	}
	if !override {
		if f.ControlType.IsBoolean() && f.Checked {
			state.MarkInteracted(key)
			if f.ControlType == schemas.ControlRadio {
				state.Lock(f.GroupKey())
			}
			return skip(reasonAlreadyChecked)
		}
		if isTextual(f.ControlType) && hasRealValue(f) {
			state.MarkInteracted(key)
			return skip(reasonHasValue)
		}
	}

	value, ok := Match(f, mapping)
	if !ok && f.ControlType != schemas.ControlCustomDropdown && f.ControlType != schemas.ControlSelect {
		state.MarkInteracted(key)
		return skip(reasonNoValue)
	}

	if err := sleep(ctx, d.timings.PreField); err != nil {
		return out, err
	}

	var err error
	acted := true
	switch f.ControlType {
	case schemas.ControlCheckbox:
		acted, err = d.checkbox(ctx, state, f, value)
	case schemas.ControlRadio:
		acted, err = d.radio(ctx, state, f, value)
	case schemas.ControlCustomDropdown:
		err = d.customDropdown(ctx, state, f, value)
	case schemas.ControlSelect:
		value, err = d.nativeSelect(ctx, state, f, value)
	default:
		value, err = d.text(ctx, state, f, value)
	}
	if err != nil {
		return out, err
	}
	if !acted {
		return skip(reasonNotSelected)
	}
	out.Status = schemas.OutcomeOK
	out.Value = value
	return out, nil
}

func (d *Driver) upload(ctx context.Context, f schemas.FieldDescriptor) error {
	if err := d.page.AttachFile(ctx, f.Handle, d.sample); err != nil {
		return interactionError("attach file", err)
	}
	for _, event := range []string{"change", "input", "blur"} {
		if err := d.page.Dispatch(ctx, f.Handle, event); err != nil {
			return interactionError("dispatch "+event, err)
		}
	}
	return sleep(ctx, d.timings.AfterUpload)
}

// checkbox reports whether value selects this box and, if so, makes sure it is checked.
func (d *Driver) checkbox(ctx context.Context, state *StepState, f schemas.FieldDescriptor, value string) (bool, error) {
	state.MarkInteracted(f.Key())
	if !checkboxSelected(f, value) {
		return false, nil
	}

	checked, err := d.page.IsChecked(ctx, f.Handle)
	if err != nil {
		return true, interactionError("read checked state", err)
	}
	if checked {
		return true, nil
	}
	if err := d.page.ClickLabel(ctx, f.Handle); err != nil {
		return true, interactionError("click checkbox", err)
	}
	if checked, err = d.page.IsChecked(ctx, f.Handle); err != nil {
		return true, interactionError("verify checkbox", err)
	}
	if !checked {
		if err := d.page.ForceCheck(ctx, f.Handle); err != nil {
			return true, interactionError("force checkbox", err)
		}
	}
	return true, sleep(ctx, d.timings.AfterCheckbox)
}

func checkboxSelected(f schemas.FieldDescriptor, value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "true" || v == "yes" {
		return true
	}
	label := strings.ToLower(f.Label)
	for _, choice := range strings.Split(v, ",") {
		choice = strings.TrimSpace(choice)
		if choice != "" && strings.Contains(label, choice) {
			return true
		}
	}
	return false
}

// radio selects the option when value names it, then locks the whole group.
func (d *Driver) radio(ctx context.Context, state *StepState, f schemas.FieldDescriptor, value string) (bool, error) {
	state.MarkInteracted(f.Key())
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false, nil
	}
	if !strings.Contains(strings.ToLower(f.Label), v) && !strings.Contains(strings.ToLower(f.Value), v) {
		return false, nil
	}

	if err := d.page.ClickLabel(ctx, f.Handle); err != nil {
		return true, interactionError("click radio", err)
	}
	state.Lock(f.GroupKey())
	return true, sleep(ctx, d.timings.AfterRadio)
}

// markGroup records every radio of a group as interacted.
func markGroup(state *StepState, fields []schemas.FieldDescriptor, group string) {
	if group == "" {
		return
	}
	for _, f := range fields {
		if f.ControlType == schemas.ControlRadio && f.Group == group {
			state.MarkInteracted(f.Key())
		}
	}
}

func (d *Driver) customDropdown(ctx context.Context, state *StepState, f schemas.FieldDescriptor, value string) error {
	state.MarkInteracted(f.Key())
	state.Lock(f.GroupKey())

	if err := d.page.Click(ctx, f.Handle); err != nil {
		return interactionError("open dropdown", err)
	}
	if err := sleep(ctx, d.timings.DropdownOpen); err != nil {
		return err
	}

	chosen, err := d.page.ChooseOption(ctx, value)
	if err != nil {
		d.logger.Debug("Option list not usable, falling back to keyboard.", zap.String("field", f.Key()), zap.Error(err))
	}
	if !chosen {
		if err := d.page.PressKey(ctx, f.Handle, "ArrowDown"); err != nil {
			return interactionError("press ArrowDown", err)
		}
		if err := sleep(ctx, d.timings.KeyInterval); err != nil {
			return err
		}
		if err := d.page.PressKey(ctx, f.Handle, "Enter"); err != nil {
			return interactionError("press Enter", err)
		}
	}
	if err := sleep(ctx, d.timings.AfterDropdown); err != nil {
		return err
	}
	if err := d.page.PressKey(ctx, f.Handle, "Escape"); err != nil {
		return interactionError("press Escape", err)
	}
	return nil
}

func (d *Driver) nativeSelect(ctx context.Context, state *StepState, f schemas.FieldDescriptor, value string) (string, error) {
	state.MarkInteracted(f.Key())
	state.Lock(f.GroupKey())

	chosen, err := d.page.SelectOption(ctx, f.Handle, value)
	if err != nil {
		return "", interactionError("select option", err)
	}
	for _, event := range []string{"input", "change"} {
		if err := d.page.Dispatch(ctx, f.Handle, event); err != nil {
			return chosen, interactionError("dispatch "+event, err)
		}
	}
	return chosen, nil
}

func (d *Driver) text(ctx context.Context, state *StepState, f schemas.FieldDescriptor, value string) (string, error) {
	state.MarkInteracted(f.Key())
	if f.ControlType == schemas.ControlDate {
		value = NativeDate(f.InputType, value)
	}

	if err := d.page.SetValue(ctx, f.Handle, value); err != nil {
		return value, interactionError("set value", err)
	}
	for _, event := range []string{"input", "change"} {
		if err := d.page.Dispatch(ctx, f.Handle, event); err != nil {
			return value, interactionError("dispatch "+event, err)
		}
	}
	if err := sleep(ctx, d.timings.BlurDelay); err != nil {
		return value, err
	}
	if err := d.page.Dispatch(ctx, f.Handle, "blur"); err != nil {
		return value, interactionError("dispatch blur", err)
	}
	return value, sleep(ctx, d.timings.AfterText)
}

// NativeDate converts a MM/DD/YYYY value to the wire format of a native date
// input. Values that do not parse are returned unchanged.
func NativeDate(inputType, value string) string {
	layout, ok := nativeDateLayouts[inputType]
	if !ok {
		layout = nativeDateLayouts["date"]
	}
	t, err := time.Parse(inputDateLayout, strings.TrimSpace(value))
	if err != nil {
		return value
	}
	return t.Format(layout)
}

func isTextual(t schemas.ControlType) bool {
	return t == schemas.ControlText || t == schemas.ControlTextarea || t == schemas.ControlDate
}

// hasRealValue reports whether the control already holds user data rather
// than nothing or a rendered input mask.
func hasRealValue(f schemas.FieldDescriptor) bool {
	v := strings.ToLower(valueSeparators.Replace(strings.TrimSpace(f.CurrentValue)))
	if v == "" || placeholderMarkers[v] {
		return false
	}
	if f.Placeholder != "" && v == strings.ToLower(valueSeparators.Replace(f.Placeholder)) {
		return false
	}
	return true
}

func interactionError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrInteraction, op, err)
}
