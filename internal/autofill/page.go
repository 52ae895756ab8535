package autofill

import (
	"context"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/assets"
)

// Page is the set of document primitives the engine drives. Elements are
// addressed by the opaque handles the page hands out in RawControl and
// ProceedCandidate; a handle is only valid until the next Controls call.
type Page interface {
	URL(ctx context.Context) (string, error)
	// Controls returns candidate controls in document order. An empty scope
	// means the whole document, otherwise it is a CSS selector of a container.
	Controls(ctx context.Context, scope string) ([]schemas.RawControl, error)
	BodyText(ctx context.Context) (string, error)
	HasFormContent(ctx context.Context) (bool, error)
	// ValidationErrors returns the text of visible elements matching selectors.
	ValidationErrors(ctx context.Context, selectors []string) ([]string, error)
	ProceedCandidates(ctx context.Context) ([]schemas.ProceedCandidate, error)

	// SetValue writes value through the element's native value setter.
	SetValue(ctx context.Context, handle, value string) error
	Dispatch(ctx context.Context, handle, event string) error
	Click(ctx context.Context, handle string) error
	// ClickLabel clicks the label or container of a checkbox or radio.
	ClickLabel(ctx context.Context, handle string) error
	IsChecked(ctx context.Context, handle string) (bool, error)
	// ForceCheck sets the checked state directly and fires change.
	ForceCheck(ctx context.Context, handle string) error
	PressKey(ctx context.Context, handle, key string) error
	// ChooseOption clicks the rendered overlay option matching value, or the
	// first one. It reports false when no option list is rendered.
	ChooseOption(ctx context.Context, value string) (bool, error)
	// SelectOption picks the option of a native select best matching value
	// and returns the chosen label.
	SelectOption(ctx context.Context, handle, value string) (string, error)
	AttachFile(ctx context.Context, handle string, file assets.File) error
	// ActivateInPage clicks from the page's own script context.
	ActivateInPage(ctx context.Context, handle string) (bool, error)

	// Watch streams content-added events until ctx is done, then closes the channel.
	Watch(ctx context.Context) (<-chan schemas.ContentEvent, error)
}

// ValueSource proposes values for fields. Implementations absorb their own
// failures and always return a mapping.
type ValueSource interface {
	Values(ctx context.Context, fields []schemas.FieldDescriptor) schemas.ValueMapping
	Corrections(ctx context.Context, fields []schemas.FieldDescriptor, validationErrors []string) schemas.ValueMapping
}
