package autofill

import (
	"strings"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// labelSources are tried in order; the first non-empty text wins.
var labelSources = []func(schemas.RawControl) string{
	func(c schemas.RawControl) string { return c.AriaLabel },
	func(c schemas.RawControl) string { return c.ForLabel },
	func(c schemas.RawControl) string { return c.WrapLabel },
	func(c schemas.RawControl) string { return c.FrameworkLabel },
	func(c schemas.RawControl) string { return c.ChoiceText },
	func(c schemas.RawControl) string { return c.Placeholder },
	func(c schemas.RawControl) string { return c.Name },
	func(c schemas.RawControl) string { return c.FormControl },
	func(c schemas.RawControl) string { return c.ID },
}

// ResolveLabel returns the human readable label of a control.
func ResolveLabel(c schemas.RawControl) string {
	for _, source := range labelSources {
		if text := collapseSpace(source(c)); text != "" {
			return text
		}
	}
	return schemas.UnknownFieldLabel
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
