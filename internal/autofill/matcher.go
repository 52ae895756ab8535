package autofill

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// minSubstringKey is the rune length a key must exceed to match by substring.
const minSubstringKey = 3

// normalize lower-cases s and keeps only letters and digits.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Match finds the value intended for field. Keys and field attributes are
// compared normalized: exact identifier wins, then exact name, then exact
// label, then the first key in insertion order contained in the label.
func Match(field schemas.FieldDescriptor, mapping schemas.ValueMapping) (string, bool) {
	entries := mapping.Entries()
	label := normalize(field.Label)
	for _, attr := range []string{normalize(field.Identifier), normalize(field.Name), label} {
		if v, ok := lookupNormalized(entries, attr); ok {
			return v, true
		}
	}

	if label == "" {
		return "", false
	}
	for _, e := range entries {
		key := normalize(e.Key)
		if utf8.RuneCountInString(key) > minSubstringKey && strings.Contains(label, key) {
			return e.Value, true
		}
	}
	return "", false
}

// lookupNormalized returns the value of the first entry whose normalized key
// equals want.
func lookupNormalized(entries []schemas.ValueEntry, want string) (string, bool) {
	if want == "" {
		return "", false
	}
	for _, e := range entries {
		if normalize(e.Key) == want {
			return e.Value, true
		}
	}
	return "", false
}
