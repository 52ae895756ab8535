package valuesource

import (
	"strings"
	"unicode"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// fallbackRule yields a canned value when match accepts a field. haystack is
// the lower-cased "identifier name label" text.
type fallbackRule struct {
	name  string
	match func(f schemas.FieldDescriptor, haystack string) bool
	value func(f schemas.FieldDescriptor) string
}

func keywords(words ...string) func(schemas.FieldDescriptor, string) bool {
	return func(_ schemas.FieldDescriptor, haystack string) bool {
		for _, w := range words {
			if strings.Contains(haystack, w) {
				return true
			}
		}
		return false
	}
}

// wholeWords matches only complete alphanumeric tokens, so "tel" ignores
// "hotel".
func wholeWords(words ...string) func(schemas.FieldDescriptor, string) bool {
	return func(_ schemas.FieldDescriptor, haystack string) bool {
		tokens := strings.FieldsFunc(haystack, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, tok := range tokens {
			for _, w := range words {
				if tok == w {
					return true
				}
			}
		}
		return false
	}
}

func either(a, b func(schemas.FieldDescriptor, string) bool) func(schemas.FieldDescriptor, string) bool {
	return func(f schemas.FieldDescriptor, haystack string) bool {
		return a(f, haystack) || b(f, haystack)
	}
}

func controlIs(types ...schemas.ControlType) func(schemas.FieldDescriptor, string) bool {
	return func(f schemas.FieldDescriptor, _ string) bool {
		for _, t := range types {
			if f.ControlType == t {
				return true
			}
		}
		return false
	}
}

func constant(v string) func(schemas.FieldDescriptor) string {
	return func(schemas.FieldDescriptor) string { return v }
}

func ownLabel(f schemas.FieldDescriptor) string {
	if f.Label != "" && f.Label != schemas.UnknownFieldLabel {
		return f.Label
	}
	return "true"
}

// fallbackTable is evaluated top to bottom; the first matching rule wins.
// Boolean controls come first so a checkbox mentioning "email" is still ticked.
var fallbackTable = []fallbackRule{
	{"boolean", controlIs(schemas.ControlCheckbox, schemas.ControlRadio), ownLabel},
	{"email", keywords("email", "e-mail"), constant("alex@example.com")},
	{"ssn", keywords("ssn", "social"), constant("123456789")},
	{"phone", either(keywords("phone", "mobile"), wholeWords("tel")), constant("1234567890")},
	{"zip", keywords("zip", "postal", "postcode"), constant("90001")},
	{"date", keywords("dob", "date", "birth"), constant("01/01/2000")},
	{"first_name", keywords("first", "given"), constant("Alex")},
	{"last_name", keywords("last", "surname", "family"), constant("Coder")},
	{"address", keywords("address", "street"), constant("123 Ai Street")},
	{"city", keywords("city", "town"), constant("New York")},
	{"state", keywords("state", "province", "region"), constant("California")},
	{"date_control", controlIs(schemas.ControlDate), constant("01/01/2000")},
	{"file", controlIs(schemas.ControlFile), constant("sample.pdf")},
}

const defaultFallbackValue = "Test"

// Fallback synthesizes a value for every field without any I/O. Each field
// is keyed by its Key(), so every descriptor receives an entry.
func Fallback(fields []schemas.FieldDescriptor) schemas.ValueMapping {
	var m schemas.ValueMapping
	for _, f := range fields {
		m.Set(f.Key(), fallbackValue(f))
	}
	return m
}

func fallbackValue(f schemas.FieldDescriptor) string {
	haystack := strings.ToLower(f.Identifier + " " + f.Name + " " + f.Label)
	for _, rule := range fallbackTable {
		if rule.match(f, haystack) {
			return rule.value(f)
		}
	}
	return defaultFallbackValue
}
