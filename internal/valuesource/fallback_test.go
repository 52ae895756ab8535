package valuesource

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

func TestFallbackValues(t *testing.T) {
	tests := []struct {
		name  string
		field schemas.FieldDescriptor
		want  string
	}{
		{"email by id", schemas.FieldDescriptor{Identifier: "userEmail", ControlType: schemas.ControlText}, "alex@example.com"},
		{"ssn by label", schemas.FieldDescriptor{Name: "f7", Label: "Social Security Number"}, "123456789"},
		{"phone", schemas.FieldDescriptor{Identifier: "mobileNo"}, "1234567890"},
		{"zip", schemas.FieldDescriptor{Identifier: "zip"}, "90001"},
		{"dob", schemas.FieldDescriptor{Identifier: "dob", ControlType: schemas.ControlDate}, "01/01/2000"},
		{"first name", schemas.FieldDescriptor{Identifier: "fn", Label: "First Name"}, "Alex"},
		{"last name", schemas.FieldDescriptor{Identifier: "ln", Label: "Last Name"}, "Coder"},
		{"address", schemas.FieldDescriptor{Name: "address1"}, "123 Ai Street"},
		{"city", schemas.FieldDescriptor{Name: "city"}, "New York"},
		{"state", schemas.FieldDescriptor{Name: "state"}, "California"},
		{"checkbox uses label", schemas.FieldDescriptor{Identifier: "c1", Label: "I agree to email updates", ControlType: schemas.ControlCheckbox}, "I agree to email updates"},
		{"radio without label", schemas.FieldDescriptor{Identifier: "r1", Label: schemas.UnknownFieldLabel, ControlType: schemas.ControlRadio}, "true"},
		{"native date without keyword", schemas.FieldDescriptor{Identifier: "start", ControlType: schemas.ControlDate}, "01/01/2000"},
		{"tel as a word", schemas.FieldDescriptor{Name: "tel", Label: "Tel."}, "1234567890"},
		{"tel inside a word", schemas.FieldDescriptor{Identifier: "hotelName", Label: "Hotel"}, "Test"},
		{"intelligence is not a phone", schemas.FieldDescriptor{Identifier: "q9", Label: "Business intelligence tools"}, "Test"},
		{"anything else", schemas.FieldDescriptor{Identifier: "nickname", Label: "Nickname"}, "Test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Fallback([]schemas.FieldDescriptor{tt.field})
			got, ok := m.Get(tt.field.Key())
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFallbackIsTotal(t *testing.T) {
	fields := []schemas.FieldDescriptor{
		{Identifier: "email"},
		{Name: "only_name"},
		{Label: "Only Label"},
		{Label: schemas.UnknownFieldLabel, ControlType: schemas.ControlCustomDropdown},
	}
	m := Fallback(fields)
	assert.Equal(t, len(fields), m.Len())
	for _, f := range fields {
		_, ok := m.Get(f.Key())
		assert.True(t, ok, "missing key %q", f.Key())
	}
}
