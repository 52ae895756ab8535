package schemas_test

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func TestValueMapping_KeepsInsertionOrder(t *testing.T) {
	t.Parallel()
	m := schemas.NewValueMapping(
		schemas.ValueEntry{Key: "zip", Value: "90210"},
		schemas.ValueEntry{Key: "address", Value: "1 Main St"},
		schemas.ValueEntry{Key: "zip", Value: "10001"},
	)
	m.Set("city", "Springfield")

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []schemas.ValueEntry{
		{Key: "zip", Value: "90210"},
		{Key: "address", Value: "1 Main St"},
		{Key: "city", Value: "Springfield"},
	}, m.Entries(), "duplicates keep the first value and position")

	v, ok := m.Get("address")
	assert.True(t, ok)
	assert.Equal(t, "1 Main St", v)
	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestValueMapping_EntriesIsACopy(t *testing.T) {
	t.Parallel()
	m := schemas.NewValueMapping(schemas.ValueEntry{Key: "a", Value: "1"})
	entries := m.Entries()
	entries[0].Value = "changed"

	v, _ := m.Get("a")
	assert.Equal(t, "1", v)
}

func TestValueMapping_JSON(t *testing.T) {
	t.Parallel()

	t.Run("marshal preserves order", func(t *testing.T) {
		m := schemas.NewValueMapping(
			schemas.ValueEntry{Key: "z", Value: "last letter"},
			schemas.ValueEntry{Key: "a", Value: `say "hi"`},
		)
		data, err := json.Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, `{"z":"last letter","a":"say \"hi\""}`, string(data))
	})

	t.Run("empty mapping", func(t *testing.T) {
		data, err := json.Marshal(schemas.ValueMapping{})
		require.NoError(t, err)
		assert.Equal(t, `{}`, string(data))
	})

	t.Run("unmarshal keeps document order and stringifies scalars", func(t *testing.T) {
		var m schemas.ValueMapping
		require.NoError(t, json.Unmarshal([]byte(`{"terms":true,"age":42,"note":null,"tags":["a","b"],"name":"Alex"}`), &m))
		assert.Equal(t, []schemas.ValueEntry{
			{Key: "terms", Value: "true"},
			{Key: "age", Value: "42"},
			{Key: "note", Value: ""},
			{Key: "tags", Value: `["a","b"]`},
			{Key: "name", Value: "Alex"},
		}, m.Entries())
	})

	t.Run("unmarshal rejects non objects", func(t *testing.T) {
		var m schemas.ValueMapping
		assert.Error(t, json.Unmarshal([]byte(`["a"]`), &m))
	})

	t.Run("inside a fill response", func(t *testing.T) {
		resp := schemas.FillResponse{
			Status:   schemas.StatusSuccess,
			FillData: schemas.NewValueMapping(schemas.ValueEntry{Key: "email", Value: "alex@example.com"}),
		}
		data, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"success","fillData":{"email":"alex@example.com"}}`, string(data))
	})
}

func TestFieldDescriptor_Keys(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		field    schemas.FieldDescriptor
		key      string
		groupKey string
	}{
		{"identifier wins", schemas.FieldDescriptor{Identifier: "email", Name: "user_email", Label: "Email"}, "email", "email"},
		{"name next", schemas.FieldDescriptor{Name: "user_email", Label: "Email"}, "user_email", "user_email"},
		{"label last", schemas.FieldDescriptor{Label: "Email"}, "Email", "Email"},
		{"radio group", schemas.FieldDescriptor{Identifier: "c1", Group: "contact"}, "c1", "group:contact"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.key, tc.field.Key())
			assert.Equal(t, tc.groupKey, tc.field.GroupKey())
		})
	}
}

func TestFieldDescriptor_JSONHidesDriverState(t *testing.T) {
	t.Parallel()
	f := schemas.FieldDescriptor{
		Identifier:  "terms",
		ControlType: schemas.ControlCheckbox,
		Label:       "I agree",
		Handle:      "fp-1",
		Checked:     true,
	}
	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "fp-1")
	assert.Contains(t, string(data), `"type":"checkbox"`)
	assert.True(t, schemas.ControlCheckbox.IsBoolean())
	assert.False(t, schemas.ControlSelect.IsBoolean())
}

func TestPassSummary_Count(t *testing.T) {
	t.Parallel()
	p := schemas.PassSummary{Outcomes: []schemas.FieldOutcome{
		{Key: "a", Status: schemas.OutcomeOK},
		{Key: "b", Status: schemas.OutcomeFailed},
		{Key: "c", Status: schemas.OutcomeOK},
	}}
	assert.Equal(t, 2, p.Count(schemas.OutcomeOK))
	assert.Equal(t, 1, p.Count(schemas.OutcomeFailed))
	assert.Equal(t, 0, p.Count(schemas.OutcomeSkipped))
}
