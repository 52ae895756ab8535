package valuesource

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

var (
	// ErrSourceUnavailable covers network and service failures of the generator.
	ErrSourceUnavailable = errors.New("value source unavailable")
	// ErrMalformedResponse covers generator output that is not a usable mapping.
	ErrMalformedResponse = errors.New("malformed value source response")
)

var codeFence = regexp.MustCompile("```[a-zA-Z]*")

// StripCodeFences removes markdown fence markers the model sometimes adds
// despite being asked for raw JSON.
func StripCodeFences(text string) string {
	return strings.TrimSpace(codeFence.ReplaceAllString(text, ""))
}

// ParseMapping decodes generator output into an ordered mapping. An object is
// taken as-is; an array of {key|id|name, value|currentValue} records is
// flattened. Records lacking a key or a value are dropped.
func ParseMapping(text string) (schemas.ValueMapping, error) {
	cleaned := StripCodeFences(text)
	if cleaned == "" {
		return schemas.ValueMapping{}, fmt.Errorf("%w: empty text", ErrMalformedResponse)
	}

	var mapping schemas.ValueMapping
	switch cleaned[0] {
	case '{':
		if err := mapping.UnmarshalJSON([]byte(cleaned)); err != nil {
			return schemas.ValueMapping{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	case '[':
		flat, err := flattenRecords([]byte(cleaned))
		if err != nil {
			return schemas.ValueMapping{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		mapping = flat
	default:
		return schemas.ValueMapping{}, fmt.Errorf("%w: not a JSON object or array", ErrMalformedResponse)
	}

	if mapping.Len() == 0 {
		return schemas.ValueMapping{}, fmt.Errorf("%w: no values", ErrMalformedResponse)
	}
	return mapping, nil
}

var (
	recordKeyFields   = []string{"key", "id", "name"}
	recordValueFields = []string{"value", "currentValue"}
)

func flattenRecords(data []byte) (schemas.ValueMapping, error) {
	var out schemas.ValueMapping
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
		if it.WhatIsNext() != jsoniter.ObjectValue {
			it.Skip()
			return true
		}
		record := map[string]string{}
		it.ReadMapCB(func(it *jsoniter.Iterator, field string) bool {
			record[field] = schemas.ScalarString(it)
			return true
		})
		key := firstNonEmpty(record, recordKeyFields)
		value := firstNonEmpty(record, recordValueFields)
		if key != "" && value != "" {
			out.Set(key, value)
		}
		return true
	})
	if iter.Error != nil {
		return schemas.ValueMapping{}, iter.Error
	}
	return out, nil
}

func firstNonEmpty(record map[string]string, fields []string) string {
	for _, f := range fields {
		if v := record[f]; v != "" {
			return v
		}
	}
	return ""
}
