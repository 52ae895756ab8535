package valuesource

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const systemPrompt = `You fill out web forms with plausible test data.
You answer with a single JSON object mapping each field's "id" (or "name" when "id" is empty) to the value to enter.
Never add commentary, markdown, or code fences.`

var fillRules = []string{
	`Dates: "MM/DD/YYYY".`,
	`Mobile and phone numbers: 10 digits, e.g. "1234567890".`,
	`Email: "alex@example.com".`,
	`Dropdowns and selects: the exact visible option label. When "options" is present pick one of them verbatim.`,
	`Checkboxes: "true" or the checkbox label text. Several choices may be comma separated.`,
	`Radio buttons: the label of the option to choose.`,
	`File inputs: "sample.pdf".`,
	`Raw JSON only.`,
}

var correctionRules = []string{
	`If an error says "Invalid Date", use the format MM/DD/YYYY.`,
	`If an error says "Required", provide a value.`,
	`If an error says "Invalid Phone", use exactly 10 digits.`,
	`Only include fields related to the errors when you can tell which ones they are; otherwise include every field.`,
	`Return JSON { "field_id": "corrected_value" }.`,
}

// BuildFillPrompt renders the generic fill request for fields.
func BuildFillPrompt(fields []schemas.FieldDescriptor) (schemas.GenerationRequest, error) {
	encoded, err := json.MarshalToString(fields)
	if err != nil {
		return schemas.GenerationRequest{}, fmt.Errorf("failed to encode fields: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Generate JSON.\nRules:\n")
	writeRules(&sb, fillRules)
	sb.WriteString("Fields: ")
	sb.WriteString(encoded)
	return newRequest(sb.String()), nil
}

// BuildCorrectionPrompt renders a correction request embedding the visible
// validation errors alongside the fields.
func BuildCorrectionPrompt(fields []schemas.FieldDescriptor, validationErrors []string) (schemas.GenerationRequest, error) {
	encodedFields, err := json.MarshalToString(fields)
	if err != nil {
		return schemas.GenerationRequest{}, fmt.Errorf("failed to encode fields: %w", err)
	}
	encodedErrors, err := json.MarshalToString(validationErrors)
	if err != nil {
		return schemas.GenerationRequest{}, fmt.Errorf("failed to encode errors: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("The form rejected the previous data.\n")
	sb.WriteString("Errors found on page: ")
	sb.WriteString(encodedErrors)
	sb.WriteString("\n\nTask: Provide CORRECTED values for the fields related to these errors.\nRules:\n")
	writeRules(&sb, correctionRules)
	sb.WriteString("\nFields Available: ")
	sb.WriteString(encodedFields)
	return newRequest(sb.String()), nil
}

func writeRules(sb *strings.Builder, rules []string) {
	for _, r := range rules {
		sb.WriteString("- ")
		sb.WriteString(r)
		sb.WriteByte('\n')
	}
}

func newRequest(user string) schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   user,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
		},
	}
}
