package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// SnapshotSchema is the JSON schema a persisted questionnaire snapshot must
// satisfy before it is trusted.
const SnapshotSchema = `{
  "type": "object",
  "required": ["sessionId", "answers", "goals"],
  "properties": {
    "sessionId": {"type": "string", "minLength": 1},
    "completed": {"type": "boolean"},
    "updatedAt": {"type": "string"},
    "answers":   {"type": "object"},
    "goals": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "interest"],
        "properties": {
          "id":       {"type": "string", "minLength": 1},
          "name":     {"type": "string"},
          "interest": {"enum": ["already_planned", "strongly_interested", "would_consider", "less_likely", "would_not_consider"]},
          "custom":   {"type": "boolean"}
        }
      }
    },
    "goalDetails": {
      "type": ["object", "null"],
      "additionalProperties": {
        "type": "object",
        "properties": {
          "timeline":       {"type": "string"},
          "riskAppetite":   {"type": "string"},
          "riskTolerance":  {"type": "string"},
          "marketResponse": {"type": "string"}
        }
      }
    }
  }
}`

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validator holds a compiled schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles schemaJSON.
func NewValidator(schemaJSON string) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// NewSnapshotValidator compiles SnapshotSchema.
func NewSnapshotValidator() *Validator {
	v, err := NewValidator(SnapshotSchema)
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateBytes validates a raw JSON document. Malformed JSON is reported as
// an error, schema violations through the result.
func (v *Validator) ValidateBytes(doc []byte) (*ValidationResult, error) {
	return v.validate(gojsonschema.NewBytesLoader(doc))
}

// ValidateInput validates an already-decoded document.
func (v *Validator) ValidateInput(input interface{}) (*ValidationResult, error) {
	return v.validate(gojsonschema.NewGoLoader(input))
}

func (v *Validator) validate(loader gojsonschema.JSONLoader) (*ValidationResult, error) {
	result, err := v.schema.Validate(loader)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out, nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// GetErrorsForField returns errors for a field and anything nested under it.
func (vr *ValidationResult) GetErrorsForField(field string) []ValidationError {
	var fieldErrors []ValidationError
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") {
			fieldErrors = append(fieldErrors, err)
		}
	}
	return fieldErrors
}
