package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// The model runs in JSON mode, but JSON mode only guarantees syntax.  These
// schemas are the gate between "the model said something" and "the engine
// believes it": enum values, numeric ranges, and required fields are all
// enforced here so no unvalidated number or category ever reaches policy.

const assessmentSchema = `{
	"type": "object",
	"required": ["risk_score", "risk_category", "requires_approval", "auto_approve", "reasoning"],
	"properties": {
		"risk_score":        {"type": "integer", "minimum": 0, "maximum": 100},
		"risk_category":     {"type": "string", "enum": ["LOW", "MEDIUM", "HIGH", "CRITICAL"]},
		"requires_approval": {"type": "boolean"},
		"auto_approve":      {"type": "boolean"},
		"reasoning":         {"type": "string"},
		"factors":           {"type": "array", "items": {"type": "string"}}
	}
}`

const recommendationSchema = `{
	"type": "object",
	"required": ["recommendation", "confidence", "reasoning"],
	"properties": {
		"recommendation":          {"type": "string", "enum": ["approve", "reject", "modify"]},
		"confidence":              {"type": "integer", "minimum": 0, "maximum": 100},
		"reasoning":               {"type": "string"},
		"suggested_modifications": {"type": "object"}
	}
}`

var (
	assessmentCompiled     = jsonschema.MustCompileString("assessment.json", assessmentSchema)
	recommendationCompiled = jsonschema.MustCompileString("recommendation.json", recommendationSchema)
)

// decodeValidated unmarshals raw into out after checking it against schema.
// Any violation is reported as ErrMalformed.
func decodeValidated(schema *jsonschema.Schema, raw []byte, out any) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: decode JSON: %v (raw content: %.200s)", ErrMalformed, err, raw)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: schema violation: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode into result: %v", ErrMalformed, err)
	}
	return nil
}
