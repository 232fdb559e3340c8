package models

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// routingPlanSchema is the JSON schema a raw routing plan document must
// satisfy before it is decoded into a RoutingPlan. Structural sequencing
// rules beyond what a schema can express live in RoutingPlan.Validate.
const routingPlanSchema = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["sequence", "role"],
		"properties": {
			"sequence": {"type": "integer", "minimum": 1},
			"role": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}
}`

// ValidateRoutingPlanDocument validates a decoded routing plan document
// (as produced by encoding/json) against the routing plan schema.
func ValidateRoutingPlanDocument(document any) error {
	schemaLoader := gojsonschema.NewStringLoader(routingPlanSchema)
	dataLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("routing plan schema validation: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidSequence, strings.Join(details, "; "))
	}

	return nil
}
