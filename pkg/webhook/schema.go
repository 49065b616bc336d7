package webhook

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// payloadSchema accepts any subscription object but requires messaging items
// to be well formed so normalisation never sees the wrong types.
var payloadSchema = map[string]interface{}{
	"type":     "object",
	"required": []string{"object"},
	"properties": map[string]interface{}{
		"object": map[string]interface{}{"type": "string"},
		"entry": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"messaging": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"sender": map[string]interface{}{
									"type":       "object",
									"properties": map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
								},
								"recipient": map[string]interface{}{"type": "object"},
								"timestamp": map[string]interface{}{"type": "integer"},
								"message": map[string]interface{}{
									"type": "object",
									"properties": map[string]interface{}{
										"mid":     map[string]interface{}{"type": "string"},
										"text":    map[string]interface{}{"type": "string"},
										"is_echo": map[string]interface{}{"type": "boolean"},
									},
								},
							},
						},
					},
				},
			},
		},
	},
}

func compilePayloadSchema() (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(payloadSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile payload schema: %w", err)
	}
	return schema, nil
}

// validatePayload checks body against schema and joins every violation.
func validatePayload(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			violations = append(violations, e.String())
		}
		return fmt.Errorf("payload does not match schema: %s", strings.Join(violations, "; "))
	}

	return nil
}
