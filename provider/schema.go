package provider

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/tracewright/tracewright/trace"
)

// ResponseSchema reflects a JSON schema for T suitable for strict structured
// output. The reflected schema is post-processed so every provider that
// implements the OpenAI json_schema format accepts it: objects forbid
// additional properties and list every property as required.
func ResponseSchema[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	m, err := schemaToMap(reflector.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("ResponseSchema: %w", err)
	}
	enforceStrictObjects(m)
	return m, nil
}

// FieldSchema builds a flat string-object schema from an output field
// declaration, for calls whose shape is user-configured rather than a Go
// struct. Strict mode requires every property, optional or not; optionality
// is enforced by the merge engine, not the wire format.
func FieldSchema(fields []trace.FieldSpec) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		prop := map[string]any{"type": "string"}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		props[f.Name] = prop
		required = append(required, f.Name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func schemaToMap(s *jsonschema.Schema) (map[string]any, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return m, nil
}

// enforceStrictObjects walks the schema and applies the strict-mode rules to
// every object node, including nested items and property values.
func enforceStrictObjects(node map[string]any) {
	if t, _ := node["type"].(string); t == "object" {
		node["additionalProperties"] = false
		if props, ok := node["properties"].(map[string]any); ok && len(props) > 0 {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			node["required"] = required
		}
	}
	if props, ok := node["properties"].(map[string]any); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				enforceStrictObjects(pm)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		enforceStrictObjects(items)
	}
	if defs, ok := node["$defs"].(map[string]any); ok {
		for _, d := range defs {
			if dm, ok := d.(map[string]any); ok {
				enforceStrictObjects(dm)
			}
		}
	}
}
