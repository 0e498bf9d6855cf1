package provider

import (
	"sort"
	"testing"

	"github.com/tracewright/tracewright/trace"
)

type nestedOut struct {
	Summary string   `json:"summary"`
	Points  []string `json:"points"`
	Detail  struct {
		Score int `json:"score"`
	} `json:"detail"`
}

func TestResponseSchema_StrictObjects(t *testing.T) {
	t.Parallel()

	m, err := ResponseSchema[nestedOut]()
	if err != nil {
		t.Fatalf("ResponseSchema: %v", err)
	}
	assertStrictObject(t, m)

	props, ok := m["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing: %v", m)
	}
	detail, ok := props["detail"].(map[string]any)
	if !ok {
		t.Fatalf("detail property missing: %v", props)
	}
	assertStrictObject(t, detail)
}

func assertStrictObject(t *testing.T, node map[string]any) {
	t.Helper()
	if node["additionalProperties"] != false {
		t.Fatalf("additionalProperties=%v, want false", node["additionalProperties"])
	}
	props, _ := node["properties"].(map[string]any)
	required := toStringSlice(node["required"])
	if len(required) != len(props) {
		t.Fatalf("required=%v does not cover properties=%v", required, props)
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func TestFieldSchema(t *testing.T) {
	t.Parallel()

	m := FieldSchema([]trace.FieldSpec{
		{Name: "reasoning", Description: "chain of thought"},
		{Name: "answer", Description: "final answer", Optional: true},
	})
	if m["type"] != "object" || m["additionalProperties"] != false {
		t.Fatalf("schema shape wrong: %v", m)
	}
	required := toStringSlice(m["required"])
	sort.Strings(required)
	if len(required) != 2 || required[0] != "answer" || required[1] != "reasoning" {
		t.Fatalf("required=%v, want both fields (strict mode requires all)", required)
	}
	props := m["properties"].(map[string]any)
	reasoning := props["reasoning"].(map[string]any)
	if reasoning["description"] != "chain of thought" {
		t.Fatalf("description missing: %v", reasoning)
	}
}
