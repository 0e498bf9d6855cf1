package trace

// FieldSpec declares one expected output field of a generation call.
type FieldSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
}

// MergeResult is the outcome of reconciling freshly-generated data with an
// existing item under a field selection.
type MergeResult struct {
	// Data holds the value chosen for every schema field, plus any extra
	// fields the model returned that the schema does not declare.
	Data map[string]string

	// Missing lists selected fields the model was expected to return but
	// did not.
	Missing []string

	// Preserved lists fields whose value was taken from the existing item
	// rather than the model output.
	Preserved []string
}

// legacyFieldAliases maps a canonical field to the legacy storage keys that may
// hold its existing value. Lookup order is canonical first, then aliases.
var legacyFieldAliases = map[string][]string{
	"reasoning": {"original_reasoning"},
	"answer":    {"original_answer"},
}

// MergeWithExisting decides, field by field, whether to accept the model's
// freshly-generated value or preserve the existing item's value.
//
// Selected fields take the generated value when the model produced one;
// otherwise the field is recorded as missing and falls back to the existing
// value (or empty). Unselected fields always keep the existing value; model
// output for them is discarded, never silently applied. An empty selection
// means "all non-optional schema fields".
func MergeWithExisting(existing *Item, generated map[string]string, selected []string, schema []FieldSpec) MergeResult {
	res := MergeResult{Data: make(map[string]string, len(schema))}

	sel := make(map[string]bool, len(selected))
	for _, name := range selected {
		sel[name] = true
	}
	if len(sel) == 0 {
		for _, f := range schema {
			if !f.Optional {
				sel[f.Name] = true
			}
		}
	}

	declared := make(map[string]bool, len(schema))
	for _, f := range schema {
		declared[f.Name] = true

		genValue, genOK := generated[f.Name]
		genOK = genOK && genValue != ""
		existValue, existOK := existingFieldValue(existing, f.Name)

		switch {
		case sel[f.Name] && genOK:
			res.Data[f.Name] = genValue
		case sel[f.Name]:
			res.Missing = append(res.Missing, f.Name)
			if existOK {
				res.Data[f.Name] = existValue
				res.Preserved = append(res.Preserved, f.Name)
			} else {
				res.Data[f.Name] = ""
			}
		case existOK:
			res.Data[f.Name] = existValue
			res.Preserved = append(res.Preserved, f.Name)
		default:
			res.Data[f.Name] = ""
		}
	}

	// The schema is advisory: undeclared fields in the model output pass
	// through untouched.
	for name, v := range generated {
		if !declared[name] {
			res.Data[name] = v
		}
	}
	return res
}

func existingFieldValue(it *Item, name string) (string, bool) {
	if v, ok := it.Field(name); ok {
		return v, true
	}
	for _, alias := range legacyFieldAliases[name] {
		if v, ok := it.Field(alias); ok {
			return v, true
		}
	}
	return "", false
}

// ApplyFields writes merged field values back onto the item and marks it
// dirty. Only non-empty values overwrite; a merge that produced an empty
// string for a field the item already carries is treated as a no-op for that
// field.
func ApplyFields(it *Item, data map[string]string) {
	if it == nil || len(data) == 0 {
		return
	}
	for name, v := range data {
		if v == "" {
			if cur, ok := it.Field(name); ok && cur != "" {
				continue
			}
		}
		it.SetField(name, v)
	}
	it.HasUnsavedChanges = true
}
