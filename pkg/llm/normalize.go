package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// flattenStringArrays rewrites arrays of strings inside object fields
// as comma-joined strings, so {"object": ["a", "b"]} decodes into a
// plain string field. Top-level arrays are legitimate result lists and
// pass through untouched.
func flattenStringArrays(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	out, err := json.Marshal(flattenValue(v, true))
	if err != nil {
		return nil, fmt.Errorf("marshal normalized json: %w", err)
	}
	return out, nil
}

func flattenValue(value any, topLevel bool) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			result[key] = flattenValue(val, false)
		}
		return result
	case []any:
		if !topLevel && isStringSlice(v) {
			return joinStrings(v)
		}
		result := make([]any, len(v))
		for i, elem := range v {
			result[i] = flattenValue(elem, false)
		}
		return result
	default:
		return value
	}
}

func isStringSlice(arr []any) bool {
	for _, elem := range arr {
		if _, ok := elem.(string); !ok {
			return false
		}
	}
	return len(arr) > 0
}

func joinStrings(arr []any) string {
	parts := make([]string, len(arr))
	for i, elem := range arr {
		parts[i] = elem.(string)
	}
	return strings.Join(parts, ", ")
}
