package format

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Describe renders a decoded JSON value with its JSON type, e.g. `"ab" (string)`
// or `null (null)`, for messages a submitter can act on.
func Describe(v any) string {
	return fmt.Sprintf("%s (%s)", renderValue(v), JSONType(v))
}

// JSONType names the JSON type of a value produced by encoding/json.
func JSONType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func renderValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	const maxLen = 64
	if len(b) > maxLen {
		n := maxLen
		for n > 0 && !utf8.RuneStart(b[n]) {
			n--
		}
		return string(b[:n]) + "..."
	}
	return string(b)
}
