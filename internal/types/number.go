package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatFloat renders f as a JSON number. Integral values keep a trailing
// ".0" so a summed 4 is written as 4.0, matching the staged files produced
// by the earlier tooling.
func FormatFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("unsupported float value: %v", f)
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	if !strings.ContainsAny(string(b), ".eE") {
		b = append(b, '.', '0')
	}
	return b, nil
}

// KeyString converts a composite key cell to its comparison form. Strings
// are trimmed, numbers keep their literal text, booleans render as
// True/False and null becomes the empty string.
func KeyString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return strings.TrimSpace(val.String())
	case float64:
		b, err := FormatFloat(val)
		if err != nil {
			return strconv.FormatFloat(val, 'g', -1, 64)
		}
		return string(b)
	case bool:
		if val {
			return "True"
		}
		return "False"
	case []string:
		return strings.Join(val, ", ")
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
