package flow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// toFloat converts JSON-decoded and literal numbers, and numeric strings.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(v, ",", ".")), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

// ratingScore accepts integers 1..5 in any numeric or string form.
func ratingScore(value any) (int, bool) {
	f, ok := toFloat(value)
	if !ok || f != float64(int(f)) {
		return 0, false
	}

	score := int(f)
	if score < 1 || score > 5 {
		return 0, false
	}

	return score, true
}

// stringify renders a variable for string comparison.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
