package processing

import (
	"encoding/json"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/systemstart/many-flows/pkg/placeholder"
)

// gjsonSyntax marks queries that need the gjson evaluator: array counts and
// iteration (#), wildcards, modifiers and pipes.
const gjsonSyntax = "#*?|@"

// Extract evaluates query against root. Plain dotted paths keep the typed
// value (an int stays an int, a handle stays a handle); gjson queries run
// over the JSON form. A miss returns false.
func Extract(root any, query string) (any, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, false
	}
	if !strings.ContainsAny(query, gjsonSyntax) {
		return placeholder.WalkPath(root, query)
	}

	data, err := json.Marshal(root)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(data, query)
	if !res.Exists() {
		return nil, false
	}
	return normalizeNumbers(res.Value()), true
}

// normalizeNumbers turns integral floats from JSON back into ints.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int(t)
		}
		return t
	case []any:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
		return t
	default:
		return v
	}
}

// applyRules runs extraction rules against root, writing hits into vars.
// Misses are logged and skipped.
func applyRules(logger *slog.Logger, stepKey, kind string, rules map[string]string, root any, vars *Variables) {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		query := rules[name]
		v, ok := Extract(root, query)
		if !ok {
			logger.Warn("extraction found no value", "step", stepKey, "rule", kind, "variable", name, "query", query)
			continue
		}
		vars.Set(name, v)
		logger.Debug("variable saved", "step", stepKey, "rule", kind, "variable", name)
	}
}
