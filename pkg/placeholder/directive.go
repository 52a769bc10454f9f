package placeholder

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/systemstart/many-flows/pkg/api"
)

const (
	// DirectiveKey marks an object as a generator directive.
	DirectiveKey = "$generate"

	DirectiveRepeat      = "repeat"
	DirectiveConditional = "conditional"

	// MaxRepeat is the largest count a repeat directive accepts. Larger
	// counts produce an empty sequence and a warning.
	MaxRepeat = 10000
)

// lazyFields are resolved per iteration or per chosen branch, never up front.
var lazyFields = map[string][]string{
	DirectiveRepeat:      {"template"},
	DirectiveConditional: {"then", "else"},
}

func (e *Engine) resolveDirective(rawKind any, node map[string]any, st *state) (any, error) {
	kindVal, err := e.resolve(rawKind, st)
	if err != nil {
		return nil, err
	}
	kind := strings.TrimSpace(Stringify(kindVal))

	lazy, known := lazyFields[kind]
	if !known {
		if e.strict {
			return nil, &api.ConfigurationError{Field: DirectiveKey, Reason: fmt.Sprintf("unknown directive kind %q", kind)}
		}
		e.logger.Warn("unknown generator directive", "kind", kind)
		return nil, nil
	}

	fields := make(map[string]any, len(node))
	for key, val := range node {
		if key == DirectiveKey || slices.Contains(lazy, key) {
			continue
		}
		r, err := e.resolve(val, st)
		if err != nil {
			return nil, err
		}
		fields[key] = r
	}

	switch kind {
	case DirectiveRepeat:
		return e.repeat(fields, node["template"], st)
	default:
		return e.conditional(fields, node, st)
	}
}

func (e *Engine) repeat(fields map[string]any, template any, st *state) (any, error) {
	var (
		items  []any
		count  int
		source bool
	)

	if src, ok := fields["source"]; ok {
		seq, isSeq := toSlice(src)
		if !isSeq {
			e.logger.Warn("repeat source is not a sequence", "source", src)
			return []any{}, nil
		}
		items, count, source = seq, len(seq), true
	} else {
		n, ok := toInt(fields["count"])
		if !ok {
			e.logger.Warn("repeat count is not an integer", "count", fields["count"])
			return []any{}, nil
		}
		count = n
	}

	if count <= 0 {
		e.logger.Warn("repeat produced no elements", "count", count)
		return []any{}, nil
	}
	if count > MaxRepeat {
		e.logger.Warn("repeat count exceeds limit", "count", count, "limit", MaxRepeat)
		return []any{}, nil
	}

	out := make([]any, 0, min(count, 1024))
	for i := 0; i < count; i++ {
		f := &frame{index: i}
		if source {
			f.value, f.hasValue = items[i], true
		}
		v, err := e.resolve(template, st.push(f))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Engine) conditional(fields, node map[string]any, st *state) (any, error) {
	cond, err := e.truth(fields["if"], st)
	if err != nil {
		e.logger.Error("conditional evaluation failed, using else branch", "condition", fields["if"], "error", err)
		cond = false
	}

	branch := "else"
	if cond {
		branch = "then"
	}
	body, ok := node[branch]
	if !ok {
		return nil, nil
	}
	return e.resolve(body, st)
}

func (e *Engine) truth(v any, st *state) (bool, error) {
	switch c := v.(type) {
	case nil:
		return false, nil
	case bool:
		return c, nil
	case int:
		return c != 0, nil
	case int64:
		return c != 0, nil
	case float64:
		return c != 0, nil
	case string:
		expr := strings.TrimSpace(c)
		switch strings.ToLower(expr) {
		case "":
			return false, nil
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return e.evaluator.Evaluate(expr, st.expressionData())
	default:
		return false, fmt.Errorf("condition of type %T is not a boolean expression", v)
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		if n > math.MaxInt || n < math.MinInt {
			return 0, false
		}
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case float64:
		if math.IsNaN(n) || n != math.Trunc(n) || n >= math.MaxInt || n < math.MinInt {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	default:
		return nil, false
	}
}
