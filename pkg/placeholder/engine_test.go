package placeholder_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemstart/many-flows/pkg/api"
	"github.com/systemstart/many-flows/pkg/placeholder"
)

func newEngine(opts ...placeholder.Option) (*placeholder.Engine, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	opts = append([]placeholder.Option{placeholder.WithLogger(logger), placeholder.WithSeed(42)}, opts...)
	return placeholder.New(opts...), &buf
}

func sampleScopes() placeholder.Scopes {
	return placeholder.Scopes{
		api.ScopeFlow: map[string]any{"itemId": 7, "role": "admin", "tags": []any{"a", "b"}},
		api.ScopeSteps: map[string]any{
			"login": map[string]any{"response": map[string]any{"body": map[string]any{"token": "abc"}}},
		},
		api.ScopeTestData: map[string]any{"username": "alice", "itemId": 99},
		api.ScopeEnv:      map[string]string{"HOST": "example.test"},
	}
}

func TestResolve_WholeTokenKeepsType(t *testing.T) {
	e, _ := newEngine()

	out, err := e.Resolve(map[string]any{
		"id":   "{{ flow.itemId }}",
		"tags": "{{flow.tags}}",
	}, sampleScopes())
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, 7, m["id"])
	assert.Equal(t, []any{"a", "b"}, m["tags"])
}

func TestResolve_EmbeddedTokensStringify(t *testing.T) {
	e, _ := newEngine()

	out, err := e.Resolve("/items/{{ flow.itemId }}?tags={{ flow.tags }}", sampleScopes())
	require.NoError(t, err)
	assert.Equal(t, `/items/7?tags=["a","b"]`, out)
}

func TestResolve_Qualification(t *testing.T) {
	e, _ := newEngine()
	scopes := sampleScopes()

	tests := []struct {
		name  string
		input string
		want  any
	}{
		{"qualified flow", "{{ flow.itemId }}", 7},
		{"qualified testData", "{{ testData.itemId }}", 99},
		{"unqualified prefers flow", "{{ itemId }}", 7},
		{"unqualified falls through", "{{ username }}", "alice"},
		{"step history", "Bearer {{ steps.login.response.body.token }}", "Bearer abc"},
		{"env", "https://{{ env.HOST }}", "https://example.test"},
		{"index", "{{ flow.tags[1] }}", "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Resolve(tt.input, scopes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_UnresolvedStaysVerbatim(t *testing.T) {
	e, logs := newEngine()

	out, err := e.Resolve(map[string]any{
		"a": "{{ flow.missing }}",
		"b": "x-{{ nowhere.at.all }}-y",
		"c": "{{ $nope }}",
	}, sampleScopes())
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "{{ flow.missing }}", m["a"])
	assert.Equal(t, "x-{{ nowhere.at.all }}-y", m["b"])
	assert.Equal(t, "{{ $nope }}", m["c"])
	assert.Contains(t, logs.String(), "unresolved placeholder")
}

func TestResolve_DoesNotModifyInput(t *testing.T) {
	e, _ := newEngine()
	in := map[string]any{"nested": map[string]any{"v": "{{ flow.itemId }}"}}

	_, err := e.Resolve(in, sampleScopes())
	require.NoError(t, err)
	assert.Equal(t, "{{ flow.itemId }}", in["nested"].(map[string]any)["v"])
}

func TestResolve_WholeTokenIsACopy(t *testing.T) {
	e, _ := newEngine()
	body := map[string]any{"id": 7, "tags": []any{"a"}}
	scopes := placeholder.Scopes{api.ScopeSteps: map[string]any{"create": map[string]any{"body": body}}}

	out, err := e.Resolve(map[string]any{"item": "{{ steps.create.body }}"}, scopes)
	require.NoError(t, err)

	item := out.(map[string]any)["item"].(map[string]any)
	item["id"] = 99
	item["tags"].([]any)[0] = "z"
	assert.Equal(t, 7, body["id"])
	assert.Equal(t, []any{"a"}, body["tags"])
}

func TestClone(t *testing.T) {
	in := map[string]any{
		"m":  map[string]any{"k": []any{1, map[string]any{"x": 1}}},
		"h":  map[string]string{"a": "b"},
		"s":  []string{"x"},
		"ms": []map[string]any{{"n": 1}},
	}
	out := placeholder.Clone(in).(map[string]any)
	assert.Equal(t, in, out)

	out["m"].(map[string]any)["k"].([]any)[1].(map[string]any)["x"] = 2
	out["h"].(map[string]string)["a"] = "c"
	out["s"].([]string)[0] = "y"
	out["ms"].([]map[string]any)[0]["n"] = 2

	assert.Equal(t, 1, in["m"].(map[string]any)["k"].([]any)[1].(map[string]any)["x"])
	assert.Equal(t, "b", in["h"].(map[string]string)["a"])
	assert.Equal(t, "x", in["s"].([]string)[0])
	assert.Equal(t, 1, in["ms"].([]map[string]any)[0]["n"])
	assert.Equal(t, "plain", placeholder.Clone("plain"))
}

func TestResolve_Idempotent(t *testing.T) {
	e, _ := newEngine()
	in := map[string]any{
		"id":    "{{ flow.itemId }}",
		"path":  "/items/{{ flow.itemId }}",
		"left":  "{{ flow.missing }}",
		"plain": "no tokens",
	}

	once, err := e.Resolve(in, sampleScopes())
	require.NoError(t, err)
	twice, err := e.Resolve(once, sampleScopes())
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestRepeat_Count(t *testing.T) {
	tests := []struct {
		name  string
		count any
		want  int
		warn  bool
	}{
		{"three", 3, 3, false},
		{"string count", "2", 2, false},
		{"zero", 0, 0, true},
		{"negative", -4, 0, true},
		{"not an integer", "many", 0, true},
		{"fractional", 1.5, 0, true},
		{"integral float", 2.0, 2, false},
		{"at limit", placeholder.MaxRepeat, placeholder.MaxRepeat, false},
		{"above limit", placeholder.MaxRepeat + 1, 0, true},
		{"max int string", "9223372036854775807", 0, true},
		{"string overflow", "99999999999999999999", 0, true},
		{"huge float", 1e30, 0, true},
		{"uint64 overflow", uint64(1) << 63, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, logs := newEngine()
			out, err := e.Resolve(map[string]any{
				placeholder.DirectiveKey: placeholder.DirectiveRepeat,
				"count":                  tt.count,
				"template":               map[string]any{"n": "{{ $item.number }}"},
			}, nil)
			require.NoError(t, err)

			items, ok := out.([]any)
			require.True(t, ok)
			assert.Len(t, items, tt.want)
			if tt.warn {
				assert.NotEmpty(t, logs.String())
			}
			for i, item := range items {
				assert.Equal(t, i+1, item.(map[string]any)["n"])
			}
		})
	}
}

func TestRepeat_CountFromPlaceholder(t *testing.T) {
	e, _ := newEngine()
	scopes := placeholder.Scopes{api.ScopeFlow: map[string]any{"n": 2}}

	out, err := e.Resolve(map[string]any{
		placeholder.DirectiveKey: placeholder.DirectiveRepeat,
		"count":                  "{{ flow.n }}",
		"template":               "{{ $item.index }}",
	}, scopes)
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1}, out)
}

func TestRepeat_Source(t *testing.T) {
	e, _ := newEngine()

	out, err := e.Resolve(map[string]any{
		placeholder.DirectiveKey: placeholder.DirectiveRepeat,
		"source":                 "{{ flow.tags }}",
		"count":                  10,
		"template":               "{{ $item.value }}-{{ $item.index }}",
	}, sampleScopes())
	require.NoError(t, err)
	assert.Equal(t, []any{"a-0", "b-1"}, out)
}

func TestRepeat_NestedParentAndLoops(t *testing.T) {
	e, _ := newEngine()

	out, err := e.Resolve(map[string]any{
		placeholder.DirectiveKey: placeholder.DirectiveRepeat,
		"source":                 []any{"x", "y"},
		"template": map[string]any{
			placeholder.DirectiveKey: placeholder.DirectiveRepeat,
			"count":                  2,
			"template": map[string]any{
				"outer": "{{ $item.parent.value }}",
				"inner": "{{ $item.index }}",
				"first": "{{ $loops.0.value }}",
			},
		},
	}, nil)
	require.NoError(t, err)

	rows := out.([]any)
	require.Len(t, rows, 2)
	inner := rows[1].([]any)
	require.Len(t, inner, 2)
	cell := inner[1].(map[string]any)
	assert.Equal(t, "y", cell["outer"])
	assert.Equal(t, 1, cell["inner"])
	assert.Equal(t, "y", cell["first"])
}

func TestItemOutsideRepeatIsUnresolved(t *testing.T) {
	e, _ := newEngine()

	out, err := e.Resolve("{{ $item.index }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "{{ $item.index }}", out)
}

func countingEngine(calls *int, opts ...placeholder.Option) *placeholder.Engine {
	opts = append(opts, placeholder.WithGenerator("count", func([]string) (any, error) {
		*calls++
		return *calls, nil
	}))
	e, _ := newEngine(opts...)
	return e
}

func TestConditional_OnlyChosenBranchResolves(t *testing.T) {
	calls := 0
	e := countingEngine(&calls)

	out, err := e.Resolve(map[string]any{
		placeholder.DirectiveKey: placeholder.DirectiveConditional,
		"if":                     `eq .flow.role "admin"`,
		"then":                   map[string]any{"admin": true},
		"else":                   map[string]any{"n": "{{ $count }}"},
	}, sampleScopes())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"admin": true}, out)
	assert.Zero(t, calls)
}

func TestConditional_ElseAndMissingBranch(t *testing.T) {
	e, _ := newEngine()

	out, err := e.Resolve(map[string]any{
		placeholder.DirectiveKey: placeholder.DirectiveConditional,
		"if":                     false,
		"then":                   "yes",
		"else":                   "no",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "no", out)

	out, err = e.Resolve(map[string]any{
		placeholder.DirectiveKey: placeholder.DirectiveConditional,
		"if":                     "{{ flow.itemId }}",
		"else":                   "no",
	}, sampleScopes())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestConditional_EvaluationErrorTakesElse(t *testing.T) {
	e, logs := newEngine()

	out, err := e.Resolve(map[string]any{
		placeholder.DirectiveKey: placeholder.DirectiveConditional,
		"if":                     "eq .flow.role",
		"then":                   "yes",
		"else":                   "fallback",
	}, sampleScopes())
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
	assert.Contains(t, logs.String(), "conditional evaluation failed")
}

func TestConditional_InsideRepeat(t *testing.T) {
	e, _ := newEngine()

	out, err := e.Resolve(map[string]any{
		placeholder.DirectiveKey: placeholder.DirectiveRepeat,
		"count":                  3,
		"template": map[string]any{
			placeholder.DirectiveKey: placeholder.DirectiveConditional,
			"if":                     "eq .item.index 1",
			"then":                   "middle",
			"else":                   "{{ $item.number }}",
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1, "middle", 3}, out)
}

func TestUnknownDirective(t *testing.T) {
	node := map[string]any{placeholder.DirectiveKey: "shuffle", "items": []any{1, 2}}

	t.Run("lenient", func(t *testing.T) {
		e, logs := newEngine()
		out, err := e.Resolve(map[string]any{"x": node}, nil)
		require.NoError(t, err)
		assert.Nil(t, out.(map[string]any)["x"])
		assert.Contains(t, logs.String(), "unknown generator directive")
	})

	t.Run("strict", func(t *testing.T) {
		e, _ := newEngine(placeholder.WithStrict(true))
		_, err := e.Resolve(node, nil)
		require.Error(t, err)

		var cfgErr *api.ConfigurationError
		assert.True(t, errors.As(err, &cfgErr))
		assert.Contains(t, err.Error(), "shuffle")
	})
}

func TestGenerators(t *testing.T) {
	e, _ := newEngine()

	out, err := e.Resolve(map[string]any{
		"id":    "{{ $uuid }}",
		"ts":    "{{ $timestamp }}",
		"iso":   "{{ $isoTimestamp }}",
		"rand":  "{{ $randomInt.5.9 }}",
		"email": "{{ $faker.internet.email }}",
	}, nil)
	require.NoError(t, err)
	m := out.(map[string]any)

	assert.Len(t, m["id"], 36)
	assert.IsType(t, int64(0), m["ts"])
	assert.True(t, strings.Contains(m["iso"].(string), "T"))
	n := m["rand"].(int)
	assert.GreaterOrEqual(t, n, 5)
	assert.LessOrEqual(t, n, 9)
	assert.Contains(t, m["email"], "@")
}

func TestGenerators_SeededFakerIsReproducible(t *testing.T) {
	in := []any{"{{ $faker.person.fullName }}", "{{ $faker.location.city }}", "{{ $randomInt }}"}

	a, _ := newEngine(placeholder.WithSeed(7))
	b, _ := newEngine(placeholder.WithSeed(7))

	outA, err := a.Resolve(in, nil)
	require.NoError(t, err)
	outB, err := b.Resolve(in, nil)
	require.NoError(t, err)

	assert.Equal(t, outA, outB)
	assert.Equal(t, uint64(7), a.Seed())
}

func TestGenerators_BadArguments(t *testing.T) {
	e, _ := newEngine()

	for _, in := range []string{"{{ $randomInt.9.1 }}", "{{ $randomInt.x.2 }}", "{{ $faker.nope.field }}"} {
		out, err := e.Resolve(in, nil)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestWithGeneratorOverridesBuiltin(t *testing.T) {
	e, _ := newEngine(placeholder.WithGenerator("$uuid", func([]string) (any, error) { return "fixed", nil }))

	out, err := e.Resolve("{{ $uuid }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed", out)
}

func TestZeroSeedPicksOne(t *testing.T) {
	e := placeholder.New()
	assert.NotZero(t, e.Seed())
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", placeholder.Stringify(nil))
	assert.Equal(t, "42", placeholder.Stringify(42))
	assert.Equal(t, "true", placeholder.Stringify(true))
	assert.Equal(t, `{"a":1}`, placeholder.Stringify(map[string]any{"a": 1}))
}

func TestFakeFieldsSorted(t *testing.T) {
	fields := placeholder.FakeFields()
	assert.Contains(t, fields, "internet.email")
	for i := 1; i < len(fields); i++ {
		assert.Less(t, fields[i-1], fields[i])
	}
}
