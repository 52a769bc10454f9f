// Package placeholder resolves {{ token }} placeholders and $generate
// directives over parameter trees.
//
// Resolution is a pure function of the data and the supplied scopes, apart
// from the generators (uuid, timestamps, seeded fake data) which are owned by
// one Engine per flow run.
package placeholder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/systemstart/many-flows/pkg/api"
)

const (
	// GeneratorPrefix marks tokens served by a generator or iteration scope.
	GeneratorPrefix = "$"

	itemScope  = "$item"
	loopsScope = "$loops"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Generator produces a value for a $name token. args holds the dotted
// segments following the generator name.
type Generator func(args []string) (any, error)

// Engine resolves placeholders. It is safe for concurrent use.
type Engine struct {
	generators map[string]Generator
	extra      map[string]Generator
	evaluator  Evaluator
	logger     *slog.Logger
	strict     bool
	seed       uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeed fixes the fake-data seed. Zero picks a random seed.
func WithSeed(seed uint64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithGenerator registers a generator under $name, replacing any built-in.
func WithGenerator(name string, g Generator) Option {
	return func(e *Engine) { e.extra[GeneratorPrefix+strings.TrimPrefix(name, GeneratorPrefix)] = g }
}

// WithEvaluator sets the conditional expression sandbox.
func WithEvaluator(ev Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// WithLogger sets the logger used for resolution warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStrict turns unknown directives into configuration errors.
func WithStrict(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// New creates an engine with the built-in generators.
func New(opts ...Option) *Engine {
	e := &Engine{
		extra:     make(map[string]Generator),
		evaluator: NewTemplateEvaluator(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.seed == 0 {
		e.seed = rand.Uint64() | 1
	}
	e.generators = builtinGenerators(e.seed)
	for name, g := range e.extra {
		e.generators[name] = g
	}
	return e
}

// Seed returns the fake-data seed so a run can be reproduced.
func (e *Engine) Seed() uint64 {
	return e.seed
}

// Resolve returns a resolved copy of data. The input is never modified.
func (e *Engine) Resolve(data any, scopes Scopes) (any, error) {
	return e.resolve(data, &state{scopes: scopes})
}

// ResolveMap resolves an object, returning nil for a nil input.
func (e *Engine) ResolveMap(data map[string]any, scopes Scopes) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	out, err := e.Resolve(data, scopes)
	if err != nil {
		return nil, err
	}
	if m, ok := out.(map[string]any); ok {
		return m, nil
	}
	return nil, &api.ConfigurationError{Reason: fmt.Sprintf("object resolved to %T", out)}
}

func (e *Engine) resolve(data any, st *state) (any, error) {
	switch v := data.(type) {
	case string:
		return e.resolveString(v, st), nil
	case map[string]any:
		if kind, ok := v[DirectiveKey]; ok {
			return e.resolveDirective(kind, v, st)
		}
		out := make(map[string]any, len(v))
		for key, val := range v {
			r, err := e.resolve(val, st)
			if err != nil {
				return nil, err
			}
			out[key] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			r, err := e.resolve(val, st)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = e.resolveString(val, st)
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = e.resolveString(val, st)
		}
		return out, nil
	default:
		return data, nil
	}
}

func (e *Engine) resolveString(s string, st *state) any {
	matches := tokenPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	// A string that is exactly one token keeps the value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := s[matches[0][2]:matches[0][3]]
		if v, ok := e.resolveToken(expr, st); ok {
			return Clone(v)
		}
		return s
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		expr := s[m[2]:m[3]]
		if v, ok := e.resolveToken(expr, st); ok {
			b.WriteString(Stringify(v))
		} else {
			b.WriteString(s[m[0]:m[1]])
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func (e *Engine) resolveToken(expr string, st *state) (any, bool) {
	segments := splitPath(expr)
	if len(segments) == 0 {
		e.logger.Warn("unresolved placeholder", "token", expr, "reason", "empty path")
		return nil, false
	}

	head := segments[0]
	if strings.HasPrefix(head, GeneratorPrefix) {
		switch head {
		case itemScope, loopsScope:
			v, ok := st.iterationLookup(head, segments[1:])
			if !ok {
				e.logger.Warn("unresolved placeholder", "token", expr, "reason", "no enclosing repeat")
			}
			return v, ok
		}

		gen, ok := e.generators[head]
		if !ok {
			e.logger.Warn("unresolved placeholder", "token", expr, "reason", "unknown generator")
			return nil, false
		}
		v, err := gen(segments[1:])
		if err != nil {
			e.logger.Warn("unresolved placeholder", "token", expr, "error", err)
			return nil, false
		}
		return v, true
	}

	v, ok := st.scopes.Lookup(segments)
	if !ok {
		e.logger.Warn("unresolved placeholder", "token", expr)
	}
	return v, ok
}

// Stringify renders a value for embedding inside a larger string.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any, map[string]string, []string:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
