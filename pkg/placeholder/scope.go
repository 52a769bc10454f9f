package placeholder

import (
	"strconv"
	"strings"

	"github.com/systemstart/many-flows/pkg/api"
)

// SearchOrder is the order unqualified paths are looked up in.
var SearchOrder = []string{api.ScopeFlow, api.ScopeSteps, api.ScopeTestData, api.ScopeRun, api.ScopeEnv}

// Scopes maps scope names (flow, steps, testData, run, env) to their roots.
type Scopes map[string]any

// Lookuper is implemented by values that resolve path segments themselves,
// such as step history.
type Lookuper interface {
	Lookup(key string) (any, bool)
}

// Snapshotter is implemented by values that can present themselves as a
// plain object to expression sandboxes.
type Snapshotter interface {
	Snapshot() map[string]any
}

// Lookup resolves segments. A first segment naming a scope is qualified;
// otherwise every scope is searched in SearchOrder.
func (s Scopes) Lookup(segments []string) (any, bool) {
	if len(segments) == 0 {
		return nil, false
	}
	if root, ok := s[segments[0]]; ok {
		return Walk(root, segments[1:])
	}
	for _, name := range SearchOrder {
		root, ok := s[name]
		if !ok {
			continue
		}
		if v, found := Walk(root, segments); found {
			return v, true
		}
	}
	return nil, false
}

// LookupPath resolves a dotted path such as "steps.login.response.body.token"
// or "items[0].id".
func (s Scopes) LookupPath(path string) (any, bool) {
	return s.Lookup(splitPath(path))
}

// With returns a copy of s with name bound to root.
func (s Scopes) With(name string, root any) Scopes {
	out := make(Scopes, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[name] = root
	return out
}

// Walk follows segments through maps, slices and Lookupers. A missing key
// or index yields false, never a panic.
func Walk(root any, segments []string) (any, bool) {
	cur := root
	for _, seg := range segments {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]string:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, ok := index(seg, len(v))
			if !ok {
				return nil, false
			}
			cur = v[i]
		case []string:
			i, ok := index(seg, len(v))
			if !ok {
				return nil, false
			}
			cur = v[i]
		case []map[string]any:
			i, ok := index(seg, len(v))
			if !ok {
				return nil, false
			}
			cur = v[i]
		case Lookuper:
			next, ok := v.Lookup(seg)
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}

// WalkPath is Walk over a dotted path.
func WalkPath(root any, path string) (any, bool) {
	return Walk(root, splitPath(path))
}

func index(seg string, n int) (int, bool) {
	i, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

// splitPath turns "a.b[0].c" into [a b 0 c].
func splitPath(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	parts := strings.Split(path, ".")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// frame is one level of an active repeat directive.
type frame struct {
	index    int
	value    any
	hasValue bool
	parent   *frame
}

func (f *frame) object() map[string]any {
	if f == nil {
		return nil
	}
	obj := map[string]any{
		"index":  f.index,
		"number": f.index + 1,
	}
	if f.hasValue {
		obj["value"] = f.value
	}
	if f.parent != nil {
		obj["parent"] = f.parent.object()
	}
	return obj
}

// stack lists frames from the outermost repeat inwards.
func (f *frame) stack() []any {
	var frames []any
	for cur := f; cur != nil; cur = cur.parent {
		frames = append([]any{cur.object()}, frames...)
	}
	return frames
}

type state struct {
	scopes Scopes
	frame  *frame
}

func (st *state) push(f *frame) *state {
	f.parent = st.frame
	return &state{scopes: st.scopes, frame: f}
}

func (st *state) iterationLookup(head string, rest []string) (any, bool) {
	if st.frame == nil {
		return nil, false
	}
	switch head {
	case itemScope:
		return Walk(st.frame.object(), rest)
	case loopsScope:
		return Walk(st.frame.stack(), rest)
	default:
		return nil, false
	}
}

// expressionData flattens scopes and iteration state for sandboxes.
func (st *state) expressionData() map[string]any {
	data := make(map[string]any, len(st.scopes)+2)
	for name, root := range st.scopes {
		data[name] = plain(root)
	}
	if st.frame != nil {
		data["item"] = st.frame.object()
		data["loops"] = st.frame.stack()
	}
	return data
}

func plain(v any) any {
	if s, ok := v.(Snapshotter); ok {
		return s.Snapshot()
	}
	return v
}

// Clone deep-copies maps and slices so a resolved value never shares memory
// with the scope it was read from. Other values are returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case map[string]string:
		if t == nil {
			return t
		}
		out := make(map[string]string, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		if t == nil {
			return t
		}
		out := make([]map[string]any, len(t))
		for i, val := range t {
			out[i], _ = Clone(val).(map[string]any)
		}
		return out
	default:
		return v
	}
}
