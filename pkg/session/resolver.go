package session

import (
	"fmt"
	"log/slog"

	"github.com/systemstart/many-flows/pkg/api"
)

// Level names where the effective selector came from.
type Level string

const (
	LevelStep    Level = "step"
	LevelFlow    Level = "flow"
	LevelProcess Level = "process"
)

// Lookup finds a value for a selector path, typically over the flow
// variables, the step history and the run configuration.
type Lookup func(path string) (any, bool)

// Selection is the handle a step runs against.
type Selection struct {
	Handle       Handle
	BaseEndpoint string
	Path         string
	Level        Level

	// Fresh is set when Handle was built for this step alone, either by the
	// factory or by rebasing a session. The caller owns it and must Release it.
	Fresh bool
}

// IsDefault reports whether the process default context was selected.
func (s *Selection) IsDefault() bool {
	return s.Path == ""
}

// Resolver applies the step > flow > process precedence.
type Resolver struct {
	Default             Handle
	DefaultBaseEndpoint string
	Factory             Factory
	Logger              *slog.Logger
}

// Input carries the selectors of one step. Base endpoint values must already
// be placeholder-resolved.
type Input struct {
	Context          api.Selector
	FlowContext      api.Selector
	BaseEndpoint     api.Selector
	FlowBaseEndpoint api.Selector
}

// effective returns the first non-absent selector, highest precedence first.
func effective(step, flow api.Selector) (api.Selector, Level) {
	switch {
	case !step.IsAbsent():
		return step, LevelStep
	case !flow.IsAbsent():
		return flow, LevelFlow
	default:
		return api.Selector{}, LevelProcess
	}
}

// ResolveBaseEndpoint returns the base endpoint after precedence. Absent at
// every level or an explicit null yields the process default.
func (r *Resolver) ResolveBaseEndpoint(step, flow api.Selector) string {
	sel, _ := effective(step, flow)
	if sel.IsPath() && sel.Value != "" {
		return sel.Value
	}
	return r.DefaultBaseEndpoint
}

// Resolve picks the handle for one step.
func (r *Resolver) Resolve(in Input, lookup Lookup) (*Selection, error) {
	base := r.ResolveBaseEndpoint(in.BaseEndpoint, in.FlowBaseEndpoint)
	sel, level := effective(in.Context, in.FlowContext)

	if !sel.IsPath() {
		return r.defaultSelection(base, level)
	}

	var (
		value any
		found bool
	)
	if lookup != nil {
		value, found = lookup(sel.Value)
	}
	if !found || value == nil {
		return nil, &api.PrerequisiteFailure{
			Path:   sel.Value,
			Reason: fmt.Sprintf("%s-level context selector has no value; an earlier session step may have failed", level),
		}
	}

	h, ok := value.(Handle)
	if !ok {
		return nil, &api.ConfigurationError{
			Field:  "context",
			Reason: fmt.Sprintf("%s-level selector %q resolved to %T, not a session handle", level, sel.Value, value),
		}
	}

	selection := &Selection{Handle: h, BaseEndpoint: h.BaseEndpoint(), Path: sel.Value, Level: level}
	if base != r.DefaultBaseEndpoint && base != h.BaseEndpoint() {
		if rb, ok := h.(Rebaser); ok {
			selection.Handle = rb.WithBaseEndpoint(base)
			selection.BaseEndpoint = base
			selection.Fresh = true
		} else {
			r.logger().Warn("session handle cannot change base endpoint", "path", sel.Value, "base_endpoint", base)
		}
	}
	return selection, nil
}

func (r *Resolver) defaultSelection(base string, level Level) (*Selection, error) {
	if base == r.DefaultBaseEndpoint || r.Factory == nil {
		return &Selection{Handle: r.Default, BaseEndpoint: base, Level: level}, nil
	}

	h, err := r.Factory(base)
	if err != nil {
		return nil, &api.ConfigurationError{Field: "base_endpoint", Reason: fmt.Sprintf("building context for %q", base), Err: err}
	}
	return &Selection{Handle: h, BaseEndpoint: base, Level: level, Fresh: true}, nil
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
