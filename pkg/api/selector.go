package api

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SelectorState distinguishes a missing key from an explicit null.
type SelectorState int

const (
	SelectorAbsent SelectorState = iota
	SelectorNull
	SelectorPath
)

func (s SelectorState) String() string {
	switch s {
	case SelectorAbsent:
		return "absent"
	case SelectorNull:
		return "null"
	case SelectorPath:
		return "path"
	default:
		return fmt.Sprintf("SelectorState(%d)", int(s))
	}
}

// Selector is a tri-state reference: absent, explicit null, or a value.
type Selector struct {
	State SelectorState
	Value string
}

// PathSelector returns a selector holding value.
func PathSelector(value string) Selector {
	return Selector{State: SelectorPath, Value: value}
}

// NullSelector returns an explicit-null selector.
func NullSelector() Selector {
	return Selector{State: SelectorNull}
}

func (s Selector) IsAbsent() bool { return s.State == SelectorAbsent }
func (s Selector) IsNull() bool   { return s.State == SelectorNull }
func (s Selector) IsPath() bool   { return s.State == SelectorPath }

func (s Selector) String() string {
	if s.State == SelectorPath {
		return s.Value
	}
	return s.State.String()
}

// selectorFromMapping reads key from a mapping node without folding an
// explicit null into the zero value.
func selectorFromMapping(node *yaml.Node, key string) (Selector, error) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != key {
			continue
		}
		v := node.Content[i+1]
		if v.Kind == yaml.ScalarNode && v.ShortTag() == "!!null" {
			return NullSelector(), nil
		}
		if v.Kind != yaml.ScalarNode {
			return Selector{}, fmt.Errorf("line %d: %s must be a string or null", v.Line, key)
		}
		return PathSelector(v.Value), nil
	}
	return Selector{}, nil
}

// UnmarshalYAML decodes a step reference and its tri-state overrides.
func (r *StepRef) UnmarshalYAML(node *yaml.Node) error {
	type plain StepRef
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}

	var err error
	if p.Context, err = selectorFromMapping(node, "context"); err != nil {
		return err
	}
	if p.BaseEndpoint, err = selectorFromMapping(node, "base_endpoint"); err != nil {
		return err
	}

	*r = StepRef(p)
	return nil
}

// UnmarshalYAML decodes the flow-level default context.
func (d *DefaultContext) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: default_context must be a mapping", node.Line)
	}

	var err error
	if d.Selector, err = selectorFromMapping(node, "selector"); err != nil {
		return err
	}
	if d.BaseEndpoint, err = selectorFromMapping(node, "base_endpoint"); err != nil {
		return err
	}
	return nil
}

// FlowSelector returns the flow-level context selector.
func (f *Flow) FlowSelector() Selector {
	if f.DefaultContext == nil {
		return Selector{}
	}
	return f.DefaultContext.Selector
}

// FlowBaseEndpoint returns the flow-level base endpoint override.
func (f *Flow) FlowBaseEndpoint() Selector {
	if f.DefaultContext == nil {
		return Selector{}
	}
	return f.DefaultContext.BaseEndpoint
}
