package processing

import (
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadVariablesFile reads a YAML file of initial flow variables.
func LoadVariablesFile(filename string) (map[string]any, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading variables file: %w", err)
	}

	var vars map[string]any
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("parsing variables file: %w", err)
	}

	if vars == nil {
		vars = make(map[string]any)
	}

	return vars, nil
}

// MergeVariables performs a shallow merge of local variables over global
// ones. Local keys override global keys at the top level.
func MergeVariables(global, local map[string]any) map[string]any {
	merged := make(map[string]any, len(global)+len(local))
	maps.Copy(merged, global)
	maps.Copy(merged, local)
	return merged
}

// Variables is the flow-run namespace written by extraction rules. The last
// write wins.
type Variables struct {
	values map[string]any
}

// NewVariables creates a namespace seeded with initial.
func NewVariables(initial map[string]any) *Variables {
	return &Variables{values: MergeVariables(nil, initial)}
}

func (v *Variables) Set(name string, value any) {
	v.values[name] = value
}

func (v *Variables) Get(name string) (any, bool) {
	val, ok := v.values[name]
	return val, ok
}

// Lookup lets placeholder paths walk into the namespace.
func (v *Variables) Lookup(key string) (any, bool) {
	return v.Get(key)
}

// Snapshot returns a shallow copy of the namespace.
func (v *Variables) Snapshot() map[string]any {
	return maps.Clone(v.values)
}
