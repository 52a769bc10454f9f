package api

import (
	"fmt"
	"strings"
)

// Validate checks the flow definition for errors.
func (f *Flow) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("flow id is required")
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %q has no steps", f.ID)
	}

	if err := validateSelector("default_context.selector", f.FlowSelector()); err != nil {
		return err
	}
	if err := validateSelector("default_context.base_endpoint", f.FlowBaseEndpoint()); err != nil {
		return err
	}

	keys := make(map[string]int)
	for i, ref := range f.Steps {
		if ref.StepID == "" {
			return fmt.Errorf("step %d: step_id is required", i)
		}
		if prev, exists := keys[ref.Key()]; exists {
			return fmt.Errorf("step %d: duplicate history key %q (first used at step %d); set \"as\" to disambiguate", i, ref.Key(), prev)
		}
		keys[ref.Key()] = i

		if err := validateSelector("context", ref.Context); err != nil {
			return fmt.Errorf("step %q: %w", ref.Key(), err)
		}
		if err := validateSelector("base_endpoint", ref.BaseEndpoint); err != nil {
			return fmt.Errorf("step %q: %w", ref.Key(), err)
		}
	}

	return nil
}

// ValidateAgainst checks that every referenced step exists in lib and that
// each step's function is known.
func (f *Flow) ValidateAgainst(lib *Library, knownFunction func(string) bool) error {
	for _, ref := range f.Steps {
		step, ok := lib.Lookup(ref.StepID)
		if !ok {
			return &ConfigurationError{StepID: ref.Key(), Field: "step_id", Reason: fmt.Sprintf("step %q not found in library", ref.StepID)}
		}
		if knownFunction != nil && !knownFunction(step.Function) {
			return &ConfigurationError{StepID: ref.Key(), Field: "function", Reason: fmt.Sprintf("unknown action function %q", step.Function)}
		}
	}
	return nil
}

// Validate checks a single step definition.
func (s *Step) Validate() error {
	if s.Function == "" {
		return fmt.Errorf("function is required")
	}
	if !strings.Contains(s.Function, ".") {
		return fmt.Errorf("function %q must be namespaced (namespace.name)", s.Function)
	}
	if s.Parts.Headers == "" {
		return fmt.Errorf("parts.headers is required")
	}
	for name, query := range s.SaveFromResp {
		if query == "" {
			return fmt.Errorf("save_from_response.%s: query is required", name)
		}
	}
	for name, query := range s.SaveFromRequest {
		if query == "" {
			return fmt.Errorf("save_from_request.%s: query is required", name)
		}
	}
	return nil
}

func validateSelector(field string, s Selector) error {
	if s.IsPath() && strings.TrimSpace(s.Value) == "" {
		return fmt.Errorf("%s is empty; use null to select the default context", field)
	}
	return nil
}
