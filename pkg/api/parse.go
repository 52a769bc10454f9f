package api

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadFlow reads a *.flow.yaml file, sets Dir/FilePath, and validates it.
func LoadFlow(filename string) (*Flow, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading flow file: %w", err)
	}

	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing flow file: %w", err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	f.FilePath = absPath
	f.Dir = filepath.Dir(absPath)

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validating flow %s: %w", filename, err)
	}

	return &f, nil
}

// LoadStepFile reads a *.steps.yaml file mapping step ids to definitions.
func LoadStepFile(filename string) (map[string]*Step, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading step file: %w", err)
	}

	var steps map[string]*Step
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parsing step file: %w", err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	for id, s := range steps {
		if s == nil {
			return nil, fmt.Errorf("step %q in %s: definition is empty", id, filename)
		}
		s.ID = id
		s.FilePath = absPath
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("step %q in %s: %w", id, filename, err)
		}
	}

	return steps, nil
}
