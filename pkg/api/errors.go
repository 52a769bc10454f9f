package api

import (
	"errors"
	"fmt"
)

// Error categories reported in abort messages.
const (
	CategoryConfiguration = "configuration error"
	CategoryPrerequisite  = "prerequisite failure"
	CategoryAction        = "action failure"
)

// ConfigurationError reports a malformed or missing definition: a missing
// mandatory part, a wrongly shaped context handle, an unknown directive in
// strict mode.
type ConfigurationError struct {
	StepID string
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return formatError(CategoryConfiguration, e.StepID, e.Field, e.Reason, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// PrerequisiteFailure reports an upstream value, usually a session handle,
// that an earlier step did not produce.
type PrerequisiteFailure struct {
	StepID string
	Path   string
	Reason string
}

func (e *PrerequisiteFailure) Error() string {
	return formatError(CategoryPrerequisite, e.StepID, e.Path, e.Reason, nil)
}

// ActionFailure reports a failing action that asked the flow to stop.
type ActionFailure struct {
	StepID   string
	Function string
	Message  string
	Data     any
	Err      error
}

func (e *ActionFailure) Error() string {
	return formatError(CategoryAction, e.StepID, e.Function, e.Message, e.Err)
}

func (e *ActionFailure) Unwrap() error { return e.Err }

func formatError(category, stepID, field, reason string, err error) string {
	msg := category
	if stepID != "" {
		msg += fmt.Sprintf(" in step %q", stepID)
	}
	if field != "" {
		msg += fmt.Sprintf(" at %q", field)
	}
	if reason != "" {
		msg += ": " + reason
	}
	if err != nil {
		msg += ": " + err.Error()
	}
	return msg
}

// WithStep fills in the step id on taxonomy errors that lack one.
func WithStep(err error, stepID string) error {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.StepID == "" {
		cfgErr.StepID = stepID
		return err
	}
	var preErr *PrerequisiteFailure
	if errors.As(err, &preErr) && preErr.StepID == "" {
		preErr.StepID = stepID
		return err
	}
	var actErr *ActionFailure
	if errors.As(err, &actErr) && actErr.StepID == "" {
		actErr.StepID = stepID
	}
	return err
}

// Category names the taxonomy class of err, or "" for other errors.
func Category(err error) string {
	var cfgErr *ConfigurationError
	var preErr *PrerequisiteFailure
	var actErr *ActionFailure
	switch {
	case errors.As(err, &cfgErr):
		return CategoryConfiguration
	case errors.As(err, &preErr):
		return CategoryPrerequisite
	case errors.As(err, &actErr):
		return CategoryAction
	default:
		return ""
	}
}
