package api

const (
	FlowFilePattern    = "**/*.flow.yaml"
	LibraryFilePattern = "**/*.steps.yaml"

	PartHeaders  = "headers"
	PartPayload  = "payload"
	PartTestData = "test_data"

	ScopeFlow     = "flow"
	ScopeSteps    = "steps"
	ScopeTestData = "testData"
	ScopeRun      = "run"
	ScopeEnv      = "env"
)

// Flow is the *.flow.yaml definition format.
type Flow struct {
	ID             string          `yaml:"id"`
	Description    string          `yaml:"description"`
	Tags           []string        `yaml:"tags"`
	DefaultContext *DefaultContext `yaml:"default_context,omitempty"`
	Variables      map[string]any  `yaml:"variables,omitempty"`
	Steps          []StepRef       `yaml:"steps"`

	// Set by the loader, not from YAML.
	Dir      string `yaml:"-"`
	FilePath string `yaml:"-"`
}

// DefaultContext holds the flow-level context selector and base endpoint.
type DefaultContext struct {
	Selector     Selector `yaml:"-"`
	BaseEndpoint Selector `yaml:"-"`
}

// StepRef is one entry of a flow's step list.
type StepRef struct {
	StepID string `yaml:"step_id"`
	As     string `yaml:"as,omitempty"`

	Context      Selector `yaml:"-"`
	BaseEndpoint Selector `yaml:"-"`
}

// Key returns the name the step's history entry is stored under.
func (r StepRef) Key() string {
	if r.As != "" {
		return r.As
	}
	return r.StepID
}

// Step is a reusable step definition from a step library.
type Step struct {
	ID              string            `yaml:"-"`
	Description     string            `yaml:"description"`
	Function        string            `yaml:"function"`
	Parts           Parts             `yaml:"parts"`
	SaveFromRequest map[string]string `yaml:"save_from_request,omitempty"`
	SaveFromResp    map[string]string `yaml:"save_from_response,omitempty"`

	// Set by the loader, not from YAML.
	FilePath string `yaml:"-"`
}

// Parts points at the files a step's parameters are composed from.
type Parts struct {
	Headers  string `yaml:"headers"`
	Payload  string `yaml:"payload"`
	TestData string `yaml:"test_data"`
}

// Library maps step ids to their definitions.
type Library struct {
	Steps map[string]*Step
}

// Lookup returns the step definition for id.
func (l *Library) Lookup(id string) (*Step, bool) {
	if l == nil {
		return nil, false
	}
	s, ok := l.Steps[id]
	return s, ok
}
