package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/systemstart/many-flows/pkg/compose"
	"github.com/systemstart/many-flows/pkg/config"
	"github.com/systemstart/many-flows/pkg/placeholder"
	"github.com/systemstart/many-flows/pkg/session"
)

// Outcome is what an action reports about its own effect.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
	OutcomeSkip Outcome = "skip"
)

// Control tells the sequencer whether to run the next step.
type Control string

const (
	Continue Control = "continue"
	Stop     Control = "stop"
)

// Recorder persists a labelled blob against the current step.
type Recorder interface {
	Attach(stepID, label, contentType string, data []byte) error
}

// ExecutionContext is the per-step bundle an action runs with.
type ExecutionContext struct {
	StepID       string
	Handle       session.Handle
	BaseEndpoint string
	Logger       *slog.Logger
	Config       *config.RunConfiguration
	Recorder     Recorder
}

// Params are a step's resolved parameters.
type Params struct {
	Headers  map[string]any
	Payload  any
	Format   compose.Format
	TestData map[string]any
}

// State is a read-only view of the flow run so far.
type State struct {
	Flow  map[string]any
	Steps map[string]any
}

// RequestRecord is the effective outbound request of a step.
type RequestRecord struct {
	Endpoint string
	Method   string
	Headers  map[string]any
	Payload  any
}

// Map returns the record as a placeholder-addressable object.
func (r *RequestRecord) Map() map[string]any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"endpoint": r.Endpoint,
		"method":   r.Method,
		"headers":  r.Headers,
		"payload":  r.Payload,
	}
}

// ResponseRecord is the inbound outcome of a step.
type ResponseRecord struct {
	OK      bool
	Status  int
	Headers map[string]any
	Body    any
}

// Map returns the record as a placeholder-addressable object.
func (r *ResponseRecord) Map() map[string]any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"ok":      r.OK,
		"status":  r.Status,
		"headers": r.Headers,
		"body":    r.Body,
	}
}

// Result is the contract every action returns.
type Result struct {
	Outcome  Outcome
	Control  Control
	Message  string
	Data     any
	Request  *RequestRecord
	Response *ResponseRecord

	// Session is a handle produced by this step for later steps to select.
	Session session.Handle
}

// Func is an action implementation.
type Func func(ctx context.Context, ec *ExecutionContext, params *Params, state State) (*Result, error)

// Endpoint returns test_data.endpoint.
func (p *Params) Endpoint() string {
	return p.String("endpoint", "")
}

// Method returns test_data.method, defaulting to GET.
func (p *Params) Method() string {
	return strings.ToUpper(p.String("method", "GET"))
}

// String reads a test_data field as a string.
func (p *Params) String(key, def string) string {
	v, ok := placeholder.WalkPath(p.TestData, key)
	if !ok || v == nil {
		return def
	}
	return placeholder.Stringify(v)
}

// Bool reads a test_data field as a boolean.
func (p *Params) Bool(key string, def bool) bool {
	v, ok := placeholder.WalkPath(p.TestData, key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	default:
		return def
	}
}

// Int reads a test_data field as an integer.
func (p *Params) Int(key string, def int) int {
	v, ok := placeholder.WalkPath(p.TestData, key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		var i int
		if _, err := fmt.Sscan(n, &i); err == nil {
			return i
		}
	}
	return def
}

// StringHeaders flattens the resolved headers for a transport.
func (p *Params) StringHeaders() map[string]string {
	out := make(map[string]string, len(p.Headers))
	for k, v := range p.Headers {
		out[k] = placeholder.Stringify(v)
	}
	return out
}

// EncodePayload serializes the resolved payload into its origin format.
func (p *Params) EncodePayload() ([]byte, string, error) {
	if p.Payload == nil {
		return nil, "", nil
	}
	format := p.Format
	if format == "" {
		format = compose.FormatJSON
	}
	payload := &compose.Payload{Format: format}
	data, err := payload.Encode(p.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("encoding payload: %w", err)
	}
	return data, payload.ContentType(), nil
}

// Pass returns a passing result.
func Pass(message string) *Result {
	return &Result{Outcome: OutcomePass, Control: Continue, Message: message}
}

// Fail returns a failing result that stops the flow unless keepGoing.
func Fail(message string, keepGoing bool) *Result {
	control := Stop
	if keepGoing {
		control = Continue
	}
	return &Result{Outcome: OutcomeFail, Control: control, Message: message}
}
