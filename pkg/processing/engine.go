package processing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/systemstart/many-flows/pkg/actions"
	"github.com/systemstart/many-flows/pkg/api"
	"github.com/systemstart/many-flows/pkg/compose"
	"github.com/systemstart/many-flows/pkg/config"
	"github.com/systemstart/many-flows/pkg/placeholder"
	"github.com/systemstart/many-flows/pkg/session"
)

// Status is the terminal state of a flow run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Observer is notified as steps and flows finish.
type Observer interface {
	StepFinished(flowID, stepKey, function string, outcome actions.Outcome, d time.Duration)
	FlowFinished(flowID string, status Status, d time.Duration)
}

// StepReport summarises one executed step.
type StepReport struct {
	Key      string
	StepID   string
	Function string
	Outcome  actions.Outcome
	Message  string
	Duration time.Duration
}

// Result is the outcome of one flow run.
type Result struct {
	FlowID    string
	FilePath  string
	Status    Status
	Seed      uint64
	Steps     []StepReport
	Variables map[string]any
	History   *History
	Duration  time.Duration
	Err       error
}

// Runner executes flows against a step library. A Runner may be shared by
// concurrent runs; all per-run state lives inside Run.
type Runner struct {
	Library   *api.Library
	Registry  *actions.Registry
	Composer  *compose.Composer
	Config    *config.RunConfiguration
	Recorder  actions.Recorder
	Observer  Observer
	Logger    *slog.Logger
	Evaluator placeholder.Evaluator

	// Default is the process default handle. When nil, Factory builds one
	// per run for Config.BaseEndpoint.
	Default session.Handle
	Factory session.Factory

	// Seed fixes fake data for every run. Zero picks a random seed per run.
	Seed      uint64
	Strict    bool
	Variables map[string]any
	Env       map[string]string
}

// run is the state of one flow execution.
type run struct {
	flow     *api.Flow
	engine   *placeholder.Engine
	vars     *Variables
	history  *History
	resolver *session.Resolver
	runScope map[string]any
	envScope map[string]string
	owned    []session.Handle
	recorder actions.Recorder
	logger   *slog.Logger
}

// FlowRecorder is implemented by recorders that keep attachments of
// different flows apart.
type FlowRecorder interface {
	ForFlow(flowID string) actions.Recorder
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run executes flow's steps strictly in order. It stops before the next
// step on cancellation, on a configuration or prerequisite error, on an
// action error, or when an action asks to stop. Handles created during the
// run are released before Run returns.
func (r *Runner) Run(ctx context.Context, flow *api.Flow) (*Result, error) {
	start := time.Now()
	logger := r.logger().With("flow", flow.ID)

	cfg := r.Config
	if cfg == nil {
		cfg = &config.RunConfiguration{}
	}

	opts := []placeholder.Option{
		placeholder.WithSeed(r.Seed),
		placeholder.WithLogger(logger),
		placeholder.WithStrict(r.Strict),
	}
	if r.Evaluator != nil {
		opts = append(opts, placeholder.WithEvaluator(r.Evaluator))
	}

	st := &run{
		flow:     flow,
		engine:   placeholder.New(opts...),
		vars:     NewVariables(MergeVariables(r.Variables, flow.Variables)),
		history:  NewHistory(),
		runScope: cfg.Scope(),
		envScope: r.env(),
		recorder: r.Recorder,
		logger:   logger,
	}
	if fr, ok := r.Recorder.(FlowRecorder); ok {
		st.recorder = fr.ForFlow(flow.ID)
	}
	defer st.release()

	res := &Result{FlowID: flow.ID, FilePath: flow.FilePath, Seed: st.engine.Seed(), History: st.history}
	logger.Info("running flow", "steps", len(flow.Steps), "seed", res.Seed)

	err := r.runSteps(ctx, st, cfg, res)

	res.Variables = st.vars.Snapshot()
	res.Duration = time.Since(start)
	res.Status = StatusCompleted
	if err != nil {
		res.Status = StatusAborted
		res.Err = err
		logger.Error("flow aborted", "error", err, "category", api.Category(err))
	} else {
		logger.Info("flow completed", "duration", res.Duration)
	}
	if r.Observer != nil {
		r.Observer.FlowFinished(flow.ID, res.Status, res.Duration)
	}
	return res, err
}

func (r *Runner) runSteps(ctx context.Context, st *run, cfg *config.RunConfiguration, res *Result) error {
	def := r.Default
	if def == nil && r.Factory != nil {
		h, err := r.Factory(cfg.BaseEndpoint)
		if err != nil {
			return &api.ConfigurationError{Field: "base_endpoint", Reason: "building default context", Err: err}
		}
		def = h
		st.owned = append(st.owned, h)
	}
	st.resolver = &session.Resolver{
		Default:             def,
		DefaultBaseEndpoint: cfg.BaseEndpoint,
		Factory:             r.Factory,
		Logger:              st.logger,
	}

	for _, ref := range st.flow.Steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flow %s cancelled before step %q: %w", st.flow.ID, ref.Key(), err)
		}

		stepStart := time.Now()
		report, control, err := r.runStep(ctx, st, cfg, ref)
		report.Duration = time.Since(stepStart)
		if err != nil && report.Outcome == "" {
			report.Outcome = actions.OutcomeFail
			report.Message = err.Error()
		}
		res.Steps = append(res.Steps, report)
		if r.Observer != nil {
			r.Observer.StepFinished(st.flow.ID, report.Key, report.Function, report.Outcome, report.Duration)
		}
		if err != nil {
			return api.WithStep(err, ref.Key())
		}
		if control == actions.Stop {
			return &api.ActionFailure{StepID: ref.Key(), Function: report.Function, Message: report.Message, Data: entryData(st.history, ref.Key())}
		}
	}
	return nil
}

func entryData(h *History, key string) any {
	if e, ok := h.Get(key); ok {
		return e.Data
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, st *run, cfg *config.RunConfiguration, ref api.StepRef) (StepReport, actions.Control, error) {
	key := ref.Key()
	report := StepReport{Key: key, StepID: ref.StepID}
	logger := st.logger.With("step", key)

	step, ok := r.Library.Lookup(ref.StepID)
	if !ok {
		return report, "", &api.ConfigurationError{Field: "step_id", Reason: fmt.Sprintf("step %q is not in the library", ref.StepID)}
	}
	report.Function = step.Function
	logger.Info("running step", "function", step.Function)

	fn, err := r.Registry.Lookup(step.Function)
	if err != nil {
		return report, "", &api.ConfigurationError{Field: "function", Err: err}
	}

	// (a) compose
	raw, err := r.Composer.Compose(st.flow.Dir, step.Parts)
	if err != nil {
		return report, "", err
	}

	// (b) test data, then the context handle
	scopes := placeholder.Scopes{
		api.ScopeFlow:  st.vars,
		api.ScopeSteps: st.history,
		api.ScopeRun:   st.runScope,
		api.ScopeEnv:   st.envScope,
	}
	testData, err := st.engine.ResolveMap(raw.TestData, scopes)
	if err != nil {
		return report, "", err
	}
	scopes = scopes.With(api.ScopeTestData, testData)

	selection, err := r.selectContext(st, ref, scopes)
	if err != nil {
		return report, "", err
	}

	// (c) remaining parameters
	headers, err := st.engine.ResolveMap(raw.Headers, scopes)
	if err != nil {
		return report, "", err
	}
	params := &actions.Params{Headers: headers, TestData: testData}
	if raw.Payload != nil {
		if params.Payload, err = st.engine.Resolve(raw.Payload.Body, scopes); err != nil {
			return report, "", err
		}
		params.Format = raw.Payload.Format
	}

	// (d) pre-invocation extraction
	request := &actions.RequestRecord{
		Endpoint: params.Endpoint(),
		Method:   params.Method(),
		Headers:  params.Headers,
		Payload:  params.Payload,
	}
	if len(step.SaveFromRequest) > 0 {
		root := request.Map()
		root["testData"] = testData
		applyRules(logger, key, "save_from_request", step.SaveFromRequest, root, st.vars)
	}

	// (e) invoke
	ec := &actions.ExecutionContext{
		StepID:       key,
		Handle:       selection.Handle,
		BaseEndpoint: selection.BaseEndpoint,
		Logger:       logger,
		Config:       cfg,
		Recorder:     st.recorder,
	}
	result, err := fn(ctx, ec, params, actions.State{Flow: st.vars.Snapshot(), Steps: st.history.Snapshot()})
	if err != nil {
		return report, "", &api.ActionFailure{Function: step.Function, Message: "action returned an error", Err: err}
	}
	if result == nil {
		return report, "", &api.ActionFailure{Function: step.Function, Message: "action returned no result"}
	}
	normalize(result)
	report.Outcome, report.Message = result.Outcome, result.Message

	// (f) record
	if result.Request == nil {
		result.Request = request
	}
	entry := &Entry{
		Key:      key,
		StepID:   ref.StepID,
		Function: step.Function,
		Outcome:  result.Outcome,
		Message:  result.Message,
		Data:     result.Data,
		Request:  result.Request,
		Response: result.Response,
		Session:  result.Session,
	}
	if err := st.history.Record(entry); err != nil {
		return report, "", &api.ConfigurationError{Field: "as", Err: err}
	}
	if result.Session != nil {
		st.owned = append(st.owned, result.Session)
	}

	// (g) post-invocation extraction
	if len(step.SaveFromResp) > 0 {
		root := result.Response.Map()
		if root == nil {
			root = map[string]any{}
		}
		root["request"] = result.Request.Map()
		root["data"] = result.Data
		root["message"] = result.Message
		root["outcome"] = string(result.Outcome)
		if result.Session != nil {
			root["session"] = result.Session
		}
		applyRules(logger, key, "save_from_response", step.SaveFromResp, root, st.vars)
	}

	logger.Info("step finished", "outcome", result.Outcome, "control", result.Control, "message", result.Message)
	return report, result.Control, nil
}

// selectContext resolves the step's base endpoint and context selector.
func (r *Runner) selectContext(st *run, ref api.StepRef, scopes placeholder.Scopes) (*session.Selection, error) {
	in := session.Input{
		Context:          ref.Context,
		FlowContext:      st.flow.FlowSelector(),
		BaseEndpoint:     st.resolveSelector(ref.BaseEndpoint, scopes),
		FlowBaseEndpoint: st.resolveSelector(st.flow.FlowBaseEndpoint(), scopes),
	}

	sessionScopes := placeholder.Scopes{
		api.ScopeFlow:  scopes[api.ScopeFlow],
		api.ScopeSteps: scopes[api.ScopeSteps],
		api.ScopeRun:   scopes[api.ScopeRun],
	}
	lookup := func(path string) (any, bool) {
		if strings.Contains(path, "{{") {
			v, err := st.engine.Resolve(path, scopes)
			if err != nil {
				return nil, false
			}
			s, ok := v.(string)
			if !ok {
				return v, true
			}
			// a token left verbatim means its prerequisite never ran
			if strings.Contains(s, "{{") {
				return nil, false
			}
			path = s
		}
		return sessionScopes.LookupPath(path)
	}

	selection, err := st.resolver.Resolve(in, lookup)
	if err != nil {
		return nil, err
	}
	if selection.Fresh {
		st.owned = append(st.owned, selection.Handle)
	}
	st.logger.Debug("context selected", "step", ref.Key(), "level", selection.Level, "path", selection.Path, "base_endpoint", selection.BaseEndpoint)
	return selection, nil
}

func (st *run) resolveSelector(sel api.Selector, scopes placeholder.Scopes) api.Selector {
	if !sel.IsPath() {
		return sel
	}
	v, err := st.engine.Resolve(sel.Value, scopes)
	if err != nil {
		return sel
	}
	return api.PathSelector(placeholder.Stringify(v))
}

func (st *run) release() {
	for i := len(st.owned) - 1; i >= 0; i-- {
		session.Release(st.owned[i])
	}
	st.owned = nil
}

// normalize fills in defaults for results that leave outcome or control
// unset: pass, and stop only on failure.
func normalize(res *actions.Result) {
	if res.Outcome == "" {
		res.Outcome = actions.OutcomePass
	}
	if res.Control == "" {
		res.Control = actions.Continue
		if res.Outcome == actions.OutcomeFail {
			res.Control = actions.Stop
		}
	}
}

func (r *Runner) env() map[string]string {
	if r.Env != nil {
		return r.Env
	}
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
