package actions

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// RenderTemplate renders test_data.template with sprig functions over
// {headers, payload, testData, flow, steps} and attaches the result under
// test_data.label (default "rendered"). The rendered text is the response
// body, so later steps can extract from it. Templates use [[ ]] delimiters
// since {{ }} belongs to placeholders.
func RenderTemplate(_ context.Context, ec *ExecutionContext, params *Params, state State) (*Result, error) {
	src := params.String("template", "")
	if src == "" {
		return nil, fmt.Errorf("test_data.template is empty")
	}

	tmpl, err := template.New(ec.StepID).Delims("[[", "]]").Funcs(sprig.TxtFuncMap()).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}

	data := map[string]any{
		"headers":  params.Headers,
		"payload":  params.Payload,
		"testData": params.TestData,
		"flow":     state.Flow,
		"steps":    state.Steps,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("executing template: %w", err)
	}

	label := params.String("label", "rendered")
	if ec.Recorder != nil {
		if err := ec.Recorder.Attach(ec.StepID, label, params.String("content_type", "text/plain"), buf.Bytes()); err != nil {
			return nil, fmt.Errorf("attaching %s: %w", label, err)
		}
	}

	if ec.Logger != nil {
		ec.Logger.Info("template rendered", "step", ec.StepID, "label", label)
	}

	res := Pass("rendered " + label)
	res.Response = &ResponseRecord{OK: true, Status: 200, Headers: map[string]any{}, Body: buf.String()}
	return res, nil
}
