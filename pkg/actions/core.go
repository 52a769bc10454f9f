package actions

import (
	"context"
)

// Echo performs no I/O. Its response body is the resolved payload, or the
// test data when there is no payload, which makes it useful for seeding
// flow variables.
func Echo(_ context.Context, ec *ExecutionContext, params *Params, _ State) (*Result, error) {
	body := params.Payload
	if body == nil {
		body = params.TestData
	}

	status := params.Int("status", 200)
	ok := status >= 200 && status < 300

	res := Pass("echoed")
	if !ok {
		res = Fail("echoed non-success status", params.Bool("continue", false))
	}
	res.Request = &RequestRecord{
		Endpoint: params.Endpoint(),
		Method:   params.Method(),
		Headers:  params.Headers,
		Payload:  params.Payload,
	}
	res.Response = &ResponseRecord{OK: ok, Status: status, Headers: map[string]any{}, Body: body}

	if ec.Logger != nil {
		ec.Logger.Debug("echo action", "step", ec.StepID, "status", status)
	}
	return res, nil
}

// Failing always reports failure. test_data.continue keeps the flow going,
// test_data.message overrides the message.
func Failing(_ context.Context, _ *ExecutionContext, params *Params, _ State) (*Result, error) {
	res := Fail(params.String("message", "step failed"), params.Bool("continue", false))
	res.Data = params.TestData
	return res, nil
}
