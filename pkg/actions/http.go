package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/clbanning/mxj/v2"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/systemstart/many-flows/pkg/session"
)

const defaultTimeout = 30 * time.Second

var ErrNoHandle = errors.New("step has no transport handle")

// HTTPOptions tune the handles built by NewHTTPFactory.
type HTTPOptions struct {
	Timeout time.Duration
	// RequestsPerSecond caps the request rate shared by every handle the
	// factory builds, including derived session handles. Zero is unlimited.
	RequestsPerSecond float64
	Burst             int
}

// HTTPHandle is a session.Handle backed by a resty client. Handles built
// with WithHeader or WithBaseEndpoint get their own client.
type HTTPHandle struct {
	base    string
	headers map[string]string
	timeout time.Duration
	limiter *rate.Limiter
	client  *resty.Client
}

// NewHTTPHandle creates a handle resolving relative endpoints against base.
func NewHTTPHandle(base string) *HTTPHandle {
	return newHTTPHandle(base, nil, defaultTimeout, nil)
}

// NewHTTPFactory returns a session.Factory building HTTP handles.
func NewHTTPFactory(opts HTTPOptions) session.Factory {
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := max(opts.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return func(base string) (session.Handle, error) {
		return newHTTPHandle(base, nil, opts.Timeout, limiter), nil
	}
}

func newHTTPHandle(base string, headers map[string]string, timeout time.Duration, limiter *rate.Limiter) *HTTPHandle {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetTimeout(timeout).
		SetHeaders(headers)
	return &HTTPHandle{base: base, headers: headers, timeout: timeout, limiter: limiter, client: client}
}

func (h *HTTPHandle) BaseEndpoint() string { return h.base }

// Headers returns a copy of the headers sent with every request.
func (h *HTTPHandle) Headers() map[string]string {
	return maps.Clone(h.headers)
}

// WithHeader returns a new handle that also sends name: value.
func (h *HTTPHandle) WithHeader(name, value string) *HTTPHandle {
	headers := maps.Clone(h.headers)
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	headers[name] = value
	return newHTTPHandle(h.base, headers, h.timeout, h.limiter)
}

// WithBaseEndpoint returns a copy of the handle pointed at base.
func (h *HTTPHandle) WithBaseEndpoint(base string) session.Handle {
	return newHTTPHandle(base, maps.Clone(h.headers), h.timeout, h.limiter)
}

// Release closes idle connections.
func (h *HTTPHandle) Release() {
	h.client.GetClient().CloseIdleConnections()
}

func (h *HTTPHandle) Do(ctx context.Context, req *session.Request) (*session.Response, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limit: %w", err)
		}
	}
	r := h.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers)
	if req.Body != nil {
		r.SetBody(req.Body)
		if req.ContentType != "" && req.Headers["Content-Type"] == "" {
			r.SetHeader("Content-Type", req.ContentType)
		}
	}

	resp, err := r.Execute(req.Method, req.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Endpoint, err)
	}

	headers := make(map[string]string, len(resp.Header()))
	for name := range resp.Header() {
		headers[name] = resp.Header().Get(name)
	}
	return &session.Response{Status: resp.StatusCode(), Headers: headers, Body: resp.Body()}, nil
}

// Request sends test_data.method to test_data.endpoint through the step's
// handle. A status other than test_data.expected_status (or any non-2xx
// when unset) fails the step; test_data.stop_on_failure defaults to true.
func Request(ctx context.Context, ec *ExecutionContext, params *Params, _ State) (*Result, error) {
	res, _, err := exchange(ctx, ec, params)
	return res, err
}

// Session is Request followed by building a session handle that sends the
// token found at test_data.session.token_path (gjson syntax, default
// "token") in test_data.session.header (default Authorization), prefixed by
// test_data.session.prefix.
func Session(ctx context.Context, ec *ExecutionContext, params *Params, _ State) (*Result, error) {
	res, raw, err := exchange(ctx, ec, params)
	if err != nil || res.Outcome != OutcomePass {
		return res, err
	}

	tokenPath := params.String("session.token_path", "token")
	token := gjson.GetBytes(raw, tokenPath)
	if !token.Exists() || token.String() == "" {
		failed := Fail(fmt.Sprintf("no session token at %q", tokenPath), !params.Bool("stop_on_failure", true))
		failed.Request, failed.Response = res.Request, res.Response
		return failed, nil
	}

	base, ok := ec.Handle.(*HTTPHandle)
	if !ok {
		base = NewHTTPHandle(ec.BaseEndpoint)
	}
	header := params.String("session.header", "Authorization")
	res.Session = base.WithHeader(header, params.String("session.prefix", "")+token.String())
	res.Message = "session established"

	if ec.Logger != nil {
		ec.Logger.Info("session created", "step", ec.StepID, "header", header)
	}
	return res, nil
}

func exchange(ctx context.Context, ec *ExecutionContext, params *Params) (*Result, []byte, error) {
	if ec.Handle == nil {
		return nil, nil, ErrNoHandle
	}

	body, contentType, err := params.EncodePayload()
	if err != nil {
		return nil, nil, err
	}

	req := &session.Request{
		Method:      params.Method(),
		Endpoint:    params.Endpoint(),
		Headers:     params.StringHeaders(),
		Body:        body,
		ContentType: contentType,
	}
	record := &RequestRecord{Endpoint: req.Endpoint, Method: req.Method, Headers: params.Headers, Payload: params.Payload}

	resp, err := ec.Handle.Do(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	expected := params.Int("expected_status", 0)
	ok := resp.Status >= 200 && resp.Status < 300
	if expected != 0 {
		ok = resp.Status == expected
	}

	respHeaders := make(map[string]any, len(resp.Headers))
	for k, v := range resp.Headers {
		respHeaders[k] = v
	}
	response := &ResponseRecord{OK: ok, Status: resp.Status, Headers: respHeaders, Body: DecodeBody(resp.Body, resp.Headers["Content-Type"])}

	if ec.Recorder != nil && len(resp.Body) > 0 {
		if err := ec.Recorder.Attach(ec.StepID, "response", resp.Headers["Content-Type"], resp.Body); err != nil && ec.Logger != nil {
			ec.Logger.Warn("failed to attach response", "step", ec.StepID, "error", err)
		}
	}

	var res *Result
	if ok {
		res = Pass(fmt.Sprintf("%s %s returned %d", req.Method, req.Endpoint, resp.Status))
	} else {
		msg := fmt.Sprintf("%s %s returned %d", req.Method, req.Endpoint, resp.Status)
		if expected != 0 {
			msg += fmt.Sprintf(", expected %d", expected)
		}
		res = Fail(msg, !params.Bool("stop_on_failure", true))
	}
	res.Request, res.Response = record, response
	return res, resp.Body, nil
}

// DecodeBody turns a response body into structured data: JSON as objects
// with integer numbers kept as ints, XML as an mxj map, anything else as a
// string.
func DecodeBody(body []byte, contentType string) any {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		var v any
		if err := yaml.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	if strings.Contains(contentType, "xml") {
		if m, err := mxj.NewMapXml(body); err == nil {
			return map[string]any(m)
		}
	}
	return string(body)
}
