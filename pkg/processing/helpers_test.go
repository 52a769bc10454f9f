package processing

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/systemstart/many-flows/pkg/actions"
	"github.com/systemstart/many-flows/pkg/api"
	"github.com/systemstart/many-flows/pkg/compose"
	"github.com/systemstart/many-flows/pkg/config"
	"github.com/systemstart/many-flows/pkg/session"
)

// writeTestFile writes content below dir, creating parents.
func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

const testLibrary = `
create_item:
  function: core.echo
  parts:
    headers: headers/default.yaml
    payload: payloads/item.yaml
  save_from_response:
    itemId: body.id

read_item:
  function: core.echo
  parts:
    headers: headers/default.yaml
    test_data: data/read.yaml
  save_from_response:
    readEndpoint: request.endpoint

submit:
  function: core.echo
  parts:
    headers: headers/default.yaml
    payload: payloads/submit.yaml
  save_from_request:
    submittedRef: payload.ref

fail:
  function: core.fail
  parts:
    headers: headers/default.yaml

count:
  function: test.count
  parts:
    headers: headers/missing.yaml

login:
  function: test.login
  parts:
    headers: headers/default.yaml
    test_data: data/admin.yaml

login_user:
  function: test.login
  parts:
    headers: headers/default.yaml
    test_data: data/user.yaml
  save_from_response:
    userSession: session

whoami:
  function: test.whoami
  parts:
    headers: headers/default.yaml
  save_from_response:
    lastUser: data
`

type fixture struct {
	root    string
	common  string
	cases   string
	library *api.Library
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:   root,
		common: filepath.Join(root, "common"),
		cases:  filepath.Join(root, "cases"),
	}

	writeTestFile(t, root, "library/main.steps.yaml", testLibrary)
	writeTestFile(t, f.common, "headers/default.yaml", "Accept: application/json\nX-Env: \"{{ run.environmentName }}\"\n")
	writeTestFile(t, f.common, "payloads/item.yaml", "id: 7\nname: widget\n")
	writeTestFile(t, f.common, "payloads/submit.yaml", "ref: \"{{ $uuid }}\"\n")
	writeTestFile(t, f.common, "data/read.yaml", "endpoint: \"/items/{{ flow.itemId }}\"\nmethod: get\n")
	writeTestFile(t, f.common, "data/admin.yaml", "name: admin\n")
	writeTestFile(t, f.common, "data/user.yaml", "name: user\n")

	lib, err := api.LoadLibrary(filepath.Join(root, "library"))
	if err != nil {
		t.Fatalf("loading library: %v", err)
	}
	f.library = lib
	return f
}

// flow writes a flow file into its own case directory and loads it.
func (f *fixture) flow(t *testing.T, caseName, content string) *api.Flow {
	t.Helper()
	path := writeTestFile(t, filepath.Join(f.cases, caseName), caseName+".flow.yaml", content)
	flow, err := api.LoadFlow(path)
	if err != nil {
		t.Fatalf("loading flow: %v", err)
	}
	return flow
}

type fakeHandle struct {
	name string
	base string

	mu       sync.Mutex
	released bool
}

func (h *fakeHandle) Do(context.Context, *session.Request) (*session.Response, error) {
	return &session.Response{Status: 200}, nil
}

func (h *fakeHandle) BaseEndpoint() string { return h.base }

func (h *fakeHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
}

func (h *fakeHandle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

type testActions struct {
	mu       sync.Mutex
	counted  int
	sessions []*fakeHandle
}

func (ta *testActions) register(r *actions.Registry) {
	r.MustRegister("test.count", func(context.Context, *actions.ExecutionContext, *actions.Params, actions.State) (*actions.Result, error) {
		ta.mu.Lock()
		defer ta.mu.Unlock()
		ta.counted++
		return actions.Pass("counted"), nil
	})
	r.MustRegister("test.login", func(_ context.Context, ec *actions.ExecutionContext, p *actions.Params, _ actions.State) (*actions.Result, error) {
		h := &fakeHandle{name: p.String("name", ""), base: ec.BaseEndpoint}
		ta.mu.Lock()
		ta.sessions = append(ta.sessions, h)
		ta.mu.Unlock()
		res := actions.Pass("logged in")
		res.Session = h
		return res, nil
	})
	r.MustRegister("test.whoami", func(_ context.Context, ec *actions.ExecutionContext, _ *actions.Params, _ actions.State) (*actions.Result, error) {
		res := actions.Pass("checked")
		if h, ok := ec.Handle.(*fakeHandle); ok {
			res.Data = h.name
		} else {
			res.Data = "none"
		}
		return res, nil
	})
}

const processBase = "https://default.test"

func newTestRunner(f *fixture, ta *testActions) *Runner {
	reg := actions.DefaultRegistry()
	ta.register(reg)
	return &Runner{
		Library:  f.library,
		Registry: reg,
		Composer: &compose.Composer{CommonDir: f.common, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
		Config:   &config.RunConfiguration{BaseEndpoint: processBase, EnvironmentName: "test"},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Default:  &fakeHandle{name: "default", base: processBase},
		Seed:     1,
		Env:      map[string]string{"HOME": "/home/test"},
	}
}
