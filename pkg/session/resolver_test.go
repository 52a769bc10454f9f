package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemstart/many-flows/pkg/api"
	"github.com/systemstart/many-flows/pkg/session"
)

type fakeHandle struct {
	name     string
	base     string
	released bool
}

func (h *fakeHandle) Do(context.Context, *session.Request) (*session.Response, error) {
	return &session.Response{Status: 200}, nil
}

func (h *fakeHandle) BaseEndpoint() string { return h.base }

func (h *fakeHandle) Release() { h.released = true }

const processBase = "https://default.test"

func newResolver() (*session.Resolver, *fakeHandle, *int) {
	def := &fakeHandle{name: "default", base: processBase}
	built := 0
	r := &session.Resolver{
		Default:             def,
		DefaultBaseEndpoint: processBase,
		Factory: func(base string) (session.Handle, error) {
			built++
			return &fakeHandle{name: "fresh", base: base}, nil
		},
	}
	return r, def, &built
}

func lookupIn(values map[string]any) session.Lookup {
	return func(path string) (any, bool) {
		v, ok := values[path]
		return v, ok
	}
}

func TestResolve_Precedence(t *testing.T) {
	r, def, _ := newResolver()
	stepSession := &fakeHandle{name: "step", base: processBase}
	flowSession := &fakeHandle{name: "flow", base: processBase}
	lookup := lookupIn(map[string]any{"steps.admin.session": stepSession, "flow.session": flowSession})

	tests := []struct {
		name      string
		in        session.Input
		want      session.Handle
		wantLevel session.Level
	}{
		{
			name: "step wins over flow",
			in: session.Input{
				Context:     api.PathSelector("steps.admin.session"),
				FlowContext: api.PathSelector("flow.session"),
			},
			want:      stepSession,
			wantLevel: session.LevelStep,
		},
		{
			name:      "flow used when step absent",
			in:        session.Input{FlowContext: api.PathSelector("flow.session")},
			want:      flowSession,
			wantLevel: session.LevelFlow,
		},
		{
			name:      "process default when both absent",
			in:        session.Input{},
			want:      def,
			wantLevel: session.LevelProcess,
		},
		{
			name: "explicit null at step forces default",
			in: session.Input{
				Context:     api.NullSelector(),
				FlowContext: api.PathSelector("flow.session"),
			},
			want:      def,
			wantLevel: session.LevelStep,
		},
		{
			name:      "explicit null at flow forces default",
			in:        session.Input{FlowContext: api.NullSelector()},
			want:      def,
			wantLevel: session.LevelFlow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := r.Resolve(tt.in, lookup)
			require.NoError(t, err)
			assert.Same(t, tt.want, sel.Handle)
			assert.Equal(t, tt.wantLevel, sel.Level)
			assert.False(t, sel.Fresh)
		})
	}
}

func TestResolve_MissingPathIsPrerequisiteFailure(t *testing.T) {
	r, _, _ := newResolver()

	_, err := r.Resolve(session.Input{Context: api.PathSelector("steps.login.session")}, lookupIn(nil))
	require.Error(t, err)

	var pre *api.PrerequisiteFailure
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, "steps.login.session", pre.Path)
	assert.Contains(t, err.Error(), "steps.login.session")
}

func TestResolve_WrongShapeIsConfigurationError(t *testing.T) {
	r, _, _ := newResolver()
	lookup := lookupIn(map[string]any{"flow.token": "not-a-handle"})

	_, err := r.Resolve(session.Input{Context: api.PathSelector("flow.token")}, lookup)
	require.Error(t, err)

	var cfg *api.ConfigurationError
	assert.True(t, errors.As(err, &cfg))
	var pre *api.PrerequisiteFailure
	assert.False(t, errors.As(err, &pre))
}

func TestResolve_FreshDefaultForOtherBase(t *testing.T) {
	r, def, built := newResolver()

	first, err := r.Resolve(session.Input{FlowBaseEndpoint: api.PathSelector("https://other.test")}, nil)
	require.NoError(t, err)
	second, err := r.Resolve(session.Input{FlowBaseEndpoint: api.PathSelector("https://other.test")}, nil)
	require.NoError(t, err)

	assert.True(t, first.Fresh)
	assert.NotSame(t, first.Handle, second.Handle)
	assert.Equal(t, "https://other.test", first.Handle.BaseEndpoint())
	assert.Equal(t, 2, *built)
	assert.Equal(t, processBase, def.BaseEndpoint())
}

func TestResolveBaseEndpoint(t *testing.T) {
	r, _, _ := newResolver()

	assert.Equal(t, processBase, r.ResolveBaseEndpoint(api.Selector{}, api.Selector{}))
	assert.Equal(t, "https://flow.test", r.ResolveBaseEndpoint(api.Selector{}, api.PathSelector("https://flow.test")))
	assert.Equal(t, "https://step.test", r.ResolveBaseEndpoint(api.PathSelector("https://step.test"), api.PathSelector("https://flow.test")))
	assert.Equal(t, processBase, r.ResolveBaseEndpoint(api.NullSelector(), api.PathSelector("https://flow.test")))
}

func TestResolve_FactoryError(t *testing.T) {
	r, _, _ := newResolver()
	r.Factory = func(string) (session.Handle, error) { return nil, errors.New("boom") }

	_, err := r.Resolve(session.Input{BaseEndpoint: api.PathSelector("https://x.test")}, nil)
	var cfg *api.ConfigurationError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, "base_endpoint", cfg.Field)
}

func TestRelease(t *testing.T) {
	h := &fakeHandle{}
	session.Release(h)
	assert.True(t, h.released)
}

type portableHandle struct {
	fakeHandle
}

func (h *portableHandle) WithBaseEndpoint(base string) session.Handle {
	return &fakeHandle{name: h.name, base: base}
}

func TestResolve_RebasedSessionIsFresh(t *testing.T) {
	r, _, built := newResolver()
	login := &portableHandle{fakeHandle{name: "login", base: processBase}}
	lookup := lookupIn(map[string]any{"steps.login.session": login})

	sel, err := r.Resolve(session.Input{
		Context:      api.PathSelector("steps.login.session"),
		BaseEndpoint: api.PathSelector("https://other.test"),
	}, lookup)
	require.NoError(t, err)

	assert.True(t, sel.Fresh)
	assert.NotSame(t, login, sel.Handle)
	assert.Equal(t, "https://other.test", sel.Handle.BaseEndpoint())
	assert.Equal(t, "https://other.test", sel.BaseEndpoint)
	assert.Equal(t, 0, *built)

	same, err := r.Resolve(session.Input{Context: api.PathSelector("steps.login.session")}, lookup)
	require.NoError(t, err)
	assert.False(t, same.Fresh)
	assert.Same(t, login, same.Handle)
}
