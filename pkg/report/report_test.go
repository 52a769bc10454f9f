package report

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/systemstart/many-flows/pkg/actions"
	"github.com/systemstart/many-flows/pkg/api"
	"github.com/systemstart/many-flows/pkg/processing"
)

func TestOpen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "reports")
	s, err := Open(root, false)
	require.NoError(t, err)

	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, filepath.Join(root, s.RunID), s.Dir())
	assert.DirExists(t, s.Dir())

	_, err = Open("", false)
	assert.Error(t, err)
}

func TestOpen_Overwrite(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o600))

	_, err := Open(root, true)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

func TestAttach(t *testing.T) {
	s, err := Open(t.TempDir(), false)
	require.NoError(t, err)

	rec := s.ForFlow("items flow")
	require.NoError(t, rec.Attach("create", "response", "application/json; charset=utf-8", []byte(`{"id":1}`)))
	require.NoError(t, rec.Attach("create", "response", "application/json", []byte(`{"id":2}`)))
	require.NoError(t, rec.Attach("render", "../escape", "", []byte("plain")))
	require.NoError(t, s.Attach("solo", "feed", "application/xml", []byte("<a/>")))

	dir := filepath.Join(s.Dir(), "items_flow")
	data, err := os.ReadFile(filepath.Join(dir, "create", "response.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(data))

	data, err = os.ReadFile(filepath.Join(dir, "create", "response-1.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":2}`, string(data))

	assert.FileExists(t, filepath.Join(dir, "render", ".._escape.txt"))
	assert.FileExists(t, filepath.Join(s.Dir(), "_", "solo", "feed.xml"))
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"application/json":         ".json",
		"application/problem+json": ".json",
		"text/xml":                 ".xml",
		"application/yaml":         ".yaml",
		"text/html; charset=utf-8": ".html",
		"text/plain":               ".txt",
		"image/png":                ".bin",
		"":                         ".txt",
	}
	for contentType, want := range tests {
		assert.Equal(t, want, extension(contentType), contentType)
	}
}

func TestSummary(t *testing.T) {
	results := []*processing.Result{
		{
			FlowID:   "ok",
			FilePath: "cases/ok/ok.flow.yaml",
			Status:   processing.StatusCompleted,
			Seed:     7,
			Duration: time.Second,
			Steps: []processing.StepReport{
				{Key: "create", StepID: "create", Function: "core.echo", Outcome: actions.OutcomePass, Duration: time.Millisecond},
			},
		},
		nil,
		{
			FlowID: "bad",
			Status: processing.StatusAborted,
			Err:    api.WithStep(&api.ActionFailure{Function: "core.fail", Message: "boom"}, "fail"),
			Steps: []processing.StepReport{
				{Key: "fail", StepID: "fail", Function: "core.fail", Outcome: actions.OutcomeFail, Message: "boom"},
			},
		},
	}

	sum := Summarize("run-1", "staging", results)
	assert.Equal(t, 1, sum.Passed)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Flows, 2)
	assert.Equal(t, api.CategoryAction, sum.Flows[1].Category)
	assert.Contains(t, sum.Flows[1].Error, "boom")
	assert.Empty(t, sum.Flows[0].Error)

	s, err := Open(t.TempDir(), false)
	require.NoError(t, err)
	path, err := s.WriteSummary(sum)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Summary
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Equal(t, uint64(7), decoded.Flows[0].Seed)
	assert.Equal(t, "pass", decoded.Flows[0].Steps[0].Outcome)
}

func TestSummary_PlainError(t *testing.T) {
	sum := Summarize("r", "", []*processing.Result{{FlowID: "x", Status: processing.StatusAborted, Err: errors.New("cancelled")}})
	assert.Equal(t, "", sum.Flows[0].Category)
	assert.Equal(t, "cancelled", sum.Flows[0].Error)
}
