package api

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
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

func TestLoadFlow_Valid(t *testing.T) {
	content := `
id: create-and-read
description: create an item then read it back
tags: [smoke, items]
default_context:
  selector: flow.adminSession
  base_endpoint: https://api.example.com
steps:
  - step_id: login
    context: null
  - step_id: create_item
  - step_id: read_item
    base_endpoint: https://read.example.com
`
	dir := t.TempDir()
	f := writeFile(t, dir, "items.flow.yaml", content)

	flow, err := LoadFlow(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(flow.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(flow.Steps))
	}
	if flow.Dir != dir {
		t.Fatalf("expected Dir=%q, got %q", dir, flow.Dir)
	}
	if got := flow.FlowSelector(); !got.IsPath() || got.Value != "flow.adminSession" {
		t.Errorf("unexpected flow selector: %+v", got)
	}
	if got := flow.FlowBaseEndpoint(); got.Value != "https://api.example.com" {
		t.Errorf("unexpected flow base endpoint: %+v", got)
	}
	if !flow.Steps[0].Context.IsNull() {
		t.Errorf("expected explicit null on login, got %v", flow.Steps[0].Context.State)
	}
	if !flow.Steps[1].Context.IsAbsent() {
		t.Errorf("expected absent selector on create_item, got %v", flow.Steps[1].Context.State)
	}
	if flow.Steps[2].BaseEndpoint.Value != "https://read.example.com" {
		t.Errorf("unexpected step base endpoint: %+v", flow.Steps[2].BaseEndpoint)
	}
	if len(flow.Tags) != 2 {
		t.Errorf("expected 2 tags, got %v", flow.Tags)
	}
}

func TestLoadFlow_NullDefaultSelector(t *testing.T) {
	content := `
id: f
default_context:
  selector: ~
steps:
  - step_id: a
`
	f := writeFile(t, t.TempDir(), "f.flow.yaml", content)

	flow, err := LoadFlow(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !flow.FlowSelector().IsNull() {
		t.Fatalf("expected null flow selector, got %v", flow.FlowSelector().State)
	}
	if !flow.FlowBaseEndpoint().IsAbsent() {
		t.Fatalf("expected absent base endpoint, got %v", flow.FlowBaseEndpoint().State)
	}
}

func TestLoadFlow_FileNotFound(t *testing.T) {
	_, err := LoadFlow("/nonexistent/x.flow.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading flow file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadFlow_InvalidYAML(t *testing.T) {
	f := writeFile(t, t.TempDir(), "x.flow.yaml", "{{invalid")

	_, err := LoadFlow(f)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing flow file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadFlow_SelectorMustBeScalar(t *testing.T) {
	content := `
id: f
steps:
  - step_id: a
    context: {name: x}
`
	f := writeFile(t, t.TempDir(), "x.flow.yaml", content)

	_, err := LoadFlow(f)
	if err == nil {
		t.Fatal("expected error for mapping selector")
	}
	if !strings.Contains(err.Error(), "must be a string or null") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadFlow_ValidationFails(t *testing.T) {
	content := `
id: f
steps:
  - step_id: ""
`
	f := writeFile(t, t.TempDir(), "x.flow.yaml", content)

	_, err := LoadFlow(f)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "validating flow") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadStepFile(t *testing.T) {
	content := `
create_item:
  description: create an item
  function: http.request
  parts:
    headers: headers/json.yaml
    payload: payloads/item.json
    test_data: data/create.yaml
  save_from_response:
    itemId: body.id
  save_from_request:
    sentName: payload.name
`
	f := writeFile(t, t.TempDir(), "items.steps.yaml", content)

	steps, err := LoadStepFile(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, ok := steps["create_item"]
	if !ok {
		t.Fatal("expected create_item")
	}
	if s.ID != "create_item" {
		t.Errorf("expected ID to be set, got %q", s.ID)
	}
	if s.FilePath == "" {
		t.Error("expected FilePath to be set")
	}
	if s.SaveFromResp["itemId"] != "body.id" {
		t.Errorf("unexpected save_from_response: %v", s.SaveFromResp)
	}
	if s.SaveFromRequest["sentName"] != "payload.name" {
		t.Errorf("unexpected save_from_request: %v", s.SaveFromRequest)
	}
}

func TestLoadStepFile_Invalid(t *testing.T) {
	f := writeFile(t, t.TempDir(), "bad.steps.yaml", "a:\n  function: http.request\n")

	_, err := LoadStepFile(f)
	if err == nil {
		t.Fatal("expected error for missing headers part")
	}
	if !strings.Contains(err.Error(), "parts.headers is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}
