package processing

import (
	"fmt"

	"github.com/systemstart/many-flows/pkg/actions"
	"github.com/systemstart/many-flows/pkg/placeholder"
	"github.com/systemstart/many-flows/pkg/session"
)

// Entry is the immutable record of one executed step.
type Entry struct {
	Key      string
	StepID   string
	Function string
	Outcome  actions.Outcome
	Message  string
	Data     any
	Request  *actions.RequestRecord
	Response *actions.ResponseRecord
	Session  session.Handle
}

// Map returns the entry as a placeholder-addressable object:
// {request, response, outcome, message, data, session}.
func (e *Entry) Map() map[string]any {
	m := map[string]any{
		"request":  e.Request.Map(),
		"response": e.Response.Map(),
		"outcome":  string(e.Outcome),
		"message":  e.Message,
		"data":     e.Data,
	}
	if e.Session != nil {
		m["session"] = e.Session
	}
	return m
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Data = placeholder.Clone(e.Data)
	if e.Request != nil {
		req := *e.Request
		req.Headers, _ = placeholder.Clone(e.Request.Headers).(map[string]any)
		req.Payload = placeholder.Clone(e.Request.Payload)
		c.Request = &req
	}
	if e.Response != nil {
		resp := *e.Response
		resp.Headers, _ = placeholder.Clone(e.Response.Headers).(map[string]any)
		resp.Body = placeholder.Clone(e.Response.Body)
		c.Response = &resp
	}
	return &c
}

// History is the append-only record of a flow run, keyed by history key.
type History struct {
	entries map[string]*Entry
	order   []string
}

func NewHistory() *History {
	return &History{entries: make(map[string]*Entry)}
}

// Record appends a copy of e. Entries are never overwritten, and the stored
// request, response and data do not share memory with the caller's.
func (h *History) Record(e *Entry) error {
	if _, exists := h.entries[e.Key]; exists {
		return fmt.Errorf("history already has an entry for %q", e.Key)
	}
	h.entries[e.Key] = e.clone()
	h.order = append(h.order, e.Key)
	return nil
}

func (h *History) Get(key string) (*Entry, bool) {
	e, ok := h.entries[key]
	return e, ok
}

// Keys lists history keys in execution order.
func (h *History) Keys() []string {
	return append([]string(nil), h.order...)
}

// Lookup lets placeholder paths such as steps.login.response.body walk into
// the history.
func (h *History) Lookup(key string) (any, bool) {
	e, ok := h.entries[key]
	if !ok {
		return nil, false
	}
	return e.Map(), true
}

// Snapshot returns every entry as a plain object.
func (h *History) Snapshot() map[string]any {
	out := make(map[string]any, len(h.entries))
	for key, e := range h.entries {
		out[key] = e.Map()
	}
	return out
}

// Sessions returns the session handles recorded so far.
func (h *History) Sessions() []session.Handle {
	var out []session.Handle
	for _, key := range h.order {
		if s := h.entries[key].Session; s != nil {
			out = append(out, s)
		}
	}
	return out
}
