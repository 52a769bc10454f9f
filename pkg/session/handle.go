// Package session decides which execution handle and base endpoint a step
// runs against.
package session

import (
	"context"
)

// Request is one transport operation issued through a Handle.
type Request struct {
	Method      string
	Endpoint    string
	Headers     map[string]string
	Body        []byte
	ContentType string
}

// Response is what a Handle returns for a Request.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Handle is the capability a step's action performs transport operations
// through. Sessions produced by one step (for example a login) are Handles
// that later steps reference by path.
type Handle interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	BaseEndpoint() string
}

// Releaser is implemented by handles that hold resources until released.
type Releaser interface {
	Release()
}

// Rebaser is implemented by handles that can be pointed at another base
// endpoint without affecting the original.
type Rebaser interface {
	WithBaseEndpoint(base string) Handle
}

// Factory builds a new default handle for base.
type Factory func(base string) (Handle, error)

// Release releases h if it holds resources.
func Release(h Handle) {
	if r, ok := h.(Releaser); ok {
		r.Release()
	}
}
