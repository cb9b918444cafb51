// Package remote is the boundary to the remote resource service. Everything
// above it talks to the service through Doer and sees only APIError and
// TransportError failures.
package remote

import (
	"context"
	"encoding/json"
	"net/url"
)

// Request is one call to the remote resource service.
type Request struct {
	// Method is the HTTP verb
	Method string
	// Path is relative to the service base, e.g. "loans/42/installments"
	Path string
	// Route is the path template used as a metrics label, e.g. "loans/{id}"
	Route string
	// Query holds optional query parameters
	Query url.Values
	// Body is marshalled as JSON when non-nil
	Body interface{}
}

// Label returns the route template, falling back to the path.
func (r Request) Label() string {
	if r.Route != "" {
		return r.Route
	}
	return r.Path
}

// Doer executes requests against the remote resource service. A nil
// RawMessage with a nil error means the call succeeded with no body.
type Doer interface {
	Do(ctx context.Context, req Request) (json.RawMessage, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(ctx context.Context, req Request) (json.RawMessage, error)

// Do calls f.
func (f DoerFunc) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}
