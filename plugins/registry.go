package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
)

// Name identifies an extension point.
type Name string

// Recognized extension points.
const (
	// AuthorizationGET runs after a code was issued on GET /authorize.
	// Handling it replaces the default redirect.
	AuthorizationGET Name = "authorization-GET"

	// AuthorizationPOST runs on POST /authorize. There is no default behavior.
	AuthorizationPOST Name = "authorization-POST"

	// AccessTokenValidation runs after all built-in grant checks passed.
	AccessTokenValidation Name = "access-token-validation"

	// AccessTokenResponse may add or override fields of the token response body.
	AccessTokenResponse Name = "access-token-response"
)

// knownNames is the fixed set of extension points.
var knownNames = []Name{
	AuthorizationGET,
	AuthorizationPOST,
	AccessTokenValidation,
	AccessTokenResponse,
}

var (
	// ErrDecline is returned by a handler that chooses not to handle an invocation.
	ErrDecline = errors.New("plugin declined")

	// ErrInvalidPlugin is returned when registering under an unknown name.
	ErrInvalidPlugin = errors.New("invalid plugin name")
)

// Request is the context handed to a plugin.
type Request struct {
	// Writer and HTTPRequest are the current HTTP exchange. A handler that
	// handles an authorization extension point owns the response.
	Writer      http.ResponseWriter
	HTTPRequest *http.Request

	ClientID    string
	Code        string
	RedirectURI string
	State       string

	// RedirectURIWithCode is the default redirect target for this code.
	RedirectURIWithCode string

	// Response is the token response body. Only set for AccessTokenResponse.
	Response map[string]any
}

// Func is an extension point handler.
type Func func(ctx context.Context, req *Request) error

// Outcome is the result kind of calling an extension point.
type Outcome int

const (
	// Declined means the caller should run its default behavior.
	Declined Outcome = iota
	// Handled means the handler took over and the caller must not run its default behavior.
	Handled
	// Failed means the handler returned an error other than ErrDecline.
	Failed
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case Failed:
		return "failed"
	default:
		return "declined"
	}
}

// Result is returned from every extension point invocation.
type Result struct {
	Outcome Outcome
	Err     error
}

// Handled reports whether the caller must skip its default behavior.
func (r Result) Handled() bool {
	return r.Outcome == Handled
}

// IsKnown reports whether name is one of the recognized extension points.
func IsKnown(name Name) bool {
	return slices.Contains(knownNames, name)
}

// Registry maps extension points to their handler.
// It is safe for concurrent use, including re-registration at runtime.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Name]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Name]Func),
	}
}

// Register sets the handler for name, replacing any previous handler.
func (r *Registry) Register(name Name, fn Func) error {
	if !IsKnown(name) {
		return fmt.Errorf("plugin name %q: %w", name, ErrInvalidPlugin)
	}
	if fn == nil {
		return fmt.Errorf("plugin %q: handler is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
	return nil
}

// MustRegister is like Register but panics on error.
// Intended for wiring code where the name is a compile-time constant.
func (r *Registry) MustRegister(name Name, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Unregister removes the handler for name, if any.
func (r *Registry) Unregister(name Name) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// UnregisterAll removes every handler.
func (r *Registry) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.handlers)
}

// Registered reports whether a handler is registered for name.
func (r *Registry) Registered(name Name) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns the extension points that currently have a handler, in a stable order.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []Name
	for _, name := range knownNames {
		if _, ok := r.handlers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Call invokes the handler registered for name.
// The handler runs without the registry lock held.
func (r *Registry) Call(ctx context.Context, name Name, req *Request) Result {
	if r == nil {
		return Result{Outcome: Declined}
	}

	r.mu.RLock()
	fn, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return Result{Outcome: Declined}
	}

	err := fn(ctx, req)
	switch {
	case err == nil:
		return Result{Outcome: Handled}
	case errors.Is(err, ErrDecline):
		return Result{Outcome: Declined}
	default:
		return Result{Outcome: Failed, Err: err}
	}
}
