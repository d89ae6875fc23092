// Package registry holds the process-wide mapping from function name to
// handler and configuration. Registration is idempotent by name: the last
// call wins and the map never grows for a repeated name (spec.md I6/P7).
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fnharness/devbridge/schema"
)

// ErrFunctionNotFound is returned by Execute when name has no registration.
var ErrFunctionNotFound = errors.New("function not found in registry")

// Handler is the user code invoked for one function call. invocationCtx is
// the protocol-level context object (session, invocation id, region, and any
// passthrough fields) — distinct from the Go ctx, which carries cancellation
// and tracing only.
type Handler func(ctx context.Context, invocationCtx map[string]any, params map[string]any) (any, error)

// Config is the per-function configuration carried alongside a Handler.
type Config struct {
	// SessionConfig is forwarded verbatim to the SessionProvider.
	SessionConfig map[string]any
	// ParametersSchema, when non-nil, validates params before Handler runs.
	ParametersSchema *schema.Validator
}

// Manifest is one registered function: its handler and configuration.
type Manifest struct {
	Name    string
	Handler Handler
	Config  Config
}

// Registry is the in-process function table. Zero value is unusable; use New.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]*Manifest
	onFirst   func()
}

// New returns an empty Registry. onFirstRegistration, if non-nil, is called
// exactly once, synchronously, the moment the registry transitions from size
// 0 to size 1 — the signal the manifest emitter uses to know it is the first
// write of this process run (spec.md §4.3: "First is detected by registry
// size transitioning to 1").
func New(onFirstRegistration func()) *Registry {
	return &Registry{
		functions: make(map[string]*Manifest),
		onFirst:   onFirstRegistration,
	}
}

// Register inserts or replaces the manifest for name. Re-registering an
// existing name replaces it in place; Size does not grow.
func (r *Registry) Register(name string, handler Handler, cfg Config) {
	r.mu.Lock()
	_, existed := r.functions[name]
	r.functions[name] = &Manifest{Name: name, Handler: handler, Config: cfg}
	becameFirst := !existed && len(r.functions) == 1
	onFirst := r.onFirst
	r.mu.Unlock()

	if becameFirst && onFirst != nil {
		onFirst()
	}
}

// GetByName returns the manifest registered under name, or nil if absent.
// Lookup is exact-match and case-sensitive; any string is a valid key.
func (r *Registry) GetByName(name string) *Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.functions[name]
}

// Size returns the number of distinct registered names.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.functions)
}

// Execute looks up name, optionally validates params against its schema,
// and invokes its handler. A missing name returns ErrFunctionNotFound;
// handler panics are not recovered here — callers (the runtime loop) decide
// how thrown/returned errors are normalized.
func (r *Registry) Execute(ctx context.Context, name string, invocationCtx, params map[string]any) (any, error) {
	m := r.GetByName(name)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrFunctionNotFound, name)
	}
	if m.Config.ParametersSchema != nil {
		if err := m.Config.ParametersSchema.Validate(params); err != nil {
			return nil, &ValidationError{Name: name, Err: err}
		}
	}
	return m.Handler(ctx, invocationCtx, params)
}

// ValidationError marks a parameter-schema failure as a user error distinct
// from a missing-function or handler-thrown error.
type ValidationError struct {
	Name string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("function %q: invalid params: %v", e.Name, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
