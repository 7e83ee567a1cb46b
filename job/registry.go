package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts the raw payload.
// The typed Definition[T] is converted to a HandlerFunc at registration
// time by closing over JSON unmarshal + the typed handler.
//
// A returned error marks the attempt as failed; whether the job retries
// is an explicit classification: plain errors are retryable, errors
// wrapped with Fatal are not.
type HandlerFunc func(ctx context.Context, j *Job) error

// Registry maps queue types to their consumer handlers. Each queue type
// has exactly one consumer. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]HandlerFunc
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Type]HandlerFunc),
	}
}

// Register registers a raw handler for the given queue type, replacing
// any previous handler.
func (r *Registry) Register(t Type, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// RegisterDefinition registers a typed job definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into
// T before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, j *Job) error {
		var t T
		if len(j.Payload) > 0 {
			if err := json.Unmarshal(j.Payload, &t); err != nil {
				// A payload that cannot decode will never decode;
				// retrying is pointless.
				return Fatal(fmt.Errorf("unmarshal payload for queue %q: %w", def.Type, err))
			}
		}
		return def.Handler(ctx, t)
	}
	r.Register(def.Type, handler)
}

// Get returns the handler for the given queue type.
// Returns false if no handler is registered.
func (r *Registry) Get(t Type) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns all queue types with a registered handler.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Definition is a typed consumer definition for one queue type.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the queue this consumer serves.
	Type Type

	// Handler processes one decoded payload. Return nil on success, a
	// plain error to trigger retry, or Fatal(err) to fail terminally.
	Handler func(ctx context.Context, payload T) error
}

// NewDefinition creates a typed consumer definition.
func NewDefinition[T any](t Type, handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{Type: t, Handler: handler}
}

// fatalError marks a handler error as non-retryable.
type fatalError struct {
	err error
}

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal wraps err so the queue runtime fails the job immediately
// instead of retrying. The retry decision is an explicit classification
// on the returned error, not an interpretation of its content.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err (or anything it wraps) was marked with Fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}
