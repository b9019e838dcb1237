// Package mount tracks the viewer instances mounted in the process. Each
// instance is registered explicitly when it is created and deregistered when
// it is destroyed; requests select one by id.
package mount

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Header carries the instance id on data requests. Requests without it are
// served by the most recently registered instance.
const Header = "X-Table-Id"

var (
	// ErrNoInstances is returned when no instance is registered.
	ErrNoInstances = errors.New("mount: no instance registered")
	// ErrNotFound is returned for an id that is not registered.
	ErrNotFound = errors.New("mount: instance not found")
	// ErrDuplicate is returned when an id is registered twice.
	ErrDuplicate = errors.New("mount: instance already registered")
)

// Registry is a thread-safe set of instances keyed by id, remembering
// registration order.
type Registry[T any] struct {
	mu       sync.RWMutex
	items    map[string]T
	order    []string
	onChange func(n int)
}

// NewRegistry creates an empty Registry. onChange, if non-nil, is called with
// the new instance count after every registration and deregistration.
func NewRegistry[T any](onChange func(n int)) *Registry[T] {
	return &Registry[T]{
		items:    make(map[string]T),
		onChange: onChange,
	}
}

// Register adds v under a new random id and returns the id.
func (r *Registry[T]) Register(v T) string {
	id := uuid.NewString()
	if err := r.RegisterID(id, v); err != nil {
		panic(err)
	}
	return id
}

// RegisterID adds v under the given id.
func (r *Registry[T]) RegisterID(id string, v T) error {
	if id == "" {
		return fmt.Errorf("mount: empty instance id")
	}
	r.mu.Lock()
	if _, ok := r.items[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	r.items[id] = v
	r.order = append(r.order, id)
	n := len(r.items)
	r.mu.Unlock()

	r.notify(n)
	return nil
}

// Deregister removes the instance with the given id and reports whether it
// was present.
func (r *Registry[T]) Deregister(id string) (T, bool) {
	r.mu.Lock()
	v, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return v, false
	}
	delete(r.items, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	n := len(r.items)
	r.mu.Unlock()

	r.notify(n)
	return v, true
}

// Get returns the instance with the given id.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[id]
	return v, ok
}

// Latest returns the most recently registered instance still present.
func (r *Registry[T]) Latest() (string, T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		var zero T
		return "", zero, false
	}
	id := r.order[len(r.order)-1]
	return id, r.items[id], true
}

// Resolve returns the instance named by id, or the latest one when id is empty.
func (r *Registry[T]) Resolve(id string) (T, error) {
	if id == "" {
		_, v, ok := r.Latest()
		if !ok {
			return v, ErrNoInstances
		}
		return v, nil
	}
	v, ok := r.Get(id)
	if !ok {
		return v, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v, nil
}

// IDs returns the registered ids in registration order.
func (r *Registry[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of registered instances.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry[T]) notify(n int) {
	if r.onChange != nil {
		r.onChange(n)
	}
}
