// Package factory maps class names to constructors. Every participant
// registers the same classes before the first collective call.
package factory

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/objects"
	"github.com/danmuck/spectre/internal/variant"
)

var (
	ErrClassExists      = errors.New("factory: class already registered")
	ErrConstructorNil   = errors.New("factory: constructor is nil")
	ErrInvalidClassName = errors.New("factory: invalid class name")
)

// Constructor returns a fresh, unconstructed handle.
type Constructor func() objects.Handle

// Registry stores constructors by class name.
type Registry struct {
	items map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Constructor)}
}

// Register adds a class. Names are trimmed and must be non-empty.
func (r *Registry) Register(name string, ctor Constructor) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidClassName
	}
	if ctor == nil {
		return ErrConstructorNil
	}
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %q", ErrClassExists, name)
	}
	r.items[name] = ctor
	return nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.items[name]
	return ok
}

// Create builds a new handle of class name and runs its construction step.
func (r *Registry) Create(name string, params variant.Map) (objects.Handle, error) {
	ctor, ok := r.items[name]
	if !ok {
		return nil, faults.Wrap(faults.ErrClassNotFound, "%q", name)
	}
	h := ctor()
	if h == nil {
		return nil, fmt.Errorf("%w: %q returned nil", ErrConstructorNil, name)
	}
	if err := h.Construct(params); err != nil {
		return nil, err
	}
	return h, nil
}

// Names returns registered class names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SameClasses reports whether two sorted name lists are identical.
func SameClasses(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
