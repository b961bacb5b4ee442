package jrpc

import (
	"context"
	"sort"
)

// Registry maps method names to descriptors. It is populated during
// setup and read-only while serving; registering methods concurrently
// with dispatch is not supported.
type Registry struct {
	methods map[string]*Method
}

// NewRegistry creates an empty method registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*Method)}
}

// Add registers a method descriptor. When the name is already present
// and replace is false it fails with *NameCollisionError and leaves
// the registry untouched.
func (r *Registry) Add(m *Method, replace bool) error {
	if _, exists := r.methods[m.name]; exists && !replace {
		return &NameCollisionError{Name: m.name}
	}
	r.methods[m.name] = m
	return nil
}

// AddMany registers a set of descriptors atomically: every name is
// validated first and nothing is committed if any of them collides
// (with each other or with existing entries), unless replace is set.
func (r *Registry) AddMany(ms []*Method, replace bool) error {
	if !replace {
		seen := make(map[string]struct{}, len(ms))
		for _, m := range ms {
			if _, exists := r.methods[m.name]; exists {
				return &NameCollisionError{Name: m.name}
			}
			if _, dup := seen[m.name]; dup {
				return &NameCollisionError{Name: m.name}
			}
			seen[m.name] = struct{}{}
		}
	}
	for _, m := range ms {
		r.methods[m.name] = m
	}
	return nil
}

// AddFunc builds a descriptor from fn and registers it.
func (r *Registry) AddFunc(fn any, opts ...MethodOption) error {
	m, err := NewMethod(fn, opts...)
	if err != nil {
		return err
	}
	return r.Add(m, false)
}

// Get returns the descriptor for the given method name.
func (r *Registry) Get(name string) (*Method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

// Names returns all registered method names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns an introspection snapshot of every registered
// method.
func (r *Registry) Describe() map[string]MethodInfo {
	out := make(map[string]MethodInfo, len(r.methods))
	for name, m := range r.methods {
		out[name] = m.Info()
	}
	return out
}

// AddIntrospection registers the get_method and get_methods built-ins
// over this registry.
func (r *Registry) AddIntrospection() error {
	getMethods := func(ctx context.Context) (map[string]MethodInfo, error) {
		return r.Describe(), nil
	}
	getMethod := func(ctx context.Context, p struct {
		Name string `json:"name"`
	}) (*MethodInfo, error) {
		m, ok := r.Get(p.Name)
		if !ok {
			return nil, nil
		}
		info := m.Info()
		return &info, nil
	}
	return r.AddMany([]*Method{
		MustMethod(getMethods, WithName("get_methods"), WithDoc("Describe every registered method.")),
		MustMethod(getMethod, WithName("get_method"), WithDoc("Describe one method by name.")),
	}, false)
}
