package roles

import (
	"fmt"
	"sort"
	"sync"

	"agentflow/pkg/proto"
)

// Factory builds the agent for one role.
type Factory func(Deps) (Agent, error)

// Registry maps roles to factories. Adding a role never touches the engine.
type Registry struct {
	factories map[proto.Role]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[proto.Role]Factory)}
}

// DefaultRegistry registers the five built-in roles.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(proto.RoleCoordinator, func(d Deps) (Agent, error) { return NewCoordinator(d) })
	r.Register(proto.RolePlanner, func(d Deps) (Agent, error) { return NewPlanner(d) })
	r.Register(proto.RoleImplementer, func(d Deps) (Agent, error) { return NewImplementer(d) })
	r.Register(proto.RoleVerifier, func(d Deps) (Agent, error) { return NewVerifier(d) })
	r.Register(proto.RoleReviewer, func(d Deps) (Agent, error) { return NewReviewer(d) })
	return r
}

// Register binds role to f, replacing any previous factory.
func (r *Registry) Register(role proto.Role, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[role] = f
}

// Roles returns the registered roles, sorted.
func (r *Registry) Roles() []proto.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]proto.Role, 0, len(r.factories))
	for role := range r.factories {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds the agent for role. ok is false when role is not registered.
func (r *Registry) New(role proto.Role, deps Deps) (a Agent, ok bool, err error) {
	r.mu.RLock()
	f, ok := r.factories[role]
	r.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	a, err = f(deps)
	if err != nil {
		return nil, true, fmt.Errorf("failed to create %s agent: %w", role, err)
	}
	return a, true, nil
}
