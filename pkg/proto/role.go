// Package proto holds the types exchanged between agents, the workflow
// engine and the orchestrator.
package proto

import "fmt"

// Role is a fixed responsibility bound to one agent implementation.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RolePlanner     Role = "planner"
	RoleImplementer Role = "implementer"
	RoleVerifier    Role = "verifier"
	RoleReviewer    Role = "reviewer"
	// RoleSystem authors history entries that no agent produced.
	RoleSystem Role = "system"
	// RoleUser authors the original request.
	RoleUser Role = "user"
)

// AgentRoles lists the roles that have agent implementations, in pipeline order.
func AgentRoles() []Role {
	return []Role{RoleCoordinator, RolePlanner, RoleImplementer, RoleVerifier, RoleReviewer}
}

// ParseRole validates s as an agent role.
func ParseRole(s string) (Role, error) {
	for _, r := range AgentRoles() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Category is the coordinator's classification of a request.
type Category string

const (
	CategoryDirectAnswer   Category = "direct_answer"
	CategoryImplementation Category = "implementation"
	CategoryFix            Category = "fix"
	CategoryReview         Category = "review"
)

// ParseCategory validates s as a category.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryDirectAnswer, CategoryImplementation, CategoryFix, CategoryReview:
		return c, nil
	}
	return "", fmt.Errorf("unknown task category %q", s)
}

// ImplementationClass reports whether the category produces edits. Only the
// reviewer may complete such plans.
func (c Category) ImplementationClass() bool {
	return c == CategoryImplementation || c == CategoryFix
}
