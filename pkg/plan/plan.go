package plan

import "fmt"

// ChangePlan is an ordered sequence of actions. Order is execution order.
// An empty plan is valid and does nothing.
type ChangePlan struct {
	Actions []Action `json:"actions"`
}

// Validate checks every action. It is total: the first violation is returned.
func (p *ChangePlan) Validate() error {
	if p == nil {
		return &ValidationError{Field: "/", Reason: "plan is nil"}
	}
	for i := range p.Actions {
		if err := p.Actions[i].Validate(fmt.Sprintf("/actions/%d", i)); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of actions.
func (p *ChangePlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Actions)
}

// Files returns the distinct files touched by edit actions, in plan order.
func (p *ChangePlan) Files() []string {
	seen := make(map[string]bool)
	var files []string
	for i := range p.Actions {
		a := &p.Actions[i]
		if a.Kind == KindEdit && !seen[a.File] {
			seen[a.File] = true
			files = append(files, a.File)
		}
	}
	return files
}
