// Package workflow builds and executes workflow plans: an append-only list
// of role steps that grows as agents reject, ask questions or trigger
// recovery.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"agentflow/pkg/plan"
	"agentflow/pkg/proto"
)

// Status is the plan state.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// PlanTransitions is the plan state machine.
var PlanTransitions = map[Status][]Status{
	// Construction failure leaves the plan in planning.
	StatusPlanning:  {StatusExecuting},
	StatusExecuting: {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// StepStatus is the state of one step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// StepTransitions is the step state machine. Steps are never deleted.
var StepTransitions = map[StepStatus][]StepStatus{
	StepPending:    {StepInProgress, StepSkipped},
	StepInProgress: {StepCompleted, StepFailed},
	StepCompleted:  {},
	StepFailed:     {},
	StepSkipped:    {},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// WorkflowStep is one unit of agent work.
type WorkflowStep struct {
	StartedAt  time.Time        `json:"started_at,omitempty"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
	ID         string           `json:"id"`
	Role       proto.Role       `json:"role"`
	Output     string           `json:"output,omitempty"`
	Status     StepStatus       `json:"status"`
	Error      string           `json:"error,omitempty"`
	Input      proto.StepInput  `json:"input"`
	Next       proto.NextAction `json:"next,omitempty"`
	Index      int              `json:"index"`
	Attempts   int              `json:"attempts"`
}

func (s *WorkflowStep) transition(to StepStatus) error {
	if !allowed(StepTransitions, s.Status, to) {
		return fmt.Errorf("step %s: invalid transition %s → %s", s.ID, s.Status, to)
	}
	s.Status = to
	return nil
}

// Label is a short human description of the step.
func (s *WorkflowStep) Label() string {
	if a := s.Input.Action; a != nil {
		return fmt.Sprintf("%s %s", s.Role, a.String())
	}
	return string(s.Role)
}

// WorkflowPlan is the ordered step list for one request. CurrentStepIndex
// points at the next step to run, or len(Steps) when done.
type WorkflowPlan struct {
	ID               string          `json:"id"`
	Request          string          `json:"request"`
	Category         proto.Category  `json:"category,omitempty"`
	Status           Status          `json:"status"`
	FinalOutput      string          `json:"final_output,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	Steps            []*WorkflowStep `json:"steps"`
	CurrentStepIndex int             `json:"current_step_index"`
	Recoveries       int             `json:"recoveries"`
	seq              int
}

// NewPlan returns an empty plan in the planning state.
func NewPlan(id, request string) *WorkflowPlan {
	return &WorkflowPlan{ID: id, Request: request, Status: StatusPlanning}
}

func (p *WorkflowPlan) transition(to Status) error {
	if !allowed(PlanTransitions, p.Status, to) {
		return fmt.Errorf("plan %s: invalid transition %s → %s", p.ID, p.Status, to)
	}
	p.Status = to
	return nil
}

func (p *WorkflowPlan) newStep(spec proto.StepSpec) *WorkflowStep {
	p.seq++
	in := spec.Input.Clone()
	if in.Request == "" {
		in.Request = p.Request
	}
	if in.Category == "" {
		in.Category = p.Category
	}
	return &WorkflowStep{
		ID:     fmt.Sprintf("step-%d", p.seq),
		Role:   spec.Role,
		Input:  in,
		Status: StepPending,
	}
}

// Append adds steps at the end.
func (p *WorkflowPlan) Append(specs ...proto.StepSpec) []*WorkflowStep {
	return p.InsertAfter(len(p.Steps)-1, specs...)
}

// InsertAfter splices new pending steps in right after index idx (-1 for the
// front) and returns them. It is the only way steps enter a plan after
// construction; existing steps keep their IDs and only shift position.
func (p *WorkflowPlan) InsertAfter(idx int, specs ...proto.StepSpec) []*WorkflowStep {
	if idx < -1 || idx >= len(p.Steps) {
		idx = len(p.Steps) - 1
	}
	inserted := make([]*WorkflowStep, 0, len(specs))
	for _, spec := range specs {
		inserted = append(inserted, p.newStep(spec))
	}

	steps := make([]*WorkflowStep, 0, len(p.Steps)+len(inserted))
	steps = append(steps, p.Steps[:idx+1]...)
	steps = append(steps, inserted...)
	steps = append(steps, p.Steps[idx+1:]...)
	for i, s := range steps {
		s.Index = i
	}
	p.Steps = steps
	return inserted
}

// Step returns the step with id, or nil.
func (p *WorkflowPlan) Step(id string) *WorkflowStep {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// FailedStep returns the most recent failed step, or nil.
func (p *WorkflowPlan) FailedStep() *WorkflowStep {
	for i := len(p.Steps) - 1; i >= 0; i-- {
		if p.Steps[i].Status == StepFailed {
			return p.Steps[i]
		}
	}
	return nil
}

// CountByStatus tallies steps per status.
func (p *WorkflowPlan) CountByStatus() map[StepStatus]int {
	out := make(map[StepStatus]int)
	for _, s := range p.Steps {
		out[s.Status]++
	}
	return out
}

// skipPending marks pending steps in [from, to) skipped.
func (p *WorkflowPlan) skipPending(from, to int) {
	for i := from; i < to && i < len(p.Steps); i++ {
		if p.Steps[i].Status == StepPending {
			_ = p.Steps[i].transition(StepSkipped)
		}
	}
}

func (p *WorkflowPlan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s [%s]", p.ID, p.Status)
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "\n  %2d %-8s %-11s %s", s.Index, s.ID, s.Status, s.Label())
	}
	return b.String()
}

// FromChangePlan returns one implementer step per edit or command action.
// Message actions produce no step; their contents are returned as notes.
func FromChangePlan(cp *plan.ChangePlan, base proto.StepInput) (specs []proto.StepSpec, notes []string) {
	if cp == nil {
		return nil, nil
	}
	for i := range cp.Actions {
		a := cp.Actions[i]
		switch a.Kind {
		case plan.KindEdit, plan.KindCommand:
			in := proto.StepInput{
				Request:  base.Request,
				Category: base.Category,
				Action:   &a,
			}
			specs = append(specs, proto.StepSpec{Role: proto.RoleImplementer, Input: in})
		case plan.KindMessage:
			notes = append(notes, a.Content)
		}
	}
	return specs, notes
}
