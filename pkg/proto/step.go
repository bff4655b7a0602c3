package proto

import "agentflow/pkg/plan"

// StepInput is everything a step carries into its agent. Fields are set
// according to how the step was created.
type StepInput struct {
	// Request is the user's request, present on every step.
	Request string `json:"request"`
	// Category is the coordinator's classification of the request.
	Category Category `json:"category,omitempty"`
	// Instruction is free-form direction from the coordinator.
	Instruction string `json:"instruction,omitempty"`
	// Action is the plan action an implementer step executes.
	Action *plan.Action `json:"action,omitempty"`

	// Set on steps inserted by a rejection.
	Reason      string     `json:"reason,omitempty"`
	Origin      *StepInput `json:"origin,omitempty"`
	PriorOutput string     `json:"prior_output,omitempty"`

	// Set on the answering step of a question.
	Question string `json:"question,omitempty"`
	AskedBy  Role   `json:"asked_by,omitempty"`

	// Set on the step that resumes the asker. Answer is filled from the
	// output of step AnswerFrom just before the step runs.
	AnswerFrom string `json:"answer_from,omitempty"`
	Answer     string `json:"answer,omitempty"`
}

// Clone returns a deep copy.
func (in StepInput) Clone() StepInput {
	out := in
	if in.Action != nil {
		a := *in.Action
		a.Hints = append([]string(nil), in.Action.Hints...)
		out.Action = &a
	}
	if in.Origin != nil {
		origin := in.Origin.Clone()
		out.Origin = &origin
	}
	return out
}

// EffectiveAction returns the action this step acts on, falling back to the
// action of the step whose rejection created it.
func (in *StepInput) EffectiveAction() *plan.Action {
	for cur := in; cur != nil; cur = cur.Origin {
		if cur.Action != nil {
			return cur.Action
		}
	}
	return nil
}

// StepSpec describes a step to be created.
type StepSpec struct {
	Role  Role      `json:"role"`
	Input StepInput `json:"input"`
}
