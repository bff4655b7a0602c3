package proto

import (
	"fmt"
	"time"

	"agentflow/pkg/plan"
)

// NextKind discriminates NextAction.
type NextKind string

const (
	NextContinue NextKind = "continue"
	NextReject   NextKind = "reject"
	NextComplete NextKind = "complete"
	NextQuestion NextKind = "question"
)

// NextAction is how an agent shapes the rest of the plan.
type NextAction struct {
	Kind NextKind `json:"kind"`

	// Continue: optional role to jump forward to.
	NextRole Role `json:"next_role,omitempty"`

	// Reject.
	Reason        string `json:"reason,omitempty"`
	SuggestedRole Role   `json:"suggested_role,omitempty"`

	// Complete.
	FinalOutput string `json:"final_output,omitempty"`

	// Question.
	Question   string `json:"question,omitempty"`
	TargetRole Role   `json:"target_role,omitempty"`
}

// Continue advances to the next step, or forward to role when non-empty.
func Continue(role Role) NextAction {
	return NextAction{Kind: NextContinue, NextRole: role}
}

// Reject inserts a step for role carrying reason.
func Reject(reason string, role Role) NextAction {
	return NextAction{Kind: NextReject, Reason: reason, SuggestedRole: role}
}

// Complete finishes the plan with the user-facing output.
func Complete(finalOutput string) NextAction {
	return NextAction{Kind: NextComplete, FinalOutput: finalOutput}
}

// Ask routes a question to role and returns control to the asker afterwards.
func Ask(question string, role Role) NextAction {
	return NextAction{Kind: NextQuestion, Question: question, TargetRole: role}
}

// Validate checks the fields required by Kind.
func (n NextAction) Validate() error {
	switch n.Kind {
	case NextContinue, NextComplete:
		return nil
	case NextReject:
		if n.SuggestedRole == "" {
			return fmt.Errorf("reject requires a suggested role")
		}
	case NextQuestion:
		if n.TargetRole == "" || n.Question == "" {
			return fmt.Errorf("question requires a question and a target role")
		}
	default:
		return fmt.Errorf("unknown next action %q", n.Kind)
	}
	return nil
}

func (n NextAction) String() string {
	switch n.Kind {
	case NextContinue:
		if n.NextRole != "" {
			return fmt.Sprintf("continue→%s", n.NextRole)
		}
		return "continue"
	case NextReject:
		return fmt.Sprintf("reject→%s (%s)", n.SuggestedRole, n.Reason)
	case NextQuestion:
		return fmt.Sprintf("question→%s", n.TargetRole)
	default:
		return string(n.Kind)
	}
}

// Metadata keys with typed accessors below.
const (
	MetaChangePlan = "change_plan"
	MetaFileEdit   = "file_edit"
	MetaCommand    = "command"
	MetaIssues     = "issues"
	MetaCategory   = "category"
	MetaTestRun    = "test_run"
)

// AgentResponse is what every agent returns.
type AgentResponse struct {
	Output   string         `json:"output"`
	Next     NextAction     `json:"next_action"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Set stores a metadata value, allocating the map on first use.
func (r *AgentResponse) Set(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// FileEdit is the implementer's proposed replacement for one file.
type FileEdit struct {
	File    string `json:"file"`
	Content string `json:"content"`
	Summary string `json:"summary,omitempty"`
}

// Issue is one verifier finding.
type Issue struct {
	File    string `json:"file,omitempty"`
	Message string `json:"message"`
}

// TestRun is one test command execution performed by an agent.
type TestRun struct {
	Command  string        `json:"command"`
	Output   string        `json:"output,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// ChangePlan returns the planner's plan, if any.
func (r *AgentResponse) ChangePlan() (*plan.ChangePlan, bool) {
	cp, ok := r.Metadata[MetaChangePlan].(*plan.ChangePlan)
	return cp, ok
}

// FileEdit returns the implementer's edit, if any.
func (r *AgentResponse) FileEdit() (*FileEdit, bool) {
	fe, ok := r.Metadata[MetaFileEdit].(*FileEdit)
	return fe, ok
}

// Command returns the implementer's command line, if any.
func (r *AgentResponse) Command() (string, bool) {
	cmd, ok := r.Metadata[MetaCommand].(string)
	return cmd, ok
}

// TestRun returns the test execution an agent performed, if any.
func (r *AgentResponse) TestRun() (*TestRun, bool) {
	run, ok := r.Metadata[MetaTestRun].(*TestRun)
	return run, ok
}

// Issues returns verifier issues, if any.
func (r *AgentResponse) Issues() []Issue {
	issues, _ := r.Metadata[MetaIssues].([]Issue)
	return issues
}
