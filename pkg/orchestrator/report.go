package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"agentflow/pkg/proto"
	"agentflow/pkg/telemetry"
	"agentflow/pkg/workflow"
)

// StepReport is the outcome of one plan step.
type StepReport struct {
	ID       string              `json:"id"`
	Role     proto.Role          `json:"role"`
	Label    string              `json:"label"`
	Status   workflow.StepStatus `json:"status"`
	Output   string              `json:"output,omitempty"`
	Error    string              `json:"error,omitempty"`
	Attempts int                 `json:"attempts"`
	Next     string              `json:"next,omitempty"`
}

// Report summarizes one run.
type Report struct {
	RunID        string            `json:"run_id"`
	Request      string            `json:"request"`
	Category     proto.Category    `json:"category,omitempty"`
	Status       workflow.Status   `json:"status"`
	Canceled     bool              `json:"canceled,omitempty"`
	FinalOutput  string            `json:"final_output,omitempty"`
	Error        string            `json:"error,omitempty"`
	Steps        []StepReport      `json:"steps"`
	FailedStep   *StepReport       `json:"failed_step,omitempty"`
	Checks       []CheckResult     `json:"checks,omitempty"`
	FilesTouched []string          `json:"files_touched,omitempty"`
	Telemetry    telemetry.Summary `json:"telemetry"`
	Duration     time.Duration     `json:"duration"`
}

// OK reports whether the plan completed and every final check passed.
func (r *Report) OK() bool {
	if r.Status != workflow.StatusCompleted {
		return false
	}
	for i := range r.Checks {
		if !r.Checks[i].Passed {
			return false
		}
	}
	return true
}

func newReport(runID, request string, p *workflow.WorkflowPlan, runErr error) *Report {
	r := &Report{RunID: runID, Request: request}
	if p != nil {
		r.Category = p.Category
		r.Status = p.Status
		r.FinalOutput = p.FinalOutput
		for _, s := range p.Steps {
			r.Steps = append(r.Steps, stepReport(s))
		}
		if failed := p.FailedStep(); failed != nil && p.Status == workflow.StatusFailed {
			sr := stepReport(failed)
			r.FailedStep = &sr
		}
	}
	if runErr != nil {
		r.Error = runErr.Error()
		if r.Status != workflow.StatusCompleted {
			r.Status = workflow.StatusFailed
		}
	}
	return r
}

func stepReport(s *workflow.WorkflowStep) StepReport {
	sr := StepReport{
		ID:       s.ID,
		Role:     s.Role,
		Label:    s.Label(),
		Status:   s.Status,
		Output:   s.Output,
		Error:    s.Error,
		Attempts: s.Attempts,
	}
	if s.Next.Kind != "" {
		sr.Next = s.Next.String()
	}
	return sr
}

var statusMarks = map[workflow.StepStatus]string{
	workflow.StepCompleted:  "✓",
	workflow.StepFailed:     "✗",
	workflow.StepSkipped:    "-",
	workflow.StepPending:    " ",
	workflow.StepInProgress: "…",
}

// String renders the report for a terminal.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s", r.RunID, r.Status)
	if r.Category != "" {
		fmt.Fprintf(&b, " (%s)", r.Category)
	}
	if r.Canceled {
		b.WriteString(", canceled")
	}
	if r.Duration > 0 {
		fmt.Fprintf(&b, " in %s", r.Duration.Round(time.Millisecond))
	}
	b.WriteString("\n")

	if len(r.Steps) > 0 {
		b.WriteString("\nSteps:\n")
		for _, s := range r.Steps {
			fmt.Fprintf(&b, "  %s %-8s %s", statusMarks[s.Status], s.ID, s.Label)
			if s.Attempts > 1 {
				fmt.Fprintf(&b, " (%d attempts)", s.Attempts)
			}
			b.WriteString("\n")
		}
	}

	if r.FailedStep != nil {
		fmt.Fprintf(&b, "\nFailed at %s (%s): %s\n", r.FailedStep.ID, r.FailedStep.Label, r.FailedStep.Error)
	} else if r.Error != "" {
		fmt.Fprintf(&b, "\nError: %s\n", r.Error)
	}

	if len(r.FilesTouched) > 0 {
		fmt.Fprintf(&b, "\nFiles touched: %s\n", strings.Join(r.FilesTouched, ", "))
	}

	if len(r.Checks) > 0 {
		b.WriteString("\nFinal checks:\n")
		for i := range r.Checks {
			c := &r.Checks[i]
			mark := statusMarks[workflow.StepCompleted]
			if !c.Passed {
				mark = statusMarks[workflow.StepFailed]
			}
			fmt.Fprintf(&b, "  %s %s (exit %d)\n", mark, c.Command, c.ExitCode)
		}
	}

	if r.FinalOutput != "" {
		fmt.Fprintf(&b, "\n%s\n", r.FinalOutput)
	}
	fmt.Fprintf(&b, "\n%s\n", r.Telemetry)
	return b.String()
}
