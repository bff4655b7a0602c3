package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"agentflow/pkg/eventlog"
	"agentflow/pkg/gate"
	"agentflow/pkg/plan"
	"agentflow/pkg/proto"
	"agentflow/pkg/session"
	"agentflow/pkg/workflow"
)

// run is the state of one Orchestrator.Run call.
type run struct {
	o    *Orchestrator
	id   string
	ac   *session.AgentContext
	sink eventlog.Sink
}

func (r *run) emit(kind eventlog.Kind, step *workflow.WorkflowStep, format string, args ...any) {
	ev := eventlog.Event{Time: time.Now(), RunID: r.id, Kind: kind, Message: fmt.Sprintf(format, args...)}
	if step != nil {
		ev.StepID = step.ID
		ev.Role = string(step.Role)
	}
	r.sink.Emit(ev)
}

// afterStep is the engine hook. It runs before the step is marked
// completed, so a returned error fails the step.
func (r *run) afterStep(ctx context.Context, sr *workflow.StepRun) error {
	switch sr.Step.Role {
	case proto.RolePlanner:
		r.expandPlan(sr)
	case proto.RoleImplementer:
		return r.applyWithHealing(ctx, sr)
	case proto.RoleVerifier:
		if tr, ok := sr.Response.TestRun(); ok {
			_ = r.ac.RecordTestResult(session.TestResult{
				Command:  tr.Command,
				ExitCode: tr.ExitCode,
				Passed:   tr.ExitCode == 0,
				Output:   tr.Output,
				Duration: tr.Duration,
			})
			_ = r.ac.SetBagValue(proto.RoleVerifier, "last_check", fmt.Sprintf("%s (exit %d)", tr.Command, tr.ExitCode))
		}
	}
	return nil
}

// expandPlan splices one implementer step per plan action right after the
// planner step. Message actions become system notes.
func (r *run) expandPlan(sr *workflow.StepRun) {
	cp, ok := sr.Response.ChangePlan()
	if !ok {
		return
	}
	specs, notes := workflow.FromChangePlan(cp, sr.Step.Input)
	for _, note := range notes {
		_ = r.ac.AppendHistory(proto.RoleSystem, note, sr.Step.ID)
	}
	if len(specs) == 0 {
		r.o.logger.Info("📋 Planner found nothing to change")
		return
	}
	sr.Insert(specs...)
	r.o.logger.Info("📋 Expanded plan into %d implementer step(s)", len(specs))
}

// applyWithHealing applies the implementer's change and health-checks it.
// A failing check gets exactly one self-heal: the implementer runs again
// with the failure appended to the action's hints. The step fails unless the
// healed response applies a change that passes. Gate denials and apply
// errors are returned as they are.
func (r *run) applyWithHealing(ctx context.Context, sr *workflow.StepRun) error {
	check, err := r.apply(ctx, sr.Step, sr.Response)
	if err != nil || check == nil || check.Passed {
		return err
	}

	action := sr.Step.Input.EffectiveAction()
	if action == nil {
		return &HealthError{StepID: sr.Step.ID, Check: check}
	}
	failure := check.Failure()
	r.emit(eventlog.KindSelfHeal, sr.Step, "retrying %s after: %s", action, firstLine(failure))
	r.o.logger.Warn("🩹 Self-healing %s: %s", sr.Step.ID, firstLine(failure))

	in := sr.Step.Input.Clone()
	healed := action.WithHint(failure)
	in.Action = &healed
	resp, err := sr.Reinvoke(ctx, in)
	if err != nil {
		return fmt.Errorf("self-heal of %s failed: %w", sr.Step.ID, err)
	}

	healedCheck, err := r.apply(ctx, sr.Step, resp)
	if err != nil {
		return err
	}
	switch {
	case healedCheck == nil:
		// Nothing was applied, so the failed change is still in place.
		r.o.logger.Warn("🩹 Self-heal of %s produced no change to check", sr.Step.ID)
		return &HealthError{StepID: sr.Step.ID, Check: check, Healed: true}
	case !healedCheck.Passed:
		return &HealthError{StepID: sr.Step.ID, Check: healedCheck, Healed: true}
	}
	return nil
}

// apply performs the side effect carried by an implementer response and
// returns the health check result, or nil when nothing was checked.
func (r *run) apply(ctx context.Context, step *workflow.WorkflowStep, resp *proto.AgentResponse) (*CheckResult, error) {
	if fe, ok := resp.FileEdit(); ok {
		return r.applyEdit(ctx, step, fe)
	}
	if cmd, ok := resp.Command(); ok {
		expect := plan.ExpectUnknown
		if a := step.Input.EffectiveAction(); a != nil && a.Expect != "" {
			expect = a.Expect
		}
		return r.runCommand(ctx, step, cmd, expect)
	}
	return nil, nil
}

func (r *run) applyEdit(ctx context.Context, step *workflow.WorkflowStep, fe *proto.FileEdit) (*CheckResult, error) {
	before, readErr := r.o.ws.ReadFile(fe.File)
	if readErr != nil && !errors.Is(readErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", fe.File, readErr)
	}
	change := gate.Change{
		Kind:    gate.ChangeEdit,
		StepID:  step.ID,
		File:    fe.File,
		Summary: fe.Summary,
		Diff:    previewDiff(fe.File, string(before), fe.Content, readErr == nil),
	}
	if err := r.confirm(ctx, change); err != nil {
		return nil, err
	}

	if err := r.o.ws.WriteFile(fe.File, []byte(fe.Content)); err != nil {
		return nil, fmt.Errorf("failed to apply edit: %w", err)
	}
	_ = r.ac.RecordFileTouched(fe.File)
	if diff, err := r.o.ws.Diff(); err != nil {
		r.o.logger.Warn("⚠️  Could not render diff: %v", err)
	} else {
		_ = r.ac.SetDiff(diff)
	}
	r.o.logger.Info("✏️  Applied edit to %s", fe.File)

	check, ok, err := r.o.checker.CheckEdit(ctx, fe.File)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	r.record(step, check)
	return check, nil
}

func (r *run) runCommand(ctx context.Context, step *workflow.WorkflowStep, cmd string, expect plan.Expect) (*CheckResult, error) {
	change := gate.Change{Kind: gate.ChangeCommand, StepID: step.ID, Cmd: cmd}
	if err := r.confirm(ctx, change); err != nil {
		return nil, err
	}
	r.o.logger.Info("▶️  Running %q (expect %s)", cmd, expect)
	check, err := r.o.checker.CheckCommand(ctx, cmd, expect)
	if err != nil {
		return nil, err
	}
	r.record(step, check)
	return check, nil
}

func (r *run) confirm(ctx context.Context, change gate.Change) error {
	decision, err := r.o.gate.Confirm(ctx, change)
	if err != nil {
		return fmt.Errorf("confirmation for %s failed: %w", change, err)
	}
	if !decision.Approved {
		r.o.logger.Warn("🚫 Denied: %s", change)
		return &gate.DeniedError{Change: change, Reason: decision.Reason}
	}
	return nil
}

func (r *run) record(step *workflow.WorkflowStep, check *CheckResult) {
	r.recordResult(check)
	r.emit(eventlog.KindHealthCheck, step, "%s `%s` %s (exit %d)", check.Name, check.Command, verdict(check.Passed), check.ExitCode)
}

func (r *run) recordResult(check *CheckResult) {
	_ = r.ac.RecordTestResult(session.TestResult{
		Command:  check.Command,
		ExitCode: check.ExitCode,
		Passed:   check.Passed,
		Output:   check.Output,
		Duration: check.Duration,
	})
}

func verdict(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}

func previewDiff(file, before, after string, existed bool) string {
	from := "a/" + file
	if !existed {
		from = "/dev/null"
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: from,
		ToFile:   "b/" + file,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
