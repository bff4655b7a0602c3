package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentflow/pkg/contextmgr"
	"agentflow/pkg/eventlog"
	"agentflow/pkg/logx"
	"agentflow/pkg/proto"
	"agentflow/pkg/roles"
	"agentflow/pkg/session"
	"agentflow/pkg/telemetry"
)

// ContextBuilder projects the slice a role receives. *contextmgr.Builder implements it.
type ContextBuilder interface {
	Build(ctx context.Context, role proto.Role, ac *session.AgentContext, in proto.StepInput) (*contextmgr.Slice, error)
}

// AfterStepFunc runs after an agent returns successfully and before the
// step is marked completed. Returning an error fails the step.
type AfterStepFunc func(ctx context.Context, run *StepRun) error

// StepRun is what the after-step hook sees and may change.
type StepRun struct {
	Plan     *WorkflowPlan
	Step     *WorkflowStep
	Response *proto.AgentResponse
	engine   *Engine
}

// Reinvoke runs the step's agent again with in, which replaces the step
// input. The new response replaces Response.
func (r *StepRun) Reinvoke(ctx context.Context, in proto.StepInput) (*proto.AgentResponse, error) {
	r.Step.Input = in.Clone()
	r.Step.Attempts++
	resp, err := r.engine.invoke(ctx, r.Step)
	if err != nil {
		return nil, err
	}
	r.Response = resp
	return resp, nil
}

// Insert splices steps right after the current one.
func (r *StepRun) Insert(specs ...proto.StepSpec) []*WorkflowStep {
	inserted := r.Plan.InsertAfter(r.Step.Index, specs...)
	if len(inserted) > 0 {
		r.engine.emit(eventlog.KindStepsInserted, r.Step, fmt.Sprintf("%d step(s) after %s", len(inserted), r.Step.ID))
	}
	return inserted
}

// Config wires an Engine.
type Config struct {
	Registry  *roles.Registry
	Deps      roles.Deps
	Builder   ContextBuilder
	Context   *session.AgentContext
	Sink      eventlog.Sink
	Recorder  telemetry.Recorder
	AfterStep AfterStepFunc
	RunID     string
	// MaxSteps bounds executed steps, not plan length.
	MaxSteps      int
	MaxRecoveries int
	Timeout       time.Duration
}

// Engine executes one plan at a time. It is not safe for concurrent use.
type Engine struct {
	cfg    Config
	agents map[proto.Role]roles.Agent
	logger *logx.Logger
}

// NewEngine validates cfg and returns an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Registry == nil || cfg.Builder == nil || cfg.Context == nil {
		return nil, errors.New("workflow engine requires a registry, a context builder and an agent context")
	}
	if cfg.Sink == nil {
		cfg.Sink = eventlog.Discard
	}
	if cfg.Recorder == nil {
		cfg.Recorder = telemetry.Nop()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 50
	}
	if cfg.MaxRecoveries < 0 {
		cfg.MaxRecoveries = 0
	}
	return &Engine{
		cfg:    cfg,
		agents: make(map[proto.Role]roles.Agent),
		logger: logx.NewLogger("workflow"),
	}, nil
}

// agent returns the cached agent for role, building it on first use.
func (e *Engine) agent(role proto.Role) (roles.Agent, error) {
	if a, ok := e.agents[role]; ok {
		return a, nil
	}
	a, ok, err := e.cfg.Registry.New(role, e.cfg.Deps)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRole, role)
	}
	if err != nil {
		return nil, err
	}
	e.agents[role] = a
	return a, nil
}

func (e *Engine) coordinator() (roles.PlanProposer, error) {
	a, err := e.agent(proto.RoleCoordinator)
	if err != nil {
		return nil, err
	}
	p, ok := a.(roles.PlanProposer)
	if !ok {
		return nil, fmt.Errorf("%w: %s agent cannot plan", ErrMissingRole, proto.RoleCoordinator)
	}
	return p, nil
}

func (e *Engine) emit(kind eventlog.Kind, step *WorkflowStep, msg string) {
	ev := eventlog.Event{Time: time.Now(), RunID: e.cfg.RunID, Kind: kind, Message: msg}
	if step != nil {
		ev.StepID = step.ID
		ev.Role = string(step.Role)
	}
	e.cfg.Sink.Emit(ev)
}

// CreatePlan asks the coordinator once for the initial plan. On failure the
// returned plan stays in planning and the error wraps ErrPlanConstruction.
func (e *Engine) CreatePlan(ctx context.Context, request string) (*WorkflowPlan, error) {
	p := NewPlan(e.cfg.RunID, request)

	coord, err := e.coordinator()
	if err != nil {
		return p, err
	}
	slice, err := e.cfg.Builder.Build(ctx, proto.RoleCoordinator, e.cfg.Context, proto.StepInput{Request: request})
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrPlanConstruction, err)
	}
	proposal, err := coord.ProposePlan(ctx, slice)
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrPlanConstruction, err)
	}

	p.Category = proposal.Category
	_ = e.cfg.Context.SetBagValue(proto.RoleCoordinator, "category", string(proposal.Category))
	if proposal.Category == proto.CategoryDirectAnswer {
		p.FinalOutput = proposal.Answer
	}
	for _, role := range proposal.Roles {
		p.Append(proto.StepSpec{Role: role})
	}
	if err := p.transition(StatusExecuting); err != nil {
		return p, err
	}
	p.CurrentStepIndex = 0

	roleList := make([]string, len(proposal.Roles))
	for i, r := range proposal.Roles {
		roleList[i] = string(r)
	}
	note := fmt.Sprintf("category %s; roles: %s", proposal.Category, strings.Join(roleList, " → "))
	_ = e.cfg.Context.AppendHistory(proto.RoleCoordinator, note, "")
	e.emit(eventlog.KindPlanCreated, nil, note)
	e.logger.Info("🗺️ Plan %s: %s", p.ID, note)
	return p, nil
}

// Execute runs p until it completes or fails. It returns nil when the plan
// completed; otherwise the error says why it stopped and p records it.
func (e *Engine) Execute(ctx context.Context, p *WorkflowPlan) error {
	if p.Status != StatusExecuting {
		return fmt.Errorf("plan %s is %s, not executing", p.ID, p.Status)
	}

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	executed := 0
	for p.CurrentStepIndex < len(p.Steps) && p.Status == StatusExecuting {
		if err := runCtx.Err(); err != nil {
			stop := ErrCanceled
			if ctx.Err() == nil {
				stop = ErrTimeout
			}
			return e.fail(p, stop, stop.Error())
		}

		step := p.Steps[p.CurrentStepIndex]
		if step.Status != StepPending {
			p.CurrentStepIndex++
			continue
		}
		if executed >= e.cfg.MaxSteps {
			return e.fail(p, ErrStepBudget, fmt.Sprintf("%s after %d steps", ErrStepBudget, executed))
		}
		executed++

		resp, err := e.runStep(runCtx, p, step)
		if err != nil {
			if errors.Is(err, ErrMissingRole) {
				return e.fail(p, &StepError{Err: err, StepID: step.ID, Role: step.Role, Index: step.Index}, "")
			}
			if runCtx.Err() != nil {
				// Reported at the top of the loop.
				continue
			}
			if rerr := e.recover(runCtx, p, step, err); rerr != nil {
				return e.fail(p, &StepError{Err: err, RecoveryErr: rerr, StepID: step.ID, Role: step.Role, Index: step.Index}, "")
			}
			continue
		}
		e.branch(p, step, resp)
	}

	if p.Status == StatusExecuting {
		_ = p.transition(StatusCompleted)
		p.CurrentStepIndex = len(p.Steps)
		if p.FinalOutput == "" {
			p.FinalOutput = lastOutput(p)
		}
	}
	e.logger.Info("🏁 Plan %s %s", p.ID, p.Status)
	return nil
}

func (e *Engine) fail(p *WorkflowPlan, err error, reason string) error {
	if reason == "" {
		reason = err.Error()
	}
	p.FailureReason = reason
	_ = p.transition(StatusFailed)
	e.logger.Error("💥 Plan %s failed: %s", p.ID, reason)
	return err
}

// invoke builds the slice and runs the step's agent once.
func (e *Engine) invoke(ctx context.Context, step *WorkflowStep) (*proto.AgentResponse, error) {
	a, err := e.agent(step.Role)
	if err != nil {
		return nil, err
	}
	ctx = logx.WithAgentID(ctx, step.ID+"/"+string(step.Role))
	slice, err := e.cfg.Builder.Build(ctx, step.Role, e.cfg.Context, step.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to build context: %w", err)
	}
	resp, err := a.Process(ctx, step.Input, slice)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: %s returned no response", roles.ErrInvalidResponse, step.Role)
	}
	if resp.Next.Kind == "" {
		resp.Next = proto.Continue("")
	}
	if err := resp.Next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", roles.ErrInvalidResponse, err)
	}
	return resp, nil
}

func (e *Engine) runStep(ctx context.Context, p *WorkflowPlan, step *WorkflowStep) (*proto.AgentResponse, error) {
	if err := step.transition(StepInProgress); err != nil {
		return nil, err
	}
	step.Attempts++
	step.StartedAt = time.Now()
	e.emit(eventlog.KindStepStarted, step, step.Label())

	if step.Input.AnswerFrom != "" {
		if src := p.Step(step.Input.AnswerFrom); src != nil {
			step.Input.Answer = src.Output
		}
	}

	resp, err := e.invoke(ctx, step)
	if err == nil && e.cfg.AfterStep != nil {
		run := &StepRun{Plan: p, Step: step, Response: resp, engine: e}
		err = e.cfg.AfterStep(ctx, run)
		resp = run.Response
	}
	step.FinishedAt = time.Now()
	duration := step.FinishedAt.Sub(step.StartedAt)

	if err != nil {
		_ = step.transition(StepFailed)
		step.Error = err.Error()
		_ = e.cfg.Context.RecordError(fmt.Sprintf("%s: %v", step.ID, err))
		e.cfg.Recorder.ObserveStep(string(step.Role), string(StepFailed), duration)
		e.emit(eventlog.KindStepFailed, step, err.Error())
		return nil, err
	}

	step.Output = resp.Output
	step.Next = resp.Next
	_ = step.transition(StepCompleted)
	_ = e.cfg.Context.AppendHistory(step.Role, resp.Output, step.ID)
	e.cfg.Recorder.ObserveStep(string(step.Role), string(StepCompleted), duration)
	e.emit(eventlog.KindStepCompleted, step, resp.Next.String())
	return resp, nil
}

// recheckRoles re-run after the step they rejected in favor of.
var recheckRoles = map[proto.Role]bool{proto.RoleVerifier: true, proto.RoleReviewer: true}

// branch applies the step's next action to the plan.
func (e *Engine) branch(p *WorkflowPlan, step *WorkflowStep, resp *proto.AgentResponse) {
	next := resp.Next
	idx := step.Index

	if next.Kind == proto.NextComplete && p.Category.ImplementationClass() && step.Role != proto.RoleReviewer {
		msg := fmt.Sprintf("%s may not complete a %s plan; continuing", step.Role, p.Category)
		e.logger.Warn("⚠️ %s", msg)
		e.emit(eventlog.KindWarning, step, msg)
		next = proto.Continue("")
	}

	switch next.Kind {
	case proto.NextContinue:
		p.CurrentStepIndex = idx + 1
		if next.NextRole == "" {
			return
		}
		for j := idx + 1; j < len(p.Steps); j++ {
			if p.Steps[j].Status == StepPending && p.Steps[j].Role == next.NextRole {
				p.skipPending(idx+1, j)
				p.CurrentStepIndex = j
				return
			}
		}
		msg := fmt.Sprintf("no pending %s step ahead; continuing with the next step", next.NextRole)
		e.logger.Warn("⚠️ %s", msg)
		e.emit(eventlog.KindWarning, step, msg)

	case proto.NextReject:
		origin := step.Input.Clone()
		specs := []proto.StepSpec{{
			Role: next.SuggestedRole,
			Input: proto.StepInput{
				Reason:      next.Reason,
				Origin:      &origin,
				PriorOutput: step.Output,
			},
		}}
		if recheckRoles[step.Role] && next.SuggestedRole != step.Role {
			specs = append(specs, proto.StepSpec{Role: step.Role, Input: proto.StepInput{
				Instruction: "re-check after: " + next.Reason,
			}})
		}
		p.InsertAfter(idx, specs...)
		p.CurrentStepIndex = idx + 1
		e.emit(eventlog.KindStepsInserted, step, fmt.Sprintf("rejected to %s: %s", next.SuggestedRole, next.Reason))

	case proto.NextQuestion:
		inserted := p.InsertAfter(idx,
			proto.StepSpec{Role: next.TargetRole, Input: proto.StepInput{Question: next.Question, AskedBy: step.Role}},
			proto.StepSpec{Role: step.Role, Input: step.Input},
		)
		resume := inserted[1]
		resume.Input.Question = ""
		resume.Input.AnswerFrom = inserted[0].ID
		p.CurrentStepIndex = idx + 1
		e.emit(eventlog.KindStepsInserted, step, fmt.Sprintf("question for %s", next.TargetRole))

	case proto.NextComplete:
		p.skipPending(idx+1, len(p.Steps))
		p.CurrentStepIndex = len(p.Steps)
		p.FinalOutput = next.FinalOutput
		_ = p.transition(StatusCompleted)
	}
}

// recover asks the coordinator for steps to splice in after a failed step.
// A nil return means the run continues.
func (e *Engine) recover(ctx context.Context, p *WorkflowPlan, step *WorkflowStep, stepErr error) error {
	if p.Recoveries >= e.cfg.MaxRecoveries {
		return fmt.Errorf("recovery budget of %d exhausted", e.cfg.MaxRecoveries)
	}
	p.Recoveries++

	coord, err := e.coordinator()
	if err != nil {
		return err
	}
	slice, err := e.cfg.Builder.Build(ctx, proto.RoleCoordinator, e.cfg.Context, step.Input)
	if err != nil {
		return err
	}
	specs, err := coord.Recover(ctx, roles.RecoveryRequest{
		StepID: step.ID,
		Role:   step.Role,
		Input:  step.Input,
		Err:    stepErr,
	}, slice)
	if err != nil {
		e.emit(eventlog.KindRecovery, step, "recovery failed: "+err.Error())
		return err
	}

	p.InsertAfter(step.Index, specs...)
	p.CurrentStepIndex = step.Index + 1
	_ = e.cfg.Context.SetBagValue(proto.RoleCoordinator, "recoveries", p.Recoveries)
	e.emit(eventlog.KindRecovery, step, fmt.Sprintf("recovery inserted %d step(s)", len(specs)))
	e.logger.Info("🩹 Recovered from %s with %d step(s)", step.ID, len(specs))
	return nil
}

func lastOutput(p *WorkflowPlan) string {
	for i := len(p.Steps) - 1; i >= 0; i-- {
		if p.Steps[i].Status == StepCompleted && p.Steps[i].Output != "" {
			return p.Steps[i].Output
		}
	}
	return ""
}
