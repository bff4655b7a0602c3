package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/internal/mocks"
	"agentflow/pkg/contextmgr"
	"agentflow/pkg/eventlog"
	"agentflow/pkg/plan"
	"agentflow/pkg/proto"
	"agentflow/pkg/roles"
	"agentflow/pkg/session"
)

type sliceBuilder struct{}

func (sliceBuilder) Build(_ context.Context, role proto.Role, ac *session.AgentContext, _ proto.StepInput) (*contextmgr.Slice, error) {
	return &contextmgr.Slice{Role: role, Request: ac.Request()}, nil
}

// scriptedCoordinator adds the planning contract to a scripted agent.
type scriptedCoordinator struct {
	*mocks.ScriptedAgent
	proposal    *roles.Proposal
	proposeErr  error
	recoverFn   func(req roles.RecoveryRequest) ([]proto.StepSpec, error)
	recoverReqs []roles.RecoveryRequest
}

func (c *scriptedCoordinator) ProposePlan(context.Context, *contextmgr.Slice) (*roles.Proposal, error) {
	return c.proposal, c.proposeErr
}

func (c *scriptedCoordinator) Recover(_ context.Context, req roles.RecoveryRequest, _ *contextmgr.Slice) ([]proto.StepSpec, error) {
	c.recoverReqs = append(c.recoverReqs, req)
	if c.recoverFn == nil {
		return nil, errors.New("cannot recover")
	}
	return c.recoverFn(req)
}

type harness struct {
	engine *Engine
	coord  *scriptedCoordinator
	agents map[proto.Role]*mocks.ScriptedAgent
	events *eventlog.Recorder
	ac     *session.AgentContext
}

func newHarness(t *testing.T, mutate func(*Config), agents ...*mocks.ScriptedAgent) *harness {
	t.Helper()
	h := &harness{
		coord:  &scriptedCoordinator{ScriptedAgent: mocks.NewScriptedAgent(proto.RoleCoordinator)},
		agents: map[proto.Role]*mocks.ScriptedAgent{},
		events: &eventlog.Recorder{},
		ac:     session.New("rename foo", session.RepoSnapshot{}),
	}
	registry := roles.NewRegistry()
	registry.Register(proto.RoleCoordinator, func(roles.Deps) (roles.Agent, error) { return h.coord, nil })
	for _, a := range agents {
		a := a
		h.agents[a.Role()] = a
		registry.Register(a.Role(), func(roles.Deps) (roles.Agent, error) { return a, nil })
	}
	cfg := Config{
		Registry:      registry,
		Builder:       sliceBuilder{},
		Context:       h.ac,
		Sink:          h.events,
		RunID:         "run-1",
		MaxSteps:      20,
		MaxRecoveries: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func planWith(category proto.Category, specs ...proto.StepSpec) *WorkflowPlan {
	p := NewPlan("run-1", "rename foo")
	p.Category = category
	p.Append(specs...)
	p.Status = StatusExecuting
	return p
}

func roleSpecs(rs ...proto.Role) []proto.StepSpec {
	out := make([]proto.StepSpec, len(rs))
	for i, r := range rs {
		out[i] = proto.StepSpec{Role: r}
	}
	return out
}

func statuses(p *WorkflowPlan) []StepStatus {
	out := make([]StepStatus, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Status
	}
	return out
}

func stepRoles(p *WorkflowPlan) []proto.Role {
	out := make([]proto.Role, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Role
	}
	return out
}

func TestCreatePlan(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.proposal = &roles.Proposal{
		Category: proto.CategoryImplementation,
		Roles:    []proto.Role{proto.RolePlanner, proto.RoleReviewer},
	}
	p, err := h.engine.CreatePlan(context.Background(), "rename foo")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, p.Status)
	assert.Equal(t, 0, p.CurrentStepIndex)
	assert.Equal(t, []proto.Role{proto.RolePlanner, proto.RoleReviewer}, stepRoles(p))
	assert.Equal(t, proto.CategoryImplementation, p.Steps[0].Input.Category)
	assert.Equal(t, "rename foo", p.Steps[1].Input.Request)
	assert.Contains(t, h.events.Kinds(), eventlog.KindPlanCreated)
	assert.Equal(t, "implementation", h.ac.Bag(proto.RoleCoordinator)["category"])
}

func TestCreatePlanFailureStaysPlanning(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.proposeErr = errors.New("unparseable")
	p, err := h.engine.CreatePlan(context.Background(), "rename foo")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlanConstruction)
	assert.Equal(t, StatusPlanning, p.Status)
	assert.Error(t, h.engine.Execute(context.Background(), p))
}

func TestDirectAnswerPlanCompletesImmediately(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.proposal = &roles.Proposal{Category: proto.CategoryDirectAnswer, Answer: "42"}
	p, err := h.engine.CreatePlan(context.Background(), "what is the answer?")
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(context.Background(), p))
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, "42", p.FinalOutput)
}

func TestEmptyPlanCompletes(t *testing.T) {
	h := newHarness(t, nil)
	specs, notes := FromChangePlan(&plan.ChangePlan{Actions: []plan.Action{}}, proto.StepInput{})
	require.Empty(t, specs)
	require.Empty(t, notes)

	p := planWith(proto.CategoryImplementation, specs...)
	require.NoError(t, h.engine.Execute(context.Background(), p))
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, len(p.Steps), p.CurrentStepIndex)
}

func TestContinueToNamedRoleSkipsIntervening(t *testing.T) {
	planner := mocks.NewScriptedAgent(proto.RolePlanner, mocks.Respond("plan", proto.Continue(proto.RoleReviewer)))
	implementer := mocks.NewScriptedAgent(proto.RoleImplementer)
	verifier := mocks.NewScriptedAgent(proto.RoleVerifier)
	reviewer := mocks.NewScriptedAgent(proto.RoleReviewer, mocks.Respond("ok", proto.Complete("done")))
	h := newHarness(t, nil, planner, implementer, verifier, reviewer)

	p := planWith(proto.CategoryImplementation, roleSpecs(proto.RolePlanner, proto.RoleImplementer, proto.RoleVerifier, proto.RoleReviewer)...)
	require.NoError(t, h.engine.Execute(context.Background(), p))

	assert.Equal(t, []StepStatus{StepCompleted, StepSkipped, StepSkipped, StepCompleted}, statuses(p))
	assert.Zero(t, implementer.Calls())
	assert.Zero(t, verifier.Calls())
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, "done", p.FinalOutput)
}

func TestContinueToMissingRoleAdvances(t *testing.T) {
	planner := mocks.NewScriptedAgent(proto.RolePlanner, mocks.Respond("plan", proto.Continue(proto.RoleVerifier)))
	reviewer := mocks.NewScriptedAgent(proto.RoleReviewer, mocks.Respond("ok", proto.Complete("done")))
	h := newHarness(t, nil, planner, reviewer)

	p := planWith(proto.CategoryImplementation, roleSpecs(proto.RolePlanner, proto.RoleReviewer)...)
	require.NoError(t, h.engine.Execute(context.Background(), p))
	assert.Equal(t, []StepStatus{StepCompleted, StepCompleted}, statuses(p))
	assert.Contains(t, h.events.Kinds(), eventlog.KindWarning)
}

func TestRejectInsertsStepNext(t *testing.T) {
	planner := mocks.NewScriptedAgent(proto.RolePlanner)
	reviewer := mocks.NewScriptedAgent(proto.RoleReviewer,
		mocks.Respond("b.ts not updated", proto.Reject("b.ts not updated", proto.RoleImplementer)),
		mocks.Respond("ok", proto.Complete("approved")),
	)
	var order []proto.Role
	implementer := mocks.NewScriptedAgent(proto.RoleImplementer)
	implementer.ProcessFunc = func(_ context.Context, in proto.StepInput, _ *contextmgr.Slice) (*proto.AgentResponse, error) {
		order = append(order, proto.RoleImplementer)
		assert.Equal(t, "b.ts not updated", in.Reason)
		require.NotNil(t, in.Origin)
		assert.Equal(t, "b.ts not updated", in.PriorOutput)
		return &proto.AgentResponse{Output: "fixed", Next: proto.Continue("")}, nil
	}
	h := newHarness(t, nil, planner, reviewer, implementer)

	p := planWith(proto.CategoryFix, roleSpecs(proto.RolePlanner, proto.RoleReviewer)...)
	require.NoError(t, h.engine.Execute(context.Background(), p))

	assert.Equal(t, []proto.Role{proto.RolePlanner, proto.RoleReviewer, proto.RoleImplementer, proto.RoleReviewer}, stepRoles(p))
	assert.Equal(t, []StepStatus{StepCompleted, StepCompleted, StepCompleted, StepCompleted}, statuses(p))
	assert.Equal(t, []proto.Role{proto.RoleImplementer}, order)
	assert.Equal(t, 2, reviewer.Calls())
	assert.Equal(t, "approved", p.FinalOutput)
}

func TestRejectInsertionPosition(t *testing.T) {
	first := mocks.NewScriptedAgent(proto.RolePlanner, mocks.Respond("no", proto.Reject("redo", proto.RoleImplementer)))
	implementer := mocks.NewScriptedAgent(proto.RoleImplementer)
	verifier := mocks.NewScriptedAgent(proto.RoleVerifier)
	h := newHarness(t, nil, first, implementer, verifier)

	p := planWith(proto.CategoryReview, roleSpecs(proto.RolePlanner, proto.RoleVerifier)...)
	var seen []string
	h.engine.cfg.AfterStep = func(_ context.Context, run *StepRun) error {
		seen = append(seen, run.Step.ID)
		return nil
	}
	require.NoError(t, h.engine.Execute(context.Background(), p))

	require.Len(t, p.Steps, 3)
	assert.Equal(t, proto.RoleImplementer, p.Steps[1].Role)
	assert.Equal(t, []string{p.Steps[0].ID, p.Steps[1].ID, p.Steps[2].ID}, seen)
}

func TestQuestionRoutesAnswerBack(t *testing.T) {
	edit := plan.NewEdit("a.ts", "rename")
	implementer := mocks.NewScriptedAgent(proto.RoleImplementer,
		mocks.Respond("Which foo?", proto.Ask("Which foo?", proto.RolePlanner)),
		mocks.Respond("edited", proto.Continue("")),
	)
	planner := mocks.NewScriptedAgent(proto.RolePlanner, mocks.Respond("The exported one.", proto.Continue("")))
	h := newHarness(t, nil, implementer, planner)

	p := planWith(proto.CategoryImplementation, proto.StepSpec{Role: proto.RoleImplementer, Input: proto.StepInput{Action: &edit}})
	require.NoError(t, h.engine.Execute(context.Background(), p))

	assert.Equal(t, []proto.Role{proto.RoleImplementer, proto.RolePlanner, proto.RoleImplementer}, stepRoles(p))
	require.Len(t, planner.Inputs(), 1)
	assert.Equal(t, "Which foo?", planner.Inputs()[0].Question)
	assert.Equal(t, proto.RoleImplementer, planner.Inputs()[0].AskedBy)

	resumed := implementer.Inputs()[1]
	assert.Equal(t, "The exported one.", resumed.Answer)
	assert.Empty(t, resumed.Question)
	require.NotNil(t, resumed.Action)
	assert.Equal(t, "a.ts", resumed.Action.File)
}

func TestCompleteSkipsRemaining(t *testing.T) {
	reviewer := mocks.NewScriptedAgent(proto.RoleReviewer, mocks.Respond("ok", proto.Complete("shipped")))
	verifier := mocks.NewScriptedAgent(proto.RoleVerifier)
	h := newHarness(t, nil, reviewer, verifier)

	p := planWith(proto.CategoryImplementation, roleSpecs(proto.RoleReviewer, proto.RoleVerifier, proto.RoleVerifier)...)
	require.NoError(t, h.engine.Execute(context.Background(), p))
	assert.Equal(t, []StepStatus{StepCompleted, StepSkipped, StepSkipped}, statuses(p))
	assert.Equal(t, 3, p.CurrentStepIndex)
	assert.Equal(t, "shipped", p.FinalOutput)
}

func TestOnlyReviewerCompletesImplementationPlans(t *testing.T) {
	implementer := mocks.NewScriptedAgent(proto.RoleImplementer, mocks.Respond("done early", proto.Complete("done early")))
	reviewer := mocks.NewScriptedAgent(proto.RoleReviewer, mocks.Respond("ok", proto.Complete("approved")))
	h := newHarness(t, nil, implementer, reviewer)

	p := planWith(proto.CategoryImplementation, roleSpecs(proto.RoleImplementer, proto.RoleReviewer)...)
	require.NoError(t, h.engine.Execute(context.Background(), p))
	assert.Equal(t, 1, reviewer.Calls())
	assert.Equal(t, "approved", p.FinalOutput)
	assert.Contains(t, h.events.Kinds(), eventlog.KindWarning)
}

func TestStepFailureRecovers(t *testing.T) {
	implementer := mocks.NewScriptedAgent(proto.RoleImplementer,
		mocks.Turn{Err: errors.New("build failed")},
		mocks.Respond("fixed", proto.Continue("")),
	)
	h := newHarness(t, nil, implementer)
	h.coord.recoverFn = func(req roles.RecoveryRequest) ([]proto.StepSpec, error) {
		return []proto.StepSpec{{Role: proto.RoleImplementer, Input: proto.StepInput{Instruction: "try again"}}}, nil
	}

	p := planWith(proto.CategoryFix, roleSpecs(proto.RoleImplementer)...)
	require.NoError(t, h.engine.Execute(context.Background(), p))

	assert.Equal(t, []StepStatus{StepFailed, StepCompleted}, statuses(p))
	assert.Equal(t, StatusCompleted, p.Status)
	require.Len(t, h.coord.recoverReqs, 1)
	assert.Equal(t, p.Steps[0].ID, h.coord.recoverReqs[0].StepID)
	assert.EqualError(t, h.coord.recoverReqs[0].Err, "build failed")
	assert.Equal(t, 1, p.Recoveries)
	assert.Contains(t, h.ac.Task().Errors[0], "build failed")
	assert.Equal(t, 1, h.ac.Bag(proto.RoleCoordinator)["recoveries"])
}

func TestStepFailureWithoutRecoveryFailsPlan(t *testing.T) {
	implementer := mocks.NewScriptedAgent(proto.RoleImplementer, mocks.Turn{Err: errors.New("exit 1")})
	reviewer := mocks.NewScriptedAgent(proto.RoleReviewer)
	h := newHarness(t, nil, implementer, reviewer)

	p := planWith(proto.CategoryFix, roleSpecs(proto.RoleImplementer, proto.RoleReviewer)...)
	err := h.engine.Execute(context.Background(), p)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, p.Steps[0].ID, stepErr.StepID)
	assert.Error(t, stepErr.RecoveryErr)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Contains(t, p.FailureReason, "exit 1")
	assert.Equal(t, p.Steps[0], p.FailedStep())
	assert.Zero(t, reviewer.Calls())
}

func TestRecoveryBudget(t *testing.T) {
	implementer := mocks.NewScriptedAgent(proto.RoleImplementer)
	implementer.ProcessFunc = func(context.Context, proto.StepInput, *contextmgr.Slice) (*proto.AgentResponse, error) {
		return nil, errors.New("still broken")
	}
	h := newHarness(t, func(c *Config) { c.MaxRecoveries = 1 }, implementer)
	h.coord.recoverFn = func(roles.RecoveryRequest) ([]proto.StepSpec, error) {
		return roleSpecs(proto.RoleImplementer), nil
	}

	p := planWith(proto.CategoryFix, roleSpecs(proto.RoleImplementer)...)
	err := h.engine.Execute(context.Background(), p)
	require.Error(t, err)
	assert.Len(t, h.coord.recoverReqs, 1)
	assert.Equal(t, 2, implementer.Calls())
	assert.Contains(t, err.Error(), "recovery budget")
}

func TestMissingRoleIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.recoverFn = func(roles.RecoveryRequest) ([]proto.StepSpec, error) {
		t.Fatal("recovery must not run for a missing role")
		return nil, nil
	}
	p := planWith(proto.CategoryFix, roleSpecs("auditor")...)
	err := h.engine.Execute(context.Background(), p)
	assert.ErrorIs(t, err, ErrMissingRole)
	assert.Equal(t, StatusFailed, p.Status)
}

func TestStepBudget(t *testing.T) {
	verifier := mocks.NewScriptedAgent(proto.RoleVerifier)
	h := newHarness(t, func(c *Config) { c.MaxSteps = 2 }, verifier)

	p := planWith(proto.CategoryReview, roleSpecs(proto.RoleVerifier, proto.RoleVerifier, proto.RoleVerifier)...)
	err := h.engine.Execute(context.Background(), p)
	assert.ErrorIs(t, err, ErrStepBudget)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, []StepStatus{StepCompleted, StepCompleted, StepPending}, statuses(p))
}

func TestCancellationStopsScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	verifier := mocks.NewScriptedAgent(proto.RoleVerifier)
	verifier.ProcessFunc = func(context.Context, proto.StepInput, *contextmgr.Slice) (*proto.AgentResponse, error) {
		cancel()
		return &proto.AgentResponse{Output: "checked", Next: proto.Continue("")}, nil
	}
	h := newHarness(t, nil, verifier)

	p := planWith(proto.CategoryReview, roleSpecs(proto.RoleVerifier, proto.RoleVerifier)...)
	err := h.engine.Execute(ctx, p)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, []StepStatus{StepCompleted, StepPending}, statuses(p))
}

func TestWallClockTimeout(t *testing.T) {
	verifier := mocks.NewScriptedAgent(proto.RoleVerifier)
	verifier.ProcessFunc = func(ctx context.Context, _ proto.StepInput, _ *contextmgr.Slice) (*proto.AgentResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	h := newHarness(t, func(c *Config) { c.Timeout = 20 * time.Millisecond }, verifier)

	p := planWith(proto.CategoryReview, roleSpecs(proto.RoleVerifier)...)
	err := h.engine.Execute(context.Background(), p)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Empty(t, h.coord.recoverReqs)
}

func TestAfterStepHook(t *testing.T) {
	edit := plan.NewEdit("a.ts", "rename")
	planner := mocks.NewScriptedAgent(proto.RolePlanner)
	implementer := mocks.NewScriptedAgent(proto.RoleImplementer,
		mocks.Respond("bad", proto.Continue("")),
		mocks.Respond("good", proto.Continue("")),
	)
	h := newHarness(t, nil, planner, implementer)

	h.engine.cfg.AfterStep = func(ctx context.Context, run *StepRun) error {
		switch run.Step.Role {
		case proto.RolePlanner:
			run.Insert(proto.StepSpec{Role: proto.RoleImplementer, Input: proto.StepInput{Action: &edit}})
		case proto.RoleImplementer:
			if run.Response.Output == "bad" {
				in := run.Step.Input
				a := in.Action.WithHint("type error")
				in.Action = &a
				_, err := run.Reinvoke(ctx, in)
				return err
			}
		}
		return nil
	}

	p := planWith(proto.CategoryImplementation, roleSpecs(proto.RolePlanner)...)
	require.NoError(t, h.engine.Execute(context.Background(), p))

	require.Len(t, p.Steps, 2)
	impl := p.Steps[1]
	assert.Equal(t, "good", impl.Output)
	assert.Equal(t, 2, impl.Attempts)
	assert.Equal(t, []string{"type error"}, impl.Input.Action.Hints)
	assert.Equal(t, []string{"type error"}, implementer.Inputs()[1].Action.Hints)
}

func TestAfterStepErrorFailsStep(t *testing.T) {
	implementer := mocks.NewScriptedAgent(proto.RoleImplementer)
	h := newHarness(t, func(c *Config) {
		c.AfterStep = func(context.Context, *StepRun) error { return errors.New("health check failed") }
	}, implementer)

	p := planWith(proto.CategoryFix, roleSpecs(proto.RoleImplementer)...)
	err := h.engine.Execute(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, StepFailed, p.Steps[0].Status)
	assert.Equal(t, "health check failed", p.Steps[0].Error)
}
