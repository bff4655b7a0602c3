package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/plan"
	"agentflow/pkg/proto"
)

func TestInsertAfterKeepsIDsAndReindexes(t *testing.T) {
	p := NewPlan("p", "r")
	p.Append(roleSpecs(proto.RolePlanner, proto.RoleReviewer)...)
	first, last := p.Steps[0].ID, p.Steps[1].ID

	inserted := p.InsertAfter(0, roleSpecs(proto.RoleImplementer, proto.RoleVerifier)...)
	require.Len(t, inserted, 2)
	assert.Equal(t, []proto.Role{proto.RolePlanner, proto.RoleImplementer, proto.RoleVerifier, proto.RoleReviewer}, stepRoles(p))
	assert.Equal(t, first, p.Steps[0].ID)
	assert.Equal(t, last, p.Steps[3].ID)
	for i, s := range p.Steps {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, StepPending, s.Status)
	}
	assert.Equal(t, "step-3", inserted[0].ID)

	front := p.InsertAfter(-1, roleSpecs(proto.RoleCoordinator)...)
	assert.Equal(t, 0, front[0].Index)
	assert.Len(t, p.Steps, 5)
}

func TestTransitions(t *testing.T) {
	p := NewPlan("p", "r")
	assert.Error(t, p.transition(StatusCompleted))
	require.NoError(t, p.transition(StatusExecuting))
	require.NoError(t, p.transition(StatusFailed))
	assert.Error(t, p.transition(StatusExecuting))

	s := &WorkflowStep{ID: "s", Status: StepPending}
	assert.Error(t, s.transition(StepCompleted))
	require.NoError(t, s.transition(StepInProgress))
	require.NoError(t, s.transition(StepFailed))
	assert.Error(t, s.transition(StepSkipped))
}

func TestFromChangePlan(t *testing.T) {
	cp := &plan.ChangePlan{Actions: []plan.Action{
		plan.NewEdit("a.ts", "rename"),
		plan.NewMessage("keep exports stable"),
		plan.NewCommand("run tests", plan.ExpectPass),
	}}
	specs, notes := FromChangePlan(cp, proto.StepInput{Request: "r", Category: proto.CategoryFix})
	require.Len(t, specs, 2)
	assert.Equal(t, []string{"keep exports stable"}, notes)
	for _, s := range specs {
		assert.Equal(t, proto.RoleImplementer, s.Role)
		assert.Equal(t, proto.CategoryFix, s.Input.Category)
	}
	assert.Equal(t, "a.ts", specs[0].Input.Action.File)
	assert.Equal(t, "run tests", specs[1].Input.Action.Cmd)

	specs[0].Input.Action.File = "changed"
	assert.Equal(t, "a.ts", cp.Actions[0].File)
}

func TestPlanString(t *testing.T) {
	p := NewPlan("p", "r")
	a := plan.NewEdit("a.ts", "x")
	p.Append(proto.StepSpec{Role: proto.RoleImplementer, Input: proto.StepInput{Action: &a}})
	assert.Contains(t, p.String(), "implementer Edit(a.ts)")
	assert.Equal(t, map[StepStatus]int{StepPending: 1}, p.CountByStatus())
}
