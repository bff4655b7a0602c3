package roles

import (
	"context"
	"fmt"
	"strings"

	"agentflow/pkg/contextmgr"
	"agentflow/pkg/plan"
	"agentflow/pkg/proto"
	"agentflow/pkg/templates"
)

// Planner turns a request into a ChangePlan. Its output is strictly the
// plan; anything else fails validation.
type Planner struct {
	base
}

// NewPlanner creates the planner agent.
func NewPlanner(deps Deps) (*Planner, error) {
	b, err := newBase(proto.RolePlanner, deps)
	if err != nil {
		return nil, err
	}
	return &Planner{base: b}, nil
}

// Process implements Agent.
func (p *Planner) Process(ctx context.Context, in proto.StepInput, slice *contextmgr.Slice) (*proto.AgentResponse, error) {
	if in.Question != "" {
		return p.answer(ctx, in, slice)
	}

	raw, err := p.ask(ctx, templates.PlannerTemplate, &templates.TemplateData{
		Category:    string(in.Category),
		Instruction: in.Instruction,
		Reason:      in.Reason,
		TestCommand: p.deps.Config.Checks.Test,
	}, slice)
	if err != nil {
		return nil, err
	}

	cp, err := plan.DecodeText(raw)
	if err != nil {
		return nil, fmt.Errorf("planner output rejected: %w", err)
	}
	p.logger.Info("📝 Plan with %d action(s)", cp.Len())

	resp := &proto.AgentResponse{Output: describePlan(cp), Next: proto.Continue("")}
	resp.Set(proto.MetaChangePlan, cp)
	return resp, nil
}

// answer handles a question routed from another role. The plan may contain
// only messages; their contents form the answer.
func (p *Planner) answer(ctx context.Context, in proto.StepInput, slice *contextmgr.Slice) (*proto.AgentResponse, error) {
	raw, err := p.ask(ctx, templates.PlannerAnswerTemplate, &templates.TemplateData{
		Extra: map[string]any{
			"Question": in.Question,
			"AskedBy":  string(in.AskedBy),
		},
	}, slice)
	if err != nil {
		return nil, err
	}
	cp, err := plan.DecodeText(raw)
	if err != nil {
		return nil, fmt.Errorf("planner answer rejected: %w", err)
	}

	var parts []string
	for _, a := range cp.Actions {
		if a.Kind != plan.KindMessage {
			return nil, invalid("answer contains a %s action", a.Kind)
		}
		parts = append(parts, a.Content)
	}
	if len(parts) == 0 {
		return nil, invalid("empty answer")
	}
	return &proto.AgentResponse{Output: strings.Join(parts, "\n"), Next: proto.Continue("")}, nil
}

func describePlan(cp *plan.ChangePlan) string {
	if cp.Len() == 0 {
		return "no changes needed"
	}
	lines := make([]string, 0, cp.Len())
	for i, a := range cp.Actions {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, a.String()))
	}
	return strings.Join(lines, "\n")
}
