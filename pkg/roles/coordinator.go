package roles

import (
	"context"
	"fmt"
	"strings"

	"agentflow/pkg/contextmgr"
	"agentflow/pkg/proto"
	"agentflow/pkg/templates"
)

// Coordinator classifies requests, proposes the role sequence and repairs
// failed plans.
type Coordinator struct {
	base
}

// NewCoordinator creates the coordinator agent.
func NewCoordinator(deps Deps) (*Coordinator, error) {
	b, err := newBase(proto.RoleCoordinator, deps)
	if err != nil {
		return nil, err
	}
	return &Coordinator{base: b}, nil
}

// worker roles the coordinator may schedule.
func workerRoles() []proto.Role {
	return []proto.Role{proto.RolePlanner, proto.RoleImplementer, proto.RoleVerifier, proto.RoleReviewer}
}

type proposalResponse struct {
	Category string   `json:"category"`
	Answer   string   `json:"answer"`
	Roles    []string `json:"roles"`
}

// ProposePlan classifies the request. Implementation-class sequences are
// normalized to start with the planner and end with the reviewer, which is
// the only role allowed to complete them.
func (c *Coordinator) ProposePlan(ctx context.Context, slice *contextmgr.Slice) (*Proposal, error) {
	raw, err := c.ask(ctx, templates.CoordinatorTemplate, &templates.TemplateData{
		Roles: roleNames(workerRoles()),
	}, slice)
	if err != nil {
		return nil, err
	}

	var resp proposalResponse
	if err := decodeObject(raw, &resp); err != nil {
		return nil, err
	}
	category, err := proto.ParseCategory(resp.Category)
	if err != nil {
		return nil, invalid("%v", err)
	}

	p := &Proposal{Category: category, Answer: strings.TrimSpace(resp.Answer)}
	if category == proto.CategoryDirectAnswer {
		if p.Answer == "" {
			return nil, invalid("direct answer without an answer")
		}
		return p, nil
	}

	for _, name := range resp.Roles {
		role, err := proto.ParseRole(name)
		if err != nil {
			return nil, invalid("%v", err)
		}
		if role == proto.RoleCoordinator {
			continue
		}
		p.Roles = append(p.Roles, role)
	}
	p.Roles = normalizeRoles(category, p.Roles)
	if len(p.Roles) == 0 {
		return nil, invalid("no roles proposed for %s request", category)
	}
	c.logger.Info("🧭 Classified request as %s: %v", category, p.Roles)
	return p, nil
}

func normalizeRoles(category proto.Category, roles []proto.Role) []proto.Role {
	if category.ImplementationClass() {
		// Implementer steps come from the planner's change plan.
		var kept []proto.Role
		for _, r := range roles {
			if r != proto.RoleImplementer {
				kept = append(kept, r)
			}
		}
		roles = kept
		if len(roles) == 0 || roles[0] != proto.RolePlanner {
			roles = append([]proto.Role{proto.RolePlanner}, roles...)
		}
	}
	if category.ImplementationClass() || category == proto.CategoryReview {
		if len(roles) == 0 || roles[len(roles)-1] != proto.RoleReviewer {
			roles = append(roles, proto.RoleReviewer)
		}
	}
	return roles
}

// Process handles a coordinator step: direct answers complete the plan,
// anything else continues.
func (c *Coordinator) Process(ctx context.Context, in proto.StepInput, slice *contextmgr.Slice) (*proto.AgentResponse, error) {
	p, err := c.ProposePlan(ctx, slice)
	if err != nil {
		return nil, err
	}
	resp := &proto.AgentResponse{}
	resp.Set(proto.MetaCategory, p.Category)
	if p.Category == proto.CategoryDirectAnswer {
		resp.Output = p.Answer
		resp.Next = proto.Complete(p.Answer)
		return resp, nil
	}
	resp.Output = fmt.Sprintf("category %s, roles %v", p.Category, p.Roles)
	resp.Next = proto.Continue("")
	return resp, nil
}

type recoveryResponse struct {
	Recoverable *bool  `json:"recoverable"`
	Reason      string `json:"reason"`
	Steps       []struct {
		Role        string `json:"role"`
		Instruction string `json:"instruction"`
	} `json:"steps"`
}

// Recover asks for steps to splice in after a failed step. A refusal or an
// unusable answer is returned as an error.
func (c *Coordinator) Recover(ctx context.Context, req RecoveryRequest, slice *contextmgr.Slice) ([]proto.StepSpec, error) {
	errText := ""
	if req.Err != nil {
		errText = req.Err.Error()
	}
	raw, err := c.ask(ctx, templates.RecoveryTemplate, &templates.TemplateData{
		Roles: roleNames(workerRoles()),
		Extra: map[string]any{
			"Step":  req.StepID,
			"Role":  string(req.Role),
			"Error": errText,
		},
	}, slice)
	if err != nil {
		return nil, err
	}

	var resp recoveryResponse
	if err := decodeObject(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Recoverable == nil {
		return nil, invalid("recovery answer has no recoverable decision")
	}
	if !*resp.Recoverable {
		reason := resp.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return nil, fmt.Errorf("coordinator declined recovery: %s", reason)
	}
	if len(resp.Steps) == 0 {
		return nil, invalid("recovery answer has no steps")
	}

	failed := req.Input.Clone()
	specs := make([]proto.StepSpec, 0, len(resp.Steps))
	for _, s := range resp.Steps {
		role, err := proto.ParseRole(s.Role)
		if err != nil || role == proto.RoleCoordinator {
			return nil, invalid("recovery step role %q", s.Role)
		}
		origin := failed
		specs = append(specs, proto.StepSpec{
			Role: role,
			Input: proto.StepInput{
				Request:     req.Input.Request,
				Category:    req.Input.Category,
				Instruction: s.Instruction,
				Reason:      errText,
				Origin:      &origin,
			},
		})
	}
	c.logger.Info("🩹 Recovery for %s: %d step(s)", req.StepID, len(specs))
	return specs, nil
}
