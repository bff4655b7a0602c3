package roles

import (
	"context"
	"strings"

	"agentflow/pkg/contextmgr"
	"agentflow/pkg/proto"
	"agentflow/pkg/templates"
)

// Reviewer approves or rejects the accumulated change. It is the only role
// that completes implementation-class plans.
type Reviewer struct {
	base
}

// NewReviewer creates the reviewer agent.
func NewReviewer(deps Deps) (*Reviewer, error) {
	b, err := newBase(proto.RoleReviewer, deps)
	if err != nil {
		return nil, err
	}
	return &Reviewer{base: b}, nil
}

type reviewResponse struct {
	Approved      *bool  `json:"approved"`
	Summary       string `json:"summary"`
	Reason        string `json:"reason"`
	SuggestedRole string `json:"suggested_role"`
}

// Process implements Agent. A response without an explicit decision is an error.
func (r *Reviewer) Process(ctx context.Context, in proto.StepInput, slice *contextmgr.Slice) (*proto.AgentResponse, error) {
	raw, err := r.ask(ctx, templates.ReviewerTemplate, &templates.TemplateData{
		Category: string(in.Category),
	}, slice)
	if err != nil {
		return nil, err
	}

	var resp reviewResponse
	if err := decodeObject(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Approved == nil {
		return nil, invalid("reviewer returned no approval decision")
	}

	if *resp.Approved {
		summary := strings.TrimSpace(resp.Summary)
		if summary == "" {
			summary = "Change approved."
		}
		r.logger.Info("✅ Approved")
		return &proto.AgentResponse{Output: summary, Next: proto.Complete(summary)}, nil
	}

	role := proto.RoleImplementer
	if resp.SuggestedRole == string(proto.RolePlanner) {
		role = proto.RolePlanner
	}
	reason := strings.TrimSpace(resp.Reason)
	if reason == "" {
		return nil, invalid("rejection without a reason")
	}
	r.logger.Info("🔄 Rejected, back to %s: %s", role, reason)
	return &proto.AgentResponse{Output: reason, Next: proto.Reject(reason, role)}, nil
}
