package roles

import (
	"context"
	"path"
	"strings"

	"agentflow/pkg/contextmgr"
	"agentflow/pkg/plan"
	"agentflow/pkg/proto"
	"agentflow/pkg/templates"
)

// Implementer executes exactly one Edit or Command action.
type Implementer struct {
	base
}

// NewImplementer creates the implementer agent.
func NewImplementer(deps Deps) (*Implementer, error) {
	b, err := newBase(proto.RoleImplementer, deps)
	if err != nil {
		return nil, err
	}
	return &Implementer{base: b}, nil
}

// Process implements Agent.
func (im *Implementer) Process(ctx context.Context, in proto.StepInput, slice *contextmgr.Slice) (*proto.AgentResponse, error) {
	action := in.EffectiveAction()
	if action == nil {
		// Rejected by a checking role without a concrete action to redo.
		if in.Reason != "" {
			return &proto.AgentResponse{
				Output: "no action to revise; asking the planner for a new plan",
				Next:   proto.Reject(in.Reason, proto.RolePlanner),
			}, nil
		}
		return nil, invalid("implementer step carries no action")
	}

	switch action.Kind {
	case plan.KindEdit:
		return im.edit(ctx, in, action, slice)
	case plan.KindCommand:
		return im.command(ctx, in, action, slice)
	default:
		return nil, invalid("implementer cannot execute %s actions", action.Kind)
	}
}

type editResponse struct {
	File     string  `json:"file"`
	Content  *string `json:"content"`
	Summary  string  `json:"summary"`
	Question string  `json:"question"`
}

func (im *Implementer) edit(ctx context.Context, in proto.StepInput, action *plan.Action, slice *contextmgr.Slice) (*proto.AgentResponse, error) {
	raw, err := im.ask(ctx, templates.ImplementerEditTemplate, &templates.TemplateData{
		Reason: in.Reason,
		Extra: map[string]any{
			"File":        action.File,
			"Description": action.Description,
			"Hints":       action.Hints,
			"Answer":      in.Answer,
		},
	}, slice)
	if err != nil {
		return nil, err
	}

	var resp editResponse
	if err := decodeObject(raw, &resp); err != nil {
		return nil, err
	}
	if q := strings.TrimSpace(resp.Question); q != "" && resp.Content == nil {
		im.logger.Info("❓ Question for planner about %s", action.File)
		return &proto.AgentResponse{Output: q, Next: proto.Ask(q, proto.RolePlanner)}, nil
	}
	if resp.Content == nil {
		return nil, invalid("edit response for %s has no content", action.File)
	}
	if path.Clean(resp.File) != path.Clean(action.File) {
		return nil, invalid("response edits %q but the action targets %q", resp.File, action.File)
	}

	summary := resp.Summary
	if summary == "" {
		summary = "updated " + action.File
	}
	out := &proto.AgentResponse{Output: summary, Next: proto.Continue("")}
	out.Set(proto.MetaFileEdit, &proto.FileEdit{File: action.File, Content: *resp.Content, Summary: summary})
	return out, nil
}

type commandResponse struct {
	Cmd string `json:"cmd"`
}

// command passes the action's command through unchanged unless there is
// failure feedback, in which case the model proposes a corrected line.
func (im *Implementer) command(ctx context.Context, in proto.StepInput, action *plan.Action, slice *contextmgr.Slice) (*proto.AgentResponse, error) {
	hints := action.Hints
	if in.Reason != "" {
		hints = append(append([]string(nil), hints...), in.Reason)
	}
	cmd := action.Cmd
	if len(hints) > 0 {
		raw, err := im.ask(ctx, templates.ImplementerCommandTemplate, &templates.TemplateData{
			Extra: map[string]any{
				"Cmd":    action.Cmd,
				"Expect": string(action.Expect),
				"Hints":  hints,
			},
		}, slice)
		if err != nil {
			return nil, err
		}
		var resp commandResponse
		if err := decodeObject(raw, &resp); err != nil {
			return nil, err
		}
		cmd = strings.TrimSpace(resp.Cmd)
		if cmd == "" {
			return nil, invalid("corrected command is empty")
		}
	}

	out := &proto.AgentResponse{Output: cmd, Next: proto.Continue("")}
	out.Set(proto.MetaCommand, cmd)
	return out, nil
}
