// Package roles implements the five agents and the registry the workflow
// engine dispatches through.
package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"agentflow/pkg/agent"
	"agentflow/pkg/config"
	"agentflow/pkg/contextmgr"
	"agentflow/pkg/exec"
	"agentflow/pkg/logx"
	"agentflow/pkg/plan"
	"agentflow/pkg/proto"
	"agentflow/pkg/templates"
)

// ErrInvalidResponse marks model output that does not satisfy the role's
// response contract. It is a step failure, never repaired.
var ErrInvalidResponse = errors.New("invalid agent response")

// Agent turns a step input and a context slice into a response.
type Agent interface {
	Role() proto.Role
	Model() string
	Process(ctx context.Context, in proto.StepInput, slice *contextmgr.Slice) (*proto.AgentResponse, error)
}

// Proposal is the coordinator's initial classification.
type Proposal struct {
	Category proto.Category `json:"category"`
	Roles    []proto.Role   `json:"roles"`
	Answer   string         `json:"answer,omitempty"`
}

// RecoveryRequest describes a failed step to the coordinator.
type RecoveryRequest struct {
	StepID string
	Role   proto.Role
	Input  proto.StepInput
	Err    error
}

// PlanProposer is implemented by agents that can build the initial plan and
// repair failed ones. The workflow engine requires it of the coordinator.
type PlanProposer interface {
	ProposePlan(ctx context.Context, slice *contextmgr.Slice) (*Proposal, error)
	Recover(ctx context.Context, req RecoveryRequest, slice *contextmgr.Slice) ([]proto.StepSpec, error)
}

// Deps are the collaborators agents are built from.
type Deps struct {
	Client   agent.CompletionClient
	Renderer *templates.Renderer
	Executor exec.Executor
	Config   *config.Config
	WorkDir  string
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Client == nil {
		return d, errors.New("agent deps: completion client is required")
	}
	if d.Renderer == nil {
		r, err := templates.NewRenderer()
		if err != nil {
			return d, err
		}
		d.Renderer = r
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
	return d, nil
}

// base carries what every agent shares.
type base struct {
	role   proto.Role
	deps   Deps
	logger *logx.Logger
}

func newBase(role proto.Role, deps Deps) (base, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return base{}, err
	}
	return base{role: role, deps: deps, logger: logx.NewLogger(string(role))}, nil
}

func (b *base) Role() proto.Role { return b.role }

func (b *base) Model() string { return b.deps.Client.Model(b.role) }

// ask renders the system prompt and sends the slice as the payload.
func (b *base) ask(ctx context.Context, tmpl templates.PromptTemplate, data *templates.TemplateData, slice *contextmgr.Slice) (string, error) {
	system, err := b.deps.Renderer.Render(tmpl, data)
	if err != nil {
		return "", err
	}
	payload := ""
	if slice != nil {
		payload = slice.Render()
	}
	return b.deps.Client.Invoke(ctx, b.role, system, payload)
}

// decodeObject extracts the single JSON object from model text into v.
func decodeObject(raw string, v any) error {
	text, err := plan.ExtractJSON(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))
}

func roleNames(roles []proto.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
