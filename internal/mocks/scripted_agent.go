package mocks

import (
	"context"
	"fmt"
	"sync"

	"agentflow/pkg/contextmgr"
	"agentflow/pkg/proto"
)

// Turn is one scripted agent outcome.
type Turn struct {
	Response *proto.AgentResponse
	Err      error
}

// ScriptedAgent satisfies roles.Agent by replaying turns in order. Once the
// script is exhausted it answers Continue.
type ScriptedAgent struct {
	// ProcessFunc, when set, replaces the script.
	ProcessFunc func(ctx context.Context, in proto.StepInput, slice *contextmgr.Slice) (*proto.AgentResponse, error)

	role   proto.Role
	turns  []Turn
	inputs []proto.StepInput
	mu     sync.Mutex
}

// NewScriptedAgent creates an agent for role playing turns.
func NewScriptedAgent(role proto.Role, turns ...Turn) *ScriptedAgent {
	return &ScriptedAgent{role: role, turns: turns}
}

// Respond is shorthand for a turn returning output with next.
func Respond(output string, next proto.NextAction) Turn {
	return Turn{Response: &proto.AgentResponse{Output: output, Next: next}}
}

// Role returns the agent's role.
func (a *ScriptedAgent) Role() proto.Role { return a.role }

// Model returns a fixed model name.
func (a *ScriptedAgent) Model() string { return "scripted" }

// Process replays the next turn.
func (a *ScriptedAgent) Process(ctx context.Context, in proto.StepInput, slice *contextmgr.Slice) (*proto.AgentResponse, error) {
	a.mu.Lock()
	a.inputs = append(a.inputs, in.Clone())
	fn := a.ProcessFunc
	var turn *Turn
	if fn == nil && len(a.turns) > 0 {
		turn = &a.turns[0]
		a.turns = a.turns[1:]
	}
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, in, slice)
	}
	if turn == nil {
		return &proto.AgentResponse{Output: fmt.Sprintf("%s done", a.role), Next: proto.Continue("")}, nil
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	return turn.Response, nil
}

// Inputs returns the inputs seen so far.
func (a *ScriptedAgent) Inputs() []proto.StepInput {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]proto.StepInput(nil), a.inputs...)
}

// Calls returns how many times Process ran.
func (a *ScriptedAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inputs)
}
