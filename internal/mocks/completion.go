package mocks

import (
	"context"
	"fmt"
	"sync"

	"agentflow/pkg/proto"
)

// CompletionCall is one captured Invoke.
type CompletionCall struct {
	Role    proto.Role
	System  string
	Payload string
}

// MockCompletion implements agent.CompletionClient with per-role scripted replies.
type MockCompletion struct {
	replies map[proto.Role][]Step
	models  map[proto.Role]string
	calls   []CompletionCall
	mu      sync.Mutex
}

// NewMockCompletion creates an empty mock; unscripted roles fail.
func NewMockCompletion() *MockCompletion {
	return &MockCompletion{
		replies: make(map[proto.Role][]Step),
		models:  make(map[proto.Role]string),
	}
}

// Reply queues text answers for role. The last reply repeats.
func (m *MockCompletion) Reply(role proto.Role, contents ...string) *MockCompletion {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contents {
		m.replies[role] = append(m.replies[role], Step{Content: c})
	}
	return m
}

// Fail queues an error for role.
func (m *MockCompletion) Fail(role proto.Role, err error) *MockCompletion {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[role] = append(m.replies[role], Step{Err: err})
	return m
}

// SetModel sets the model reported for role.
func (m *MockCompletion) SetModel(role proto.Role, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[role] = model
}

// Invoke implements agent.CompletionClient.
func (m *MockCompletion) Invoke(_ context.Context, role proto.Role, systemPrompt, payload string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, CompletionCall{Role: role, System: systemPrompt, Payload: payload})

	queue := m.replies[role]
	if len(queue) == 0 {
		return "", fmt.Errorf("mock completion: no reply scripted for %s", role)
	}
	step := queue[0]
	if len(queue) > 1 {
		m.replies[role] = queue[1:]
	}
	if step.Err != nil {
		return "", step.Err
	}
	return step.Content, nil
}

// Model implements agent.CompletionClient.
func (m *MockCompletion) Model(role proto.Role) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if model, ok := m.models[role]; ok {
		return model
	}
	return "mock-model"
}

// Calls returns the captured calls.
func (m *MockCompletion) Calls() []CompletionCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionCall(nil), m.calls...)
}

// CallsFor returns the captured calls for role.
func (m *MockCompletion) CallsFor(role proto.Role) []CompletionCall {
	var out []CompletionCall
	for _, c := range m.Calls() {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}
