package mocks

import (
	"context"
	"strings"
	"sync"

	"agentflow/pkg/exec"
)

// MockExecutor implements exec.Executor. Results are keyed by the joined
// command line; unknown commands succeed with empty output.
type MockExecutor struct {
	results map[string][]exec.Result
	errs    map[string]error
	calls   [][]string
	mu      sync.Mutex
}

// NewMockExecutor returns an executor with no scripted results.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		results: map[string][]exec.Result{},
		errs:    map[string]error{},
	}
}

func key(cmd []string) string {
	// Shell-wrapped commands are keyed by their script.
	if len(cmd) == 3 && cmd[0] == "sh" && cmd[1] == "-c" {
		return cmd[2]
	}
	return strings.Join(cmd, " ")
}

// On queues results for a command line. Each call consumes one result and
// the last one repeats.
func (m *MockExecutor) On(commandLine string, results ...exec.Result) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[commandLine] = append(m.results[commandLine], results...)
	return m
}

// OnExit is shorthand for a single result with the given exit code and output.
func (m *MockExecutor) OnExit(commandLine string, exitCode int, output string) *MockExecutor {
	return m.On(commandLine, exec.Result{ExitCode: exitCode, Stdout: output})
}

// FailWith makes a command line return err from Run.
func (m *MockExecutor) FailWith(commandLine string, err error) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[commandLine] = err
	return m
}

// Run implements exec.Executor.
func (m *MockExecutor) Run(ctx context.Context, cmd []string, _ *exec.Opts) (exec.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]string(nil), cmd...))
	if err := ctx.Err(); err != nil {
		return exec.Result{}, err
	}
	k := key(cmd)
	if err, ok := m.errs[k]; ok {
		return exec.Result{}, err
	}
	queue := m.results[k]
	if len(queue) == 0 {
		return exec.Result{ExecutorUsed: m.Name()}, nil
	}
	r := queue[0]
	if len(queue) > 1 {
		m.results[k] = queue[1:]
	}
	r.ExecutorUsed = m.Name()
	return r, nil
}

// Name implements exec.Executor.
func (m *MockExecutor) Name() string { return "mock" }

// Calls returns the command lines run so far.
func (m *MockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = key(c)
	}
	return out
}

// CountCalls returns how many times commandLine was run.
func (m *MockExecutor) CountCalls(commandLine string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == commandLine {
			n++
		}
	}
	return n
}
