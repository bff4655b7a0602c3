// Package session holds the per-run shared state the orchestrator owns.
package session

import (
	"errors"
	"sync"
	"time"

	"agentflow/pkg/proto"
)

// ErrFrozen is returned by mutators after Freeze.
var ErrFrozen = errors.New("agent context is frozen")

// TaskStatus is the coarse status of the run.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
)

// HistoryEntry is one conversation message.
type HistoryEntry struct {
	Time    time.Time  `json:"time"`
	Author  proto.Role `json:"author"`
	Content string     `json:"content"`
	StepID  string     `json:"step_id,omitempty"`
}

// TestResult is one recorded check or test execution.
type TestResult struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Passed   bool          `json:"passed"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// TaskState tracks progress of the run.
type TaskState struct {
	Status       TaskStatus   `json:"status"`
	FilesTouched []string     `json:"files_touched,omitempty"`
	Errors       []string     `json:"errors,omitempty"`
	TestResults  []TestResult `json:"test_results,omitempty"`
	// Diff is the accumulated unified diff of all applied edits.
	Diff string `json:"diff,omitempty"`
}

func (t TaskState) clone() TaskState {
	out := t
	out.FilesTouched = append([]string(nil), t.FilesTouched...)
	out.Errors = append([]string(nil), t.Errors...)
	out.TestResults = append([]TestResult(nil), t.TestResults...)
	return out
}

// RepoSnapshot describes the repository at the start of the run.
type RepoSnapshot struct {
	Root   string   `json:"root"`
	Files  []string `json:"files"`
	Branch string   `json:"branch,omitempty"`
	Clean  bool     `json:"clean"`
	IsGit  bool     `json:"is_git"`
}

func (r RepoSnapshot) clone() RepoSnapshot {
	out := r
	out.Files = append([]string(nil), r.Files...)
	return out
}

// AgentContext is the mutable session state. Agents never see it directly;
// the context builder projects read-only slices from it.
type AgentContext struct {
	mu      sync.RWMutex
	request string
	history []HistoryEntry
	task    TaskState
	repo    RepoSnapshot
	bag     map[proto.Role]map[string]any
	frozen  bool
	now     func() time.Time
}

// New creates a context for request and records it as the first history entry.
func New(request string, repo RepoSnapshot) *AgentContext {
	c := &AgentContext{
		request: request,
		task:    TaskState{Status: TaskPending},
		repo:    repo.clone(),
		bag:     make(map[proto.Role]map[string]any),
		now:     time.Now,
	}
	c.history = append(c.history, HistoryEntry{Time: c.now(), Author: proto.RoleUser, Content: request})
	return c
}

func (c *AgentContext) mutate(fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ErrFrozen
	}
	fn()
	return nil
}

// Request returns the user's request.
func (c *AgentContext) Request() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.request
}

// History returns a copy of the conversation history.
func (c *AgentContext) History() []HistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]HistoryEntry(nil), c.history...)
}

// Task returns a copy of the task state.
func (c *AgentContext) Task() TaskState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.task.clone()
}

// Repo returns a copy of the repository snapshot.
func (c *AgentContext) Repo() RepoSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.repo.clone()
}

// Bag returns a copy of the role-specific values.
func (c *AgentContext) Bag(role proto.Role) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.bag[role]))
	for k, v := range c.bag[role] {
		out[k] = v
	}
	return out
}

// AppendHistory adds an entry authored by author.
func (c *AgentContext) AppendHistory(author proto.Role, content, stepID string) error {
	return c.mutate(func() {
		c.history = append(c.history, HistoryEntry{Time: c.now(), Author: author, Content: content, StepID: stepID})
	})
}

// SetStatus updates the task status.
func (c *AgentContext) SetStatus(status TaskStatus) error {
	return c.mutate(func() { c.task.Status = status })
}

// RecordFileTouched adds file to the touched set once.
func (c *AgentContext) RecordFileTouched(file string) error {
	return c.mutate(func() {
		for _, f := range c.task.FilesTouched {
			if f == file {
				return
			}
		}
		c.task.FilesTouched = append(c.task.FilesTouched, file)
	})
}

// RecordError appends an error message.
func (c *AgentContext) RecordError(msg string) error {
	return c.mutate(func() { c.task.Errors = append(c.task.Errors, msg) })
}

// RecordTestResult appends a check result.
func (c *AgentContext) RecordTestResult(r TestResult) error {
	return c.mutate(func() { c.task.TestResults = append(c.task.TestResults, r) })
}

// SetDiff replaces the accumulated diff.
func (c *AgentContext) SetDiff(diff string) error {
	return c.mutate(func() { c.task.Diff = diff })
}

// SetBagValue stores a role-specific value.
func (c *AgentContext) SetBagValue(role proto.Role, key string, value any) error {
	return c.mutate(func() {
		if c.bag[role] == nil {
			c.bag[role] = make(map[string]any)
		}
		c.bag[role][key] = value
	})
}

// Freeze marks the task canceled and rejects further mutation. Reads keep working.
func (c *AgentContext) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return
	}
	if c.task.Status == TaskRunning || c.task.Status == TaskPending {
		c.task.Status = TaskCanceled
	}
	c.frozen = true
}
