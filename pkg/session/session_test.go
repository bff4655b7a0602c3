package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/proto"
)

func TestNewRecordsRequest(t *testing.T) {
	c := New("add a flag", RepoSnapshot{Root: "/repo", Files: []string{"a.go"}})

	h := c.History()
	require.Len(t, h, 1)
	assert.Equal(t, proto.RoleUser, h[0].Author)
	assert.Equal(t, "add a flag", h[0].Content)
	assert.Equal(t, TaskPending, c.Task().Status)
}

func TestAccessorsReturnCopies(t *testing.T) {
	c := New("r", RepoSnapshot{Files: []string{"a.go"}})
	require.NoError(t, c.RecordFileTouched("a.go"))
	require.NoError(t, c.RecordFileTouched("a.go"))

	task := c.Task()
	task.FilesTouched[0] = "mutated"
	repo := c.Repo()
	repo.Files[0] = "mutated"
	h := c.History()
	h[0].Content = "mutated"

	assert.Equal(t, []string{"a.go"}, c.Task().FilesTouched)
	assert.Equal(t, []string{"a.go"}, c.Repo().Files)
	assert.Equal(t, "r", c.History()[0].Content)
}

func TestFreezeKeepsStateInspectable(t *testing.T) {
	c := New("r", RepoSnapshot{})
	require.NoError(t, c.SetStatus(TaskRunning))
	require.NoError(t, c.AppendHistory(proto.RolePlanner, "plan", "step-1"))

	c.Freeze()
	assert.ErrorIs(t, c.SetBagValue(proto.RoleVerifier, "k", 1), ErrFrozen)
	assert.Equal(t, TaskCanceled, c.Task().Status)
	assert.ErrorIs(t, c.AppendHistory(proto.RoleSystem, "late", ""), ErrFrozen)
	assert.ErrorIs(t, c.RecordError("late"), ErrFrozen)
	assert.Len(t, c.History(), 2)
}

func TestFreezePreservesTerminalStatus(t *testing.T) {
	c := New("r", RepoSnapshot{})
	require.NoError(t, c.SetStatus(TaskFailed))
	c.Freeze()
	assert.Equal(t, TaskFailed, c.Task().Status)
}

func TestBag(t *testing.T) {
	c := New("r", RepoSnapshot{})
	require.NoError(t, c.SetBagValue(proto.RoleVerifier, "last_run", 3))
	bag := c.Bag(proto.RoleVerifier)
	bag["last_run"] = 4
	assert.Equal(t, 3, c.Bag(proto.RoleVerifier)["last_run"])
	assert.Empty(t, c.Bag(proto.RolePlanner))
}
