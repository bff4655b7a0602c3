package exec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecSuccess(t *testing.T) {
	e := NewLocalExec()
	res, err := e.Run(context.Background(), Shell("echo hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "local", res.ExecutorUsed)
}

func TestLocalExecNonZeroExit(t *testing.T) {
	res, err := NewLocalExec().Run(context.Background(), Shell("echo oops >&2; exit 3"), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "oops\n", res.Combined())
}

func TestLocalExecWorkDir(t *testing.T) {
	dir := t.TempDir()
	res, err := NewLocalExec().Run(context.Background(), Shell("pwd"), &Opts{WorkDir: dir})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, dir)

	_, err = NewLocalExec().Run(context.Background(), Shell("pwd"), &Opts{WorkDir: dir + "/missing"})
	assert.Error(t, err)
}

func TestLocalExecTimeout(t *testing.T) {
	res, err := NewLocalExec().Run(context.Background(), Shell("sleep 5"), &Opts{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
}

func TestLocalExecEmptyCommand(t *testing.T) {
	_, err := NewLocalExec().Run(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestLocalExecEnv(t *testing.T) {
	res, err := NewLocalExec().Run(context.Background(), Shell("echo $AGENTFLOW_TEST"), &Opts{Env: []string{"AGENTFLOW_TEST=yes"}})
	require.NoError(t, err)
	assert.Equal(t, "yes\n", res.Stdout)
}

func TestLocalExecCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := NewLocalExec().Run(ctx, Shell("sleep 5"), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
}
