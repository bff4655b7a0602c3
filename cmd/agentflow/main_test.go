package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/config"
	"agentflow/pkg/logx"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "agentflow dev (commit none, built unknown)\n", out)
}

func TestSecretsSetAndList(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(passwordEnv, "hunter2")

	_, err := execute(t, "sk-test\n", "secrets", "set", "ANTHROPIC_API_KEY", "--projectdir", dir)
	require.NoError(t, err)
	_, err = execute(t, "sk-other\n", "secrets", "set", "OPENAI_API_KEY", "-p", dir)
	require.NoError(t, err)

	out, err := execute(t, "", "secrets", "list", "-p", dir)
	require.NoError(t, err)
	assert.Equal(t, "ANTHROPIC_API_KEY\nOPENAI_API_KEY\n", out)

	secrets, err := config.DecryptSecretsFile(dir, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", secrets["ANTHROPIC_API_KEY"])
}

func TestSecretsSetRejectsEmptyValue(t *testing.T) {
	t.Setenv(passwordEnv, "hunter2")
	_, err := execute(t, "\n", "secrets", "set", "X", "-p", t.TempDir())
	assert.ErrorContains(t, err, "empty value")
}

func TestLogFileFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentflow.log")
	t.Cleanup(func() { logx.SetOutput(nil) })
	_, err := execute(t, "", "version", "--log-file", path)
	require.NoError(t, err)

	logx.NewLogger("test").Info("hello")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[test] INFO: hello")
}

func TestRunRequiresRequest(t *testing.T) {
	_, err := execute(t, "", "run")
	assert.Error(t, err)
}
