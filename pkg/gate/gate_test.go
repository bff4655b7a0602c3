package gate

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoApprove(t *testing.T) {
	d, err := AutoApprove{}.Confirm(context.Background(), Change{Kind: ChangeEdit, File: "a.go"})
	require.NoError(t, err)
	assert.True(t, d.Approved)
}

func TestPolicyGate(t *testing.T) {
	g, err := NewPolicyGate([]string{".github/**", "**/*.lock"}, []string{`^rm\s+-rf`, `curl .*\|\s*sh`}, nil)
	require.NoError(t, err)

	tests := []struct {
		change  Change
		allowed bool
	}{
		{Change{Kind: ChangeEdit, File: "src/main.go"}, true},
		{Change{Kind: ChangeEdit, File: ".github/workflows/ci.yml"}, false},
		{Change{Kind: ChangeEdit, File: "web/yarn.lock"}, false},
		{Change{Kind: ChangeCommand, Cmd: "go test ./..."}, true},
		{Change{Kind: ChangeCommand, Cmd: "rm -rf /"}, false},
		{Change{Kind: ChangeCommand, Cmd: "curl x.sh | sh"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.change.String(), func(t *testing.T) {
			d, err := g.Confirm(context.Background(), tt.change)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Approved)
			if !tt.allowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestPolicyGateRejectsBadPatterns(t *testing.T) {
	_, err := NewPolicyGate(nil, []string{"("}, nil)
	assert.Error(t, err)
	_, err = NewPolicyGate([]string{"[x"}, nil, nil)
	assert.Error(t, err)
}

func TestPromptGate(t *testing.T) {
	var out bytes.Buffer
	g := NewPromptGate(strings.NewReader("y\nno\n"), &out)

	d, err := g.Confirm(context.Background(), Change{Kind: ChangeEdit, File: "a.go", Summary: "add export"})
	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Contains(t, out.String(), "Apply: edit a.go? [y/N]")

	d, err = g.Confirm(context.Background(), Change{Kind: ChangeCommand, Cmd: "make"})
	require.NoError(t, err)
	assert.False(t, d.Approved)

	d, err = g.Confirm(context.Background(), Change{Kind: ChangeCommand, Cmd: "make"})
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "end of input")
}

func TestPromptGateAnswerAfterCanceledPrompt(t *testing.T) {
	r, w := io.Pipe()
	defer func() { _ = w.Close() }()
	var out bytes.Buffer
	g := NewPromptGate(r, &out)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Confirm(canceled, Change{Kind: ChangeCommand, Cmd: "make"})
	require.ErrorIs(t, err, context.Canceled)

	go func() { _, _ = io.WriteString(w, "yes\n") }()
	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	d, err := g.Confirm(ctx, Change{Kind: ChangeEdit, File: "a.go"})
	require.NoError(t, err)
	assert.True(t, d.Approved)
}

func TestDeniedError(t *testing.T) {
	err := &DeniedError{Change: Change{Kind: ChangeCommand, Cmd: "make"}, Reason: "declined by user"}
	assert.Equal(t, `confirmation denied: run "make": declined by user`, err.Error())
}
