package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/agent/llm"
	"agentflow/pkg/agent/llmerrors"
)

type fixed struct{ content string }

func (f fixed) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
	return llm.CompletionResponse{Content: f.content, StopReason: "end_turn"}, nil
}

func (fixed) GetModelName() string { return "fixed" }

func TestEmptyResponse(t *testing.T) {
	_, err := EmptyResponse()(fixed{content: "  \n"}).Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse))

	resp, err := EmptyResponse()(fixed{content: "hi"}).Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
}
