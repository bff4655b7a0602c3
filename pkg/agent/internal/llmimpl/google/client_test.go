package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/agent/llm"
	"agentflow/pkg/agent/llmerrors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &GeminiClient{apiKey: "test-key", model: "gemini-2.5-flash", baseURL: srv.URL}
}

func TestCompleteReadsUsageMetadata(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-2.5-flash:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"verified"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":21,"candidatesTokenCount":2,"totalTokenCount":23}}`))
	})

	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("verify"), llm.NewUserMessage("diff"),
	}))
	require.NoError(t, err)
	assert.Equal(t, "verified", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, llm.Usage{InputTokens: 21, OutputTokens: 2, Reported: true}, resp.Usage)
}

func TestCompleteClassifiesRateLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource exhausted. Please retry after 5 seconds.","status":"RESOURCE_EXHAUSTED"}}`))
	})
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("x")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit))
}

func TestConvertMessages(t *testing.T) {
	contents, err := convertMessagesToGemini([]llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("u"),
		{Role: llm.RoleAssistant, Content: "a"},
	})
	require.NoError(t, err)
	require.Len(t, contents, 2)
	assert.Equal(t, "model", contents[1].Role)

	_, err = convertMessagesToGemini([]llm.CompletionMessage{llm.NewSystemMessage("only")})
	require.Error(t, err)
}
